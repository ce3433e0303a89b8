// Package upstream implements UpstreamLink (spec §4.5) and
// BackpressureCoordinator (spec §4.7): one outbound TCP (optionally TLS)
// connection per client connection per cluster, demultiplexing responses
// by stream-id, and the pause/resume plumbing that propagates
// backpressure across the three sockets of a connection.
package upstream

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"go.uber.org/zap"

	"github.com/cppla/cql-dualproxy/internal/proto"
)

const supportedOpCode = primitive.OpCodeSupported

// streamSlots is the dense array design note from spec §9: CQL stream
// ids are signed 16-bit, so pending responses are correlated through a
// fixed-size array indexed by uint16(streamId) rather than a hash map.
const streamSlots = 1 << 16

// Result is what a CompletionSlot is eventually filled with: either a
// response frame from the upstream, or an error (upstream closed,
// client gone, framing error).
type Result struct {
	Frame *frame.RawFrame
	Err   error
}

// CompletionSlot is fulfilled exactly once by the owning Link's receive
// loop (or by Close on teardown) and read exactly once by the
// orchestrator.
type CompletionSlot chan Result

// SupportedHook lets the source Link rewrite a SUPPORTED response before
// it reaches the orchestrator (spec §4.5 step 4). Nil for the target
// link, which never intercepts.
type SupportedHook func(raw *frame.RawFrame) (*frame.RawFrame, error)

// Link owns one outbound socket to one cluster for the lifetime of one
// client connection.
type Link struct {
	Identifier string
	Address    string

	logger *zap.Logger

	conn      net.Conn
	splitter  *proto.Splitter
	supported SupportedHook

	writeMu sync.Mutex

	mu      sync.Mutex
	pending [streamSlots]CompletionSlot

	pauser Pauser // controls the opposite socket's reader (spec §9 design note)
	gate   *Gate  // paused/resumed by this connection's BackpressureCoordinator to stop Run reading more responses

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens the upstream connection (spec §4.5 step 1: Connect). tlsCfg
// nil means a plain TCP connection; a non-nil config is used as-is (the
// trust-all policy of spec §6/§9 is the caller's responsibility to set
// via InsecureSkipVerify).
func Dial(ctx context.Context, identifier, address string, tlsCfg *tls.Config, maxFrameLength uint32, logger *zap.Logger) (*Link, error) {
	dialer := &net.Dialer{}
	var conn net.Conn
	var err error
	if tlsCfg != nil {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsCfg}).DialContext(ctx, "tcp", address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s %s: %w", identifier, address, err)
	}
	return &Link{
		Identifier: identifier,
		Address:    address,
		logger:     logger,
		conn:       conn,
		splitter:   proto.NewSplitter(maxFrameLength),
		closed:     make(chan struct{}),
	}, nil
}

// SetSupportedHook installs the source-only SUPPORTED interception.
func (l *Link) SetSupportedHook(hook SupportedHook) { l.supported = hook }

// SetPauser installs the backpressure capability after Dial (spec §9: an
// abstract capability, not a back-pointer).
func (l *Link) SetPauser(p Pauser) { l.pauser = p }

// SetReadGate installs the Gate that pauses this link's own receive
// loop: the client outbox backing up pauses both links' Gates so an
// unread client never lets source/target responses accumulate unbounded
// (spec §4.7, "server→client write full: pause both UpstreamLinks'
// receivers").
func (l *Link) SetReadGate(g *Gate) { l.gate = g }

// Run starts the link's own receive loop (spec §4.5 step 3). It returns
// when the connection closes; callers should run it in its own goroutine.
func (l *Link) Run() {
	for {
		if l.gate != nil {
			l.gate.Wait()
		}

		raw, err := l.splitter.Next(l.conn)
		if err != nil {
			l.failAllPending(err)
			return
		}

		if l.supported != nil && raw.Header.OpCode == supportedOpCode {
			rewritten, err := l.supported(raw)
			if err != nil {
				l.logger.Warn("SUPPORTED interception failed, forwarding unchanged",
					zap.String("upstream", l.Identifier), zap.Error(err))
			} else {
				raw = rewritten
			}
		}

		slot, ok := l.take(raw.Header.StreamId)
		if !ok {
			l.logger.Warn("response for unknown stream id, dropping",
				zap.String("upstream", l.Identifier), zap.Int16("streamId", raw.Header.StreamId))
			continue
		}
		slot <- Result{Frame: raw}
	}
}

// Send writes req to the upstream socket and returns the CompletionSlot
// that will carry the response (spec §4.5 step 2). It is an error for
// the caller to reuse a stream-id already in flight on this link
// (spec §4.5 / "stream-id collision").
func (l *Link) Send(req *frame.RawFrame) (CompletionSlot, error) {
	slot := make(CompletionSlot, 1)
	if err := l.insert(req.Header.StreamId, slot); err != nil {
		return nil, err
	}

	err := l.write(req)

	if err != nil {
		if taken, ok := l.take(req.Header.StreamId); ok {
			close(taken)
		}
		return nil, fmt.Errorf("write to %s: %w", l.Identifier, err)
	}
	return slot, nil
}

// Close tears the link down by closing its socket; the receive loop (Run)
// then fails every outstanding slot with an "upstream closed" error
// (spec §4.5 step 5).
func (l *Link) Close() {
	l.closeOnce.Do(func() {
		close(l.closed)
		_ = l.conn.Close()
		if l.gate != nil {
			l.gate.Resume() // unstick Run if it's parked in gate.Wait so it can observe the closed conn
		}
	})
}

// slowWriteThreshold is how long a write to this upstream may block
// before the connection's client-facing reader is paused (spec §4.7:
// "client→server write full on UpstreamLink: pause the client socket's
// reader").
const slowWriteThreshold = 10 * time.Millisecond

func (l *Link) write(req *frame.RawFrame) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	done := make(chan error, 1)
	go func() { done <- l.splitter.Encode(req, l.conn) }()

	if l.pauser == nil {
		return <-done
	}

	select {
	case err := <-done:
		return err
	case <-time.After(slowWriteThreshold):
		l.pauser.Pause()
		err := <-done
		l.pauser.Resume()
		return err
	}
}

func (l *Link) insert(streamID int16, slot CompletionSlot) error {
	idx := uint16(streamID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending[idx] != nil {
		return fmt.Errorf("stream id %d already in flight on %s", streamID, l.Identifier)
	}
	l.pending[idx] = slot
	return nil
}

func (l *Link) take(streamID int16) (CompletionSlot, bool) {
	idx := uint16(streamID)
	l.mu.Lock()
	defer l.mu.Unlock()
	slot := l.pending[idx]
	if slot == nil {
		return nil, false
	}
	l.pending[idx] = nil
	return slot, true
}

func (l *Link) failAllPending(cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, slot := range l.pending {
		if slot == nil {
			continue
		}
		slot <- Result{Err: fmt.Errorf("upstream %s closed: %w", l.Identifier, cause)}
		l.pending[i] = nil
	}
}
