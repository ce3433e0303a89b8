// Package orchestrator implements RequestOrchestrator (spec §4.6): the
// per-client-connection pipeline that ties FrameSplitter, FastInspector,
// ProtocolGuard, QueryRewriter and the two UpstreamLinks together.
package orchestrator

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/datastax/go-cassandra-native-protocol/frame"
	"go.uber.org/zap"

	"github.com/cppla/cql-dualproxy/internal/config"
	"github.com/cppla/cql-dualproxy/internal/metrics"
	"github.com/cppla/cql-dualproxy/internal/proto"
	"github.com/cppla/cql-dualproxy/internal/rewrite"
	"github.com/cppla/cql-dualproxy/internal/upstream"
)

// clientOutboxCapacity bounds how many response frames may be queued for
// a client that reads slowly before backpressure kicks in (spec §4.7's
// "backpressure safety" property: memory stays bounded under a slow
// client that never reads).
const clientOutboxCapacity = 256

// Connection owns the three sockets (client + two upstreams) for one
// accepted client and runs until any of them closes.
type Connection struct {
	cfg     *config.Listener
	logger  *zap.Logger
	metrics metrics.Handle

	client   net.Conn
	splitter *proto.Splitter
	guard    *proto.Guard
	rewriter *rewrite.Rewriter

	source *upstream.Link
	target *upstream.Link

	bp           *upstream.Backpressure
	clientOutbox *upstream.Outbox
	clientGate   *upstream.Gate

	wg sync.WaitGroup

	closeOnce sync.Once
	failed    chan struct{}
	failErr   error
}

// New constructs a Connection. The two upstream links are dialed here
// (spec §4.5 step 1) so that a connect failure can be reported to the
// caller before the client socket is ever read from.
func New(ctx context.Context, client net.Conn, cfg *config.Listener, logger *zap.Logger, mh metrics.Handle) (*Connection, error) {
	var tlsCfg *tls.Config
	if cfg.TLSCert != "" {
		tlsCfg = &tls.Config{InsecureSkipVerify: true} // trust-all upstream policy, spec §6/§9
	}

	source, err := upstream.Dial(ctx, cfg.SourceIdentifier, fmt.Sprintf("%s:%d", cfg.SourceHost, cfg.SourcePort), tlsCfg, cfg.MaxFrameLength, logger)
	if err != nil {
		return nil, err
	}
	target, err := upstream.Dial(ctx, cfg.TargetIdentifier, fmt.Sprintf("%s:%d", cfg.TargetHost, cfg.TargetPort), tlsCfg, cfg.MaxFrameLength, logger)
	if err != nil {
		source.Close()
		return nil, err
	}

	c := &Connection{
		cfg:      cfg,
		logger:   logger,
		metrics:  mh,
		client:   client,
		splitter: proto.NewSplitter(cfg.MaxFrameLength),
		guard:    proto.NewGuard(cfg.ProtocolVersions),
		rewriter: rewrite.New(),
		source:   source,
		target:   target,
		failed:   make(chan struct{}),
	}

	clientAddr := client.RemoteAddr().String()
	c.bp = upstream.NewBackpressure(
		func(d time.Duration) { mh.ClientSocketPaused(clientAddr, cfg.Wait, d) },
		func(d time.Duration) { mh.ServerSocketPaused(source.Address, source.Identifier, d) },
		func(d time.Duration) { mh.ServerSocketPaused(target.Address, target.Identifier, d) },
	)
	c.clientGate = c.bp.Client
	c.clientOutbox = upstream.NewOutbox(clientOutboxCapacity, clientPauser{c.bp})

	// "client→server write full on UpstreamLink: pause the client
	// socket's reader" (spec §4.7) — each link pauses the same gate the
	// read loop below waits on.
	source.SetPauser(c.bp.Client)
	target.SetPauser(c.bp.Client)

	// "server→client write full: pause both UpstreamLinks' receivers"
	// (spec §4.7) — the client outbox's Pause/Resume (wired via
	// clientPauser above) controls these two gates.
	source.SetReadGate(c.bp.Source)
	target.SetReadGate(c.bp.Target)

	if cfg.ProtocolVersions != nil || cfg.CQLVersions != nil {
		source.SetSupportedHook(c.interceptSupported)
	}

	return c, nil
}

// clientPauser adapts Backpressure's upstream-pausing methods to the
// Pauser interface Outbox expects, so the client outbox can pause both
// upstream receivers when it backs up (spec §4.7's other direction).
type clientPauser struct{ bp *upstream.Backpressure }

func (p clientPauser) Pause()  { p.bp.PauseUpstreamReads() }
func (p clientPauser) Resume() { p.bp.ResumeUpstreamReads() }

// Serve runs the connection until the client or an upstream disconnects.
func (c *Connection) Serve() {
	defer c.teardown()

	go c.source.Run()
	go c.target.Run()
	go c.drainClientOutbox()

	for {
		c.clientGate.Wait()

		raw, err := c.splitter.Next(c.client)
		if err != nil {
			c.logger.Debug("client connection ended", zap.Error(err))
			return
		}

		version := proto.HeaderVersion(raw.Header)
		if !c.guard.Check(version) {
			reject, err := c.guard.Reject(raw.Header.StreamId, version)
			if err != nil {
				c.logger.Warn("failed to synthesise protocol error frame", zap.Error(err))
				return
			}
			c.writeClient(reject)
			continue
		}

		classification := proto.Classify(raw.Header.OpCode)
		toSend := raw
		if c.cfg.UUID && (classification == proto.Query || classification == proto.Batch) && rewrite.NeedsRewrite(raw.Body) {
			rewritten, err := c.rewriter.Rewrite(raw)
			if err != nil {
				c.logger.Warn("rewrite failed, forwarding original frame", zap.Error(err))
			} else {
				toSend = rewritten
			}
		}

		// Metric label values per spec §8 scenario 1
		// (cqlDifferentResultCount{opcode=0x07,state=query}): opcode is the
		// numeric wire opcode, state is the classification.
		opcodeLabel := fmt.Sprintf("0x%02x", uint8(raw.Header.OpCode))
		c.wg.Add(1)
		go c.handleRequest(toSend, opcodeLabel, classification.String())

		select {
		case <-c.failed:
			return
		default:
		}
	}
}

// handleRequest is the fan-out/join core of RequestOrchestrator (spec
// §4.6): send to source before target, await both, forward the source's
// bytes to the client per the configured wait policy, and emit metrics.
// opcode/state are the two metric label values (spec §6/§8 scenario 1):
// opcode is the numeric wire opcode, state is the frame's classification.
func (c *Connection) handleRequest(req *frame.RawFrame, opcode, state string) {
	defer c.wg.Done()

	start := time.Now()

	sourceSlot, err := c.source.Send(req)
	if err != nil {
		c.fail(fmt.Errorf("send to source: %w", err))
		return
	}
	targetSlot, err := c.target.Send(req)
	if err != nil {
		c.fail(fmt.Errorf("send to target: %w", err))
		return
	}
	c.metrics.ProxyTime(opcode, state, time.Since(start))

	if c.cfg.Wait {
		sr := <-sourceSlot
		tr := <-targetSlot
		c.finishRequest(opcode, state, start, sr, tr)
		if sr.Err == nil {
			c.writeClient(sr.Frame)
		}
		return
	}

	sr := <-sourceSlot
	if sr.Err == nil {
		c.writeClient(sr.Frame)
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		tr := <-targetSlot
		c.finishRequest(opcode, state, start, sr, tr)
	}()
}

// finishRequest records metrics for a joined pair of responses and fails
// the connection if the source response failed; the source response
// itself is written to the client by handleRequest, which checks its
// error on its own (spec §4.6 step 4).
func (c *Connection) finishRequest(opcode, state string, start time.Time, sr, tr upstream.Result) {
	if sr.Err != nil {
		c.fail(fmt.Errorf("source response: %w", sr.Err))
		return
	}
	if tr.Err != nil {
		c.logger.Warn("target response failed", zap.Error(tr.Err))
	}

	if sr.Frame.Header.OpCode == errorOpCode {
		c.metrics.ServerError(opcode, state)
	}
	c.metrics.RequestTimer(opcode, state, time.Since(start))

	if tr.Err == nil && tr.Frame != nil && !bytesEqual(sr.Frame.Body, tr.Frame.Body) {
		c.metrics.DifferentResult(opcode, state)
	}
}

func (c *Connection) writeClient(raw *frame.RawFrame) {
	var buf = rawFrameBuffer(c.splitter, raw)
	if buf == nil {
		return
	}
	c.clientOutbox.Push(buf)
}

func (c *Connection) drainClientOutbox() {
	err := c.clientOutbox.Drain(func(payload []byte) error {
		_, err := c.client.Write(payload)
		return err
	})
	if err != nil {
		c.fail(fmt.Errorf("write to client: %w", err))
	}
}

func (c *Connection) fail(err error) {
	c.closeOnce.Do(func() {
		c.failErr = err
		close(c.failed)
		c.logger.Warn("connection failing", zap.Error(err))
		// Unblock Serve's c.splitter.Next(c.client) read: an idle client
		// would otherwise never see this failure, leaving the connection
		// (and its in-flight request) open with no response delivered
		// (spec §5/§7.4: an upstream disconnect must close the client
		// connection, not just fail pending slots).
		_ = c.client.Close()
	})
}

// teardown closes the upstream links first: Close fails every slot still
// pending on them, which is what unblocks any handleRequest goroutine
// sitting on <-sourceSlot/<-targetSlot. Only once those have drained
// (wg.Wait) is it safe to close the outbox they write responses into.
func (c *Connection) teardown() {
	c.source.Close()
	c.target.Close()
	c.wg.Wait()
	_ = c.client.Close()
	c.clientOutbox.Close()
}
