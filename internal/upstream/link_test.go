package upstream

import (
	"net"
	"testing"
	"time"

	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cppla/cql-dualproxy/internal/proto"
)

func pipeLink(t *testing.T) (*Link, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	l := &Link{
		Identifier: "test",
		Address:    "pipe",
		logger:     zap.NewNop(),
		conn:       client,
		splitter:   proto.NewSplitter(0),
		closed:     make(chan struct{}),
	}
	return l, server
}

func rawFrame(t *testing.T, streamID int16) *frame.RawFrame {
	t.Helper()
	f := frame.NewFrame(primitive.ProtocolVersion4, streamID, &message.Options{})
	raw, err := frame.NewRawCodec().ConvertToRawFrame(f)
	require.NoError(t, err)
	return raw
}

func TestLinkSendAndCorrelateResponse(t *testing.T) {
	l, server := pipeLink(t)
	defer l.Close()
	go l.Run()

	// Serve one Options request on the "server" side of the pipe with a
	// Ready response on the same stream id.
	go func() {
		s := proto.NewSplitter(0)
		req, err := s.Next(server)
		if err != nil {
			return
		}
		resp := frame.NewFrame(primitive.ProtocolVersion4, req.Header.StreamId, &message.Ready{})
		raw, err := frame.NewRawCodec().ConvertToRawFrame(resp)
		if err != nil {
			return
		}
		_ = s.Encode(raw, server)
	}()

	slot, err := l.Send(rawFrame(t, 5))
	require.NoError(t, err)

	select {
	case result := <-slot:
		require.NoError(t, result.Err)
		require.Equal(t, int16(5), result.Frame.Header.StreamId)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for correlated response")
	}
}

func TestLinkRejectsDuplicateStreamID(t *testing.T) {
	l, server := pipeLink(t)
	defer l.Close()
	defer server.Close()

	slot := make(CompletionSlot, 1)
	require.NoError(t, l.insert(3, slot))
	require.Error(t, l.insert(3, make(CompletionSlot, 1)))
}

func TestLinkCloseFailsPendingSlots(t *testing.T) {
	l, server := pipeLink(t)
	defer server.Close()
	go l.Run()

	slot := make(CompletionSlot, 1)
	require.NoError(t, l.insert(9, slot))

	l.Close()

	select {
	case result := <-slot:
		require.Error(t, result.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not fail the pending slot")
	}
}

func TestLinkCloseUnblocksGatedReceiveLoop(t *testing.T) {
	l, server := pipeLink(t)
	defer server.Close()

	gate := NewGate(nil, nil)
	gate.Pause()
	l.SetReadGate(gate)

	done := make(chan struct{})
	go func() {
		l.Run()
		close(done)
	}()

	// Closing the link while its read loop is parked in gate.Wait must
	// still unblock and terminate Run (Close force-resumes the gate).
	time.Sleep(20 * time.Millisecond)
	l.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after Close while gated")
	}
}
