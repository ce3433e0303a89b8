package orchestrator

import (
	"bytes"

	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/datastax/go-cassandra-native-protocol/primitive"

	"github.com/cppla/cql-dualproxy/internal/proto"
)

const errorOpCode = primitive.OpCodeError

// rawFrameBuffer serialises raw back to wire bytes for the client outbox,
// which deals in plain []byte rather than *frame.RawFrame so it stays
// agnostic of the codec. Returns nil (and logs nothing; the caller is
// expected to have already decided the frame is worth sending) on
// encode failure.
func rawFrameBuffer(splitter *proto.Splitter, raw *frame.RawFrame) []byte {
	buf := &bytes.Buffer{}
	if err := splitter.Encode(raw, buf); err != nil {
		return nil
	}
	return buf.Bytes()
}

func bytesEqual(a, b []byte) bool {
	return bytes.Equal(a, b)
}
