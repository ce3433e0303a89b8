package proto

import (
	"fmt"
	"sort"
	"strings"

	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
)

// Guard is ProtocolGuard (spec §4.3): enforces a configured allow-list of
// CQL protocol versions on the version byte of every client frame.
type Guard struct {
	// Allowed is the configured protocol_versions allow-list. An empty set
	// disables the guard: whatever version the client advertises passes.
	Allowed map[int]bool

	codec  frame.RawCodec
	sorted []int // Allowed's keys, ascending, computed once in NewGuard
}

// NewGuard builds a Guard from the configured allow-list.
func NewGuard(versions []int) *Guard {
	allowed := make(map[int]bool, len(versions))
	for _, v := range versions {
		allowed[v] = true
	}
	sorted := make([]int, 0, len(versions))
	for v := range allowed {
		sorted = append(sorted, v)
	}
	sort.Ints(sorted)
	return &Guard{Allowed: allowed, codec: frame.NewRawCodec(), sorted: sorted}
}

// HeaderVersion extracts the protocol version from byte 0 of a frame
// header, low 7 bits only (the 8th bit is the direction flag).
func HeaderVersion(h *frame.Header) int {
	return int(h.Version) & 0x7F
}

// Check reports whether v is acceptable. An empty allow-list accepts
// everything.
func (g *Guard) Check(v int) bool {
	if len(g.Allowed) == 0 {
		return true
	}
	return g.Allowed[v]
}

// Reject synthesises the ERROR frame spec §4.3 describes: opcode 0x00,
// code 0x000A, a message enumerating the supported versions, echoing the
// client's stream-id, at the lowest configured supported protocol
// version.
func (g *Guard) Reject(streamID int16, gotVersion int) (*frame.RawFrame, error) {
	parts := make([]string, 0, len(g.sorted))
	for _, v := range g.sorted {
		parts = append(parts, fmt.Sprintf("%d/v%d", v, v))
	}
	msg := fmt.Sprintf("Invalid or unsupported protocol version (%d); supported versions are (%s)",
		gotVersion, strings.Join(parts, ","))

	responseVersion := primitive.ProtocolVersion3
	if len(g.sorted) > 0 {
		responseVersion = primitive.ProtocolVersion(g.sorted[0])
	}

	f := frame.NewFrame(responseVersion, streamID, &message.ProtocolError{ErrorMessage: msg})
	return g.codec.ConvertToRawFrame(f)
}
