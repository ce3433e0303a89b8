package proto

import (
	"fmt"
	"io"

	"github.com/datastax/go-cassandra-native-protocol/frame"
)

// Splitter reassembles a byte stream into whole CQL frames (spec §4.1).
// It owns no internal rolling buffer itself: Go's blocking io.Reader
// already does the "wait until N bytes are present" part that an
// event-driven runtime has to hand-roll, so Splitter only adds the two
// things the library's raw codec does not do on its own — enforcing
// MaxFrameLength before reading the body, and wrapping the result in a
// RawFrame ready for FastInspector/forwarding.
type Splitter struct {
	codec          frame.RawCodec
	MaxFrameLength uint32
}

// NewSplitter returns a Splitter enforcing maxFrameLength (0 means the
// spec's default of 256 MiB).
func NewSplitter(maxFrameLength uint32) *Splitter {
	if maxFrameLength == 0 {
		maxFrameLength = 256 * 1024 * 1024
	}
	return &Splitter{codec: frame.NewRawCodec(), MaxFrameLength: maxFrameLength}
}

// ErrFrameTooLarge is returned by Next when a frame's declared length
// exceeds MaxFrameLength; the caller must fail the connection (spec §4.1).
type ErrFrameTooLarge struct {
	Length uint32
	Max    uint32
}

func (e *ErrFrameTooLarge) Error() string {
	return fmt.Sprintf("frame length %d exceeds maximum %d", e.Length, e.Max)
}

// Next blocks until one whole frame has been read from r, or returns the
// read/decode error (including io.EOF on clean close).
func (s *Splitter) Next(r io.Reader) (*frame.RawFrame, error) {
	header, err := s.codec.DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if uint32(header.BodyLength) > s.MaxFrameLength {
		return nil, &ErrFrameTooLarge{Length: uint32(header.BodyLength), Max: s.MaxFrameLength}
	}
	body, err := s.codec.DecodeRawBody(header, r)
	if err != nil {
		return nil, fmt.Errorf("cannot read frame body: %w", err)
	}
	return &frame.RawFrame{Header: header, Body: body}, nil
}

// Encode writes f to w using the same raw codec Next decodes with.
func (s *Splitter) Encode(f *frame.RawFrame, w io.Writer) error {
	return s.codec.EncodeRawFrame(f, w)
}
