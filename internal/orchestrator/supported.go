package orchestrator

import (
	"bytes"
	"fmt"

	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/datastax/go-cassandra-native-protocol/message"
)

// interceptSupported overrides the PROTOCOL_VERSIONS and CQL_VERSION
// entries of a SUPPORTED response from the source cluster with the
// connection's configured allow-lists, so a client never advertises
// capability this proxy itself won't accept (spec §4.5 step 4).
func (c *Connection) interceptSupported(raw *frame.RawFrame) (*frame.RawFrame, error) {
	codec := frame.NewRawCodec()
	body, err := codec.DecodeBody(raw.Header, bytes.NewReader(raw.Body))
	if err != nil {
		return nil, err
	}
	supported, ok := body.Message.(*message.Supported)
	if !ok {
		return raw, nil
	}
	if supported.Options == nil {
		supported.Options = map[string][]string{}
	}

	if len(c.cfg.ProtocolVersions) > 0 {
		versions := make([]string, len(c.cfg.ProtocolVersions))
		for i, v := range c.cfg.ProtocolVersions {
			versions[i] = formatVersion(v)
		}
		supported.Options["PROTOCOL_VERSIONS"] = versions
	}
	if len(c.cfg.CQLVersions) > 0 {
		supported.Options["CQL_VERSION"] = c.cfg.CQLVersions
	}

	buf := &bytes.Buffer{}
	if err := codec.EncodeBody(raw.Header, body, buf); err != nil {
		return nil, err
	}
	header := *raw.Header
	header.BodyLength = int32(buf.Len())
	return &frame.RawFrame{Header: &header, Body: buf.Bytes()}, nil
}

func formatVersion(v int) string {
	return fmt.Sprintf("%d/v%d", v, v)
}
