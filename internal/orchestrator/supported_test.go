package orchestrator

import (
	"bytes"
	"testing"

	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cppla/cql-dualproxy/internal/config"
)

func supportedRaw(t *testing.T, options map[string][]string) *frame.RawFrame {
	t.Helper()
	f := frame.NewFrame(primitive.ProtocolVersion4, 1, &message.Supported{Options: options})
	raw, err := frame.NewRawCodec().ConvertToRawFrame(f)
	require.NoError(t, err)
	return raw
}

func TestInterceptSupportedOverridesConfiguredOptions(t *testing.T) {
	c := &Connection{
		cfg: &config.Listener{
			ProtocolVersions: []int{3, 4},
			CQLVersions:      []string{"3.4.5"},
		},
		logger: zap.NewNop(),
	}

	raw := supportedRaw(t, map[string][]string{
		"PROTOCOL_VERSIONS": {"5/v5"},
		"CQL_VERSION":       {"9.9.9"},
		"COMPRESSION":       {"snappy"},
	})

	rewritten, err := c.interceptSupported(raw)
	require.NoError(t, err)

	codec := frame.NewRawCodec()
	body, err := codec.DecodeBody(rewritten.Header, bytes.NewReader(rewritten.Body))
	require.NoError(t, err)
	supported := body.Message.(*message.Supported)

	require.Equal(t, []string{"3/v3", "4/v4"}, supported.Options["PROTOCOL_VERSIONS"])
	require.Equal(t, []string{"3.4.5"}, supported.Options["CQL_VERSION"])
	require.Equal(t, []string{"snappy"}, supported.Options["COMPRESSION"])
}

func TestInterceptSupportedLeavesOptionsAloneWhenUnconfigured(t *testing.T) {
	c := &Connection{cfg: &config.Listener{}, logger: zap.NewNop()}
	raw := supportedRaw(t, map[string][]string{"CQL_VERSION": {"3.4.5"}})

	rewritten, err := c.interceptSupported(raw)
	require.NoError(t, err)

	codec := frame.NewRawCodec()
	body, err := codec.DecodeBody(rewritten.Header, bytes.NewReader(rewritten.Body))
	require.NoError(t, err)
	supported := body.Message.(*message.Supported)
	require.Equal(t, []string{"3.4.5"}, supported.Options["CQL_VERSION"])
}
