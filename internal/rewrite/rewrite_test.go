package rewrite

import (
	"bytes"
	"strings"
	"testing"

	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"github.com/stretchr/testify/require"
)

func encodeQuery(t *testing.T, streamID int16, query string) *frame.RawFrame {
	t.Helper()
	f := frame.NewFrame(primitive.ProtocolVersion4, streamID, &message.Query{
		Query:   query,
		Options: &message.QueryOptions{Consistency: primitive.ConsistencyLevelOne},
	})
	raw, err := frame.NewRawCodec().ConvertToRawFrame(f)
	require.NoError(t, err)
	return raw
}

func decodeQuery(t *testing.T, raw *frame.RawFrame) *message.Query {
	t.Helper()
	body, err := frame.NewRawCodec().DecodeBody(raw.Header, bytes.NewReader(raw.Body))
	require.NoError(t, err)
	q, ok := body.Message.(*message.Query)
	require.True(t, ok)
	return q
}

func TestNeedsRewriteFastPath(t *testing.T) {
	require.True(t, NeedsRewrite([]byte("insert into t(id) values (uuid())")))
	require.True(t, NeedsRewrite([]byte("INSERT INTO t(ts) VALUES (NOW())")))
	require.False(t, NeedsRewrite([]byte("select * from t")))
}

func TestRewriteInsertReplacesDistinctUUIDs(t *testing.T) {
	raw := encodeQuery(t, 7, "INSERT INTO t(id,ts) VALUES (uuid(), now())")

	r := New()
	rewritten, err := r.Rewrite(raw)
	require.NoError(t, err)
	require.NotEqual(t, raw.Body, rewritten.Body)
	require.Equal(t, raw.Header.StreamId, rewritten.Header.StreamId)

	q := decodeQuery(t, rewritten)
	require.NotContains(t, q.Query, "uuid()")
	require.NotContains(t, q.Query, "UUID()")
	require.NotContains(t, q.Query, "now()")
	require.NotContains(t, q.Query, "NOW()")

	// Each token gets its own value: VALUES (<uuid-1>, <uuid-2>).
	values := q.Query[strings.Index(q.Query, "VALUES (")+len("VALUES (") : strings.LastIndex(q.Query, ")")]
	ids := strings.Split(values, ", ")
	require.Len(t, ids, 2)
	require.NotEqual(t, ids[0], ids[1])
}

func TestRewriteLeavesSelectUnchanged(t *testing.T) {
	// Select statements are never rewritten even if they happen to contain
	// the tokens (spec §4.4 only rewrites INSERT/UPDATE/BEGIN BATCH).
	raw := encodeQuery(t, 1, "SELECT * FROM t WHERE id = uuid()")
	r := New()
	rewritten, err := r.Rewrite(raw)
	require.NoError(t, err)
	require.Equal(t, raw, rewritten)
}

func TestRewriteNoTokensPassesThroughUnchanged(t *testing.T) {
	raw := encodeQuery(t, 2, "SELECT * FROM system.local")
	r := New()
	rewritten, err := r.Rewrite(raw)
	require.NoError(t, err)
	require.Equal(t, raw, rewritten)
}
