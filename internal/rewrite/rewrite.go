// Package rewrite implements QueryRewriter (spec §4.4): replacing inline
// UUID()/NOW() tokens in INSERT/UPDATE/BEGIN BATCH statements with a
// server-issued time-UUID, so both clusters of a dual-write pair observe
// identical deterministic values.
package rewrite

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"github.com/google/uuid"
)

const (
	tokenUUID = "UUID()"
	tokenNOW  = "NOW()"
)

// Rewriter holds the raw codec needed for the slow path's partial
// decode/encode (header stays untouched, only the body round-trips
// through a typed message); the fast path never touches it.
type Rewriter struct {
	codec frame.RawCodec
}

func New() *Rewriter {
	return &Rewriter{codec: frame.NewRawCodec()}
}

// NeedsRewrite is the fast path (spec §4.4): a cheap case-insensitive
// substring scan for either token. Only meaningful for query/batch
// frames; callers are expected to have already classified the frame.
func NeedsRewrite(body []byte) bool {
	upper := strings.ToUpper(string(body))
	return strings.Contains(upper, tokenUUID) || strings.Contains(upper, tokenNOW)
}

// Rewrite runs the slow path: full decode, token replacement, re-encode.
// It generates one fresh Type-1 UUID per occurrence and is deterministic
// only in the sense that it must be called once and the resulting bytes
// fanned out identically to both upstreams (spec §4.4) — callers must not
// call Rewrite twice for the same logical request.
func (r *Rewriter) Rewrite(raw *frame.RawFrame) (*frame.RawFrame, error) {
	body, err := r.codec.DecodeBody(raw.Header, bytes.NewReader(raw.Body))
	if err != nil {
		return nil, fmt.Errorf("cannot decode frame body for rewrite: %w", err)
	}

	rewritten := false
	switch msg := body.Message.(type) {
	case *message.Query:
		if isInsertUpdateOrBatchText(msg.Query) {
			msg.Query = replaceTokens(msg.Query)
			rewritten = true
		}
	case *message.Batch:
		for _, child := range msg.Children {
			if text, ok := child.QueryOrId.(string); ok {
				child.QueryOrId = replaceTokens(text)
				rewritten = true
			}
			for _, v := range child.Values {
				if v == nil || v.Type != primitive.ValueTypeRegular {
					continue
				}
				trimmed := strings.ToUpper(strings.TrimSpace(string(v.Contents)))
				if trimmed == tokenUUID || trimmed == tokenNOW {
					v.Contents = []byte(freshTimeUUID())
					rewritten = true
				}
			}
		}
	}

	if !rewritten {
		return raw, nil
	}

	buf := &bytes.Buffer{}
	if err := r.codec.EncodeBody(raw.Header, body, buf); err != nil {
		return nil, fmt.Errorf("cannot re-encode rewritten frame body: %w", err)
	}
	header := *raw.Header
	header.BodyLength = int32(buf.Len())
	return &frame.RawFrame{Header: &header, Body: buf.Bytes()}, nil
}

// isInsertUpdateOrBatchText mirrors spec §4.4's statement-shape check.
func isInsertUpdateOrBatchText(query string) bool {
	upper := strings.ToUpper(strings.TrimSpace(query))
	if strings.HasPrefix(upper, "INSERT") || strings.HasPrefix(upper, "UPDATE") {
		return true
	}
	if strings.HasPrefix(upper, "BEGIN BATCH") {
		return strings.Contains(upper, "INSERT") || strings.Contains(upper, "UPDATE")
	}
	return false
}

// replaceTokens substitutes every case-insensitive UUID()/NOW() occurrence
// in query with a distinct freshly generated time-UUID.
func replaceTokens(query string) string {
	return replaceCaseInsensitive(replaceCaseInsensitive(query, tokenUUID), tokenNOW)
}

func replaceCaseInsensitive(s, token string) string {
	var b strings.Builder
	upper := strings.ToUpper(s)
	upperToken := strings.ToUpper(token)
	for {
		idx := strings.Index(upper, upperToken)
		if idx < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:idx])
		b.WriteString(freshTimeUUID())
		s = s[idx+len(token):]
		upper = upper[idx+len(token):]
	}
	return b.String()
}

func freshTimeUUID() string {
	id, err := uuid.NewUUID()
	if err != nil {
		// uuid.NewUUID only fails if the system clock/node id cannot be
		// read; fall back to a random (v4) id rather than abort the
		// rewrite, since determinism across the two upstreams only
		// requires a single generated value shared by both, not a
		// specific version.
		return uuid.New().String()
	}
	return id.String()
}
