// Package proto implements the wire-level building blocks shared by
// every component that touches a raw CQL frame: splitting a byte stream
// into whole frames, cheap opcode classification, and protocol-version
// enforcement. Full typed decode/encode, needed only by the rewriter and
// the SUPPORTED interceptor, is left to frame.NewRawCodec()'s
// DecodeBody/EncodeBody at the call site rather than duplicated here.
package proto

import "github.com/datastax/go-cassandra-native-protocol/primitive"

// Classification is FastInspector's cheap, allocation-free verdict about
// a frame, derived purely from the header's opcode.
type Classification int

const (
	Unknown Classification = iota
	Startup
	Options
	Query
	Prepare
	Execute
	Batch
	Register
	AuthResponse
	Ready
	Authenticate
	Supported
	Result
	Event
	Error
)

func (c Classification) String() string {
	switch c {
	case Startup:
		return "startup"
	case Options:
		return "options"
	case Query:
		return "query"
	case Prepare:
		return "prepare"
	case Execute:
		return "execute"
	case Batch:
		return "batch"
	case Register:
		return "register"
	case AuthResponse:
		return "auth_response"
	case Ready:
		return "ready"
	case Authenticate:
		return "authenticate"
	case Supported:
		return "supported"
	case Result:
		return "result"
	case Event:
		return "event"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Classify maps a frame's opcode directly to a Classification. It does
// not need the direction bit: CQL opcodes are already partitioned into
// disjoint request/response sets (spec §4.2), so the opcode alone is
// sufficient and the direction bit is not consulted.
func Classify(opcode primitive.OpCode) Classification {
	switch opcode {
	case primitive.OpCodeStartup:
		return Startup
	case primitive.OpCodeOptions:
		return Options
	case primitive.OpCodeQuery:
		return Query
	case primitive.OpCodePrepare:
		return Prepare
	case primitive.OpCodeExecute:
		return Execute
	case primitive.OpCodeBatch:
		return Batch
	case primitive.OpCodeRegister:
		return Register
	case primitive.OpCodeAuthResponse:
		return AuthResponse
	case primitive.OpCodeReady:
		return Ready
	case primitive.OpCodeAuthenticate:
		return Authenticate
	case primitive.OpCodeSupported:
		return Supported
	case primitive.OpCodeResult:
		return Result
	case primitive.OpCodeEvent:
		return Event
	case primitive.OpCodeError:
		return Error
	default:
		return Unknown
	}
}
