package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame types, per spec: hello, rpc.req, rpc.res, event, push.snapshot, seqGap.
const (
	TypeHello        = "hello"
	TypeHelloOk      = "hello.ok"
	TypeRPCRequest   = "rpc.req"
	TypeRPCResponse  = "rpc.res"
	TypeEvent        = "event"
	TypePushSnapshot = "push.snapshot"
	TypeSeqGap       = "seqGap"

	TypeNodeInvokeRequest = "node.invoke.request"
	TypeNodeInvokeResult  = "node.invoke.result"
)

// MaxFrameSize is the largest encoded frame the codec will accept; Decode
// rejects larger input with ErrFrameTooLarge. The hub's WebSocket reader
// sets its own 1 MiB read limit and logs and skips frames that fail to
// decode; it does not close the socket with a "frame-too-large" reason.
const MaxFrameSize = 8 * 1024 * 1024

var (
	// ErrFrameTooLarge is returned by Decode when the input exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("wire: frame-too-large")
	// ErrMissingType is returned when a frame has no "type" field.
	ErrMissingType = errors.New("wire: missing type field")
)

// Envelope is a decoded frame. It keeps every top-level key it was decoded
// from (known or not) so that unknown keys survive an encode/decode
// round-trip unchanged, per spec §4.A.
type Envelope struct {
	Type string
	raw  map[string]Value
}

// NewEnvelope creates an empty envelope of the given type.
func NewEnvelope(frameType string) *Envelope {
	return &Envelope{Type: frameType, raw: map[string]Value{"type": NewString(frameType)}}
}

// Decode parses a single JSON frame. It enforces MaxFrameSize and requires
// a "type" field.
func Decode(data []byte) (*Envelope, error) {
	if len(data) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	v, err := ParseValue(data)
	if err != nil {
		return nil, fmt.Errorf("wire: decode: %w", err)
	}
	m, ok := v.AsMap()
	if !ok {
		return nil, errors.New("wire: frame is not a JSON object")
	}
	typeVal, ok := m["type"]
	if !ok {
		return nil, ErrMissingType
	}
	typeStr, ok := typeVal.AsString()
	if !ok {
		return nil, ErrMissingType
	}
	return &Envelope{Type: typeStr, raw: m}, nil
}

// Encode serializes the envelope back to a single JSON frame, enforcing
// MaxFrameSize on the result.
func (e *Envelope) Encode() ([]byte, error) {
	m := make(map[string]any, len(e.raw))
	for k, v := range e.raw {
		m[k] = v.ToAny()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if len(data) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return data, nil
}

// Get returns a top-level field by key.
func (e *Envelope) Get(key string) (Value, bool) {
	v, ok := e.raw[key]
	return v, ok
}

// GetString returns a top-level string field.
func (e *Envelope) GetString(key string) (string, bool) {
	v, ok := e.raw[key]
	if !ok {
		return "", false
	}
	return v.AsString()
}

// GetInt returns a top-level integer field.
func (e *Envelope) GetInt(key string) (int64, bool) {
	v, ok := e.raw[key]
	if !ok {
		return 0, false
	}
	return v.AsInt()
}

// Set sets (or overwrites) a top-level field.
func (e *Envelope) Set(key string, v Value) {
	if e.raw == nil {
		e.raw = make(map[string]Value)
	}
	e.raw[key] = v
}

// SetString is a convenience wrapper around Set(key, NewString(s)).
func (e *Envelope) SetString(key, s string) { e.Set(key, NewString(s)) }

// SetInt is a convenience wrapper around Set(key, NewInt(i)).
func (e *Envelope) SetInt(key string, i int64) { e.Set(key, NewInt(i)) }

// --- Typed constructors for the five documented frame kinds ---

// NewRPCRequest builds an rpc.req frame: { id, method, params }.
func NewRPCRequest(id, method string, params Value) *Envelope {
	e := NewEnvelope(TypeRPCRequest)
	e.SetString("id", id)
	e.SetString("method", method)
	e.Set("params", params)
	return e
}

// RPCError is the { code, message } shape carried by a failed rpc.res.
type RPCError struct {
	Code    string
	Message string
}

// NewRPCResponse builds an rpc.res frame: { id, ok, payload? , error? }.
func NewRPCResponse(id string, ok bool, payload Value, rpcErr *RPCError) *Envelope {
	e := NewEnvelope(TypeRPCResponse)
	e.SetString("id", id)
	e.Set("ok", NewBool(ok))
	if ok {
		e.Set("payload", payload)
	} else if rpcErr != nil {
		e.Set("error", NewMap(map[string]Value{
			"code":    NewString(rpcErr.Code),
			"message": NewString(rpcErr.Message),
		}))
	}
	return e
}

// NewEvent builds an event frame: { event, payload?, seq, stateVersion? }.
func NewEvent(event string, payload Value, seq int64, stateVersion Value) *Envelope {
	e := NewEnvelope(TypeEvent)
	e.SetString("event", event)
	if !payload.IsNull() {
		e.Set("payload", payload)
	}
	e.SetInt("seq", seq)
	if !stateVersion.IsNull() {
		e.Set("stateVersion", stateVersion)
	}
	return e
}

// NewPushSnapshot builds a push.snapshot frame carrying the full HelloOk
// snapshot block.
func NewPushSnapshot(snapshot Value) *Envelope {
	e := NewEnvelope(TypePushSnapshot)
	e.Set("snapshot", snapshot)
	return e
}

// NewSeqGap builds a seqGap frame: { expected, received }.
func NewSeqGap(expected, received int64) *Envelope {
	e := NewEnvelope(TypeSeqGap)
	e.SetInt("expected", expected)
	e.SetInt("received", received)
	return e
}

// NewNodeInvokeRequest builds a node.invoke.request frame: { id, nodeId,
// command, params }, per spec §4.G.
func NewNodeInvokeRequest(id, nodeID, command string, params Value) *Envelope {
	e := NewEnvelope(TypeNodeInvokeRequest)
	e.SetString("id", id)
	e.SetString("nodeId", nodeID)
	e.SetString("command", command)
	e.Set("params", params)
	return e
}

// NodeInvokeResult is the decoded shape of a node.invoke.result frame.
type NodeInvokeResult struct {
	ID          string
	NodeID      string
	OK          bool
	PayloadJSON string
	Error       string
}

// ParseNodeInvokeResult extracts a NodeInvokeResult from a decoded
// node.invoke.result frame.
func ParseNodeInvokeResult(e *Envelope) NodeInvokeResult {
	id, _ := e.GetString("id")
	nodeID, _ := e.GetString("nodeId")
	payloadJSON, _ := e.GetString("payloadJSON")
	errMsg, _ := e.GetString("error")
	ok := false
	if v, present := e.Get("ok"); present {
		ok, _ = v.AsBool()
	}
	return NodeInvokeResult{
		ID:          id,
		NodeID:      nodeID,
		OK:          ok,
		PayloadJSON: payloadJSON,
		Error:       errMsg,
	}
}

// SeqGapFields extracts the (expected, received) pair from a seqGap frame.
func SeqGapFields(e *Envelope) (expected, received int64, ok bool) {
	if e.Type != TypeSeqGap {
		return 0, 0, false
	}
	expected, ok1 := e.GetInt("expected")
	received, ok2 := e.GetInt("received")
	return expected, received, ok1 && ok2
}
