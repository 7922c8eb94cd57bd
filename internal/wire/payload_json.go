package wire

import "encoding/json"

// DecodePayloadJSON parses the legacy "payloadJSON" string convention used
// by line-protocol node clients (see other_examples/clawdbot-clawgo, which
// sends event frames as {"type":"event","event":"...","payloadJSON":"<json
// text>"} instead of a nested JSON object). NormalizeNodeFrame rewrites
// such a frame to a nested Value payload; the Hub does not call it.
func DecodePayloadJSON(s string) (Value, error) {
	if s == "" {
		return Null, nil
	}
	return ParseValue([]byte(s))
}

// EncodePayloadJSON renders a Value back into the payloadJSON string
// convention, for replying to a node that only understands that shape.
func EncodePayloadJSON(v Value) (string, error) {
	b, err := json.Marshal(v.ToAny())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// NormalizeNodeFrame rewrites a decoded envelope so that a legacy
// "payloadJSON" string field (if present, and "payload" absent) is
// unpacked into a "payload" Value field, letting the rest of the gateway
// deal in one payload representation regardless of which convention the
// peer used on the wire.
func NormalizeNodeFrame(e *Envelope) error {
	if _, hasPayload := e.Get("payload"); hasPayload {
		return nil
	}
	pj, ok := e.GetString("payloadJSON")
	if !ok {
		return nil
	}
	v, err := DecodePayloadJSON(pj)
	if err != nil {
		return err
	}
	e.Set("payload", v)
	return nil
}
