package wire

// ProtocolVersion is the current hub wire protocol version, echoed in
// every HelloOk frame's _protocol field.
const ProtocolVersion = 2

// HelloOk describes the snapshot block sent in reply to a client hello,
// per spec §6.
type HelloOk struct {
	Server        map[string]Value
	Features      map[string]Value
	Presence      []Value
	Health        Value
	StatePresence int64
	StateHealth   int64
	UptimeMs      int64
	ConfigPath    string
	StateDir      string
	SessionDefaults Value
	CanvasHostURL string
	Auth          Value
	Policy        Value
}

// Encode builds the hello.ok / push.snapshot payload map described by
// spec §6: type, _protocol, server, features, snapshot{...}, canvasHostUrl?,
// auth?, policy.
func (h HelloOk) Encode() Value {
	snapshot := map[string]Value{
		"presence": NewArray(h.Presence),
		"health":   h.Health,
		"stateVersion": NewMap(map[string]Value{
			"presence": NewInt(h.StatePresence),
			"health":   NewInt(h.StateHealth),
		}),
		"uptimeMs": NewInt(h.UptimeMs),
	}
	if h.ConfigPath != "" {
		snapshot["configPath"] = NewString(h.ConfigPath)
	}
	if h.StateDir != "" {
		snapshot["stateDir"] = NewString(h.StateDir)
	}
	if !h.SessionDefaults.IsNull() {
		snapshot["sessionDefaults"] = h.SessionDefaults
	}

	m := map[string]Value{
		"type":      NewString(TypeHelloOk),
		"_protocol": NewInt(ProtocolVersion),
		"server":    NewMap(h.Server),
		"features":  NewMap(h.Features),
		"snapshot":  NewMap(snapshot),
		"policy":    h.Policy,
	}
	if h.CanvasHostURL != "" {
		m["canvasHostUrl"] = NewString(h.CanvasHostURL)
	}
	if !h.Auth.IsNull() {
		m["auth"] = h.Auth
	}
	return NewMap(m)
}

// ToHelloOkEnvelope wraps HelloOk into a hello.ok frame envelope.
func (h HelloOk) ToHelloOkEnvelope() *Envelope {
	m, _ := h.Encode().AsMap()
	return &Envelope{Type: TypeHelloOk, raw: m}
}

// ToPushSnapshotEnvelope wraps just the snapshot block into a
// push.snapshot frame, used to answer a seqGap (spec §4.H: "the hub
// answers seqGap by resending the push.snapshot (full state) rather
// than a partial replay").
func (h HelloOk) ToPushSnapshotEnvelope() *Envelope {
	full, _ := h.Encode().AsMap()
	snapshot := full["snapshot"]
	return NewPushSnapshot(snapshot)
}

// SnapshotHealthOK extracts snapshot.health.ok from a push.snapshot
// frame's payload, used by the client-side mapper (spec §6 mapping rules).
func SnapshotHealthOK(snapshot Value) (bool, bool) {
	health, ok := snapshot.Field("health")
	if !ok {
		return false, false
	}
	okVal, ok := health.Field("ok")
	if !ok {
		return false, false
	}
	return okVal.AsBool()
}
