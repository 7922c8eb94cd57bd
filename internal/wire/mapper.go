package wire

// TransportEvent is what MapFrame produces for a UI/consumer client: the
// small set of shapes described in spec §6, decoupled from the raw wire
// envelope.
type TransportEvent struct {
	Kind string // "health", "tick", "chat", "seqGap"

	// Kind == "health"
	Healthy bool

	// Kind == "chat"
	RunID      string
	SessionKey string
	State      string

	// Kind == "seqGap"
	Expected int64
	Received int64
}

// MapFrame implements the push → transport event mapping rules from
// spec §6. It returns nil for anything that should be dropped (including
// unknown event names).
func MapFrame(e *Envelope) *TransportEvent {
	switch e.Type {
	case TypePushSnapshot:
		snapshot, ok := e.Get("snapshot")
		if !ok {
			return nil
		}
		healthy, ok := SnapshotHealthOK(snapshot)
		if !ok {
			return nil
		}
		return &TransportEvent{Kind: "health", Healthy: healthy}

	case TypeSeqGap:
		expected, received, ok := SeqGapFields(e)
		if !ok {
			return nil
		}
		return &TransportEvent{Kind: "seqGap", Expected: expected, Received: received}

	case TypeEvent:
		name, ok := e.GetString("event")
		if !ok {
			return nil
		}
		payload, _ := e.Get("payload")

		switch name {
		case "health":
			okVal, ok := payload.Field("ok")
			if !ok {
				return nil
			}
			healthy, ok := okVal.AsBool()
			if !ok {
				return nil
			}
			return &TransportEvent{Kind: "health", Healthy: healthy}

		case "tick":
			return &TransportEvent{Kind: "tick"}

		case "chat":
			runID, _ := payload.Field("runId")
			sessionKey, _ := payload.Field("sessionKey")
			state, _ := payload.Field("state")
			runIDStr, _ := runID.AsString()
			sessionKeyStr, _ := sessionKey.AsString()
			stateStr, _ := state.AsString()
			return &TransportEvent{
				Kind:       "chat",
				RunID:      runIDStr,
				SessionKey: sessionKeyStr,
				State:      stateStr,
			}

		default:
			// Unknown event names are dropped silently, per spec §9.
			return nil
		}

	default:
		return nil
	}
}
