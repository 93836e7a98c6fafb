package ws

import "encoding/json"

// Client to server signal types.
const (
	SignalAuth        = "auth"
	SignalThreadJoin  = "thread:join"
	SignalThreadLeave = "thread:leave"
	SignalTyping      = "thread:typing"
	SignalPing        = "ping"
)

// Signal is an inbound frame: {"type": ..., "payload": {...}}.
type Signal struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type authPayload struct {
	Token string `json:"token"`
}

type threadPayload struct {
	ThreadID int `json:"thread_id"`
}

func (s Signal) token() string {
	var p authPayload
	if len(s.Payload) == 0 || json.Unmarshal(s.Payload, &p) != nil {
		return ""
	}
	return p.Token
}

func (s Signal) threadID() (int, bool) {
	var p threadPayload
	if len(s.Payload) == 0 || json.Unmarshal(s.Payload, &p) != nil || p.ThreadID <= 0 {
		return 0, false
	}
	return p.ThreadID, true
}
