// Package bus defines the message type and transport abstraction used to talk
// to an OVOS/Mycroft-style message bus.
//
// A bus message is a JSON object with three fields:
//
//	{"type": "speak", "data": {"utterance": "hi"}, "context": {"session": {...}}}
//
// Type names the event, Data carries the payload and Context carries routing
// metadata (source, destination, session) that is propagated across forwarded
// and reply messages so that the host can correlate a conversation turn.
//
// Two [Bus] implementations are provided: [Local], an in-process bus used by
// tests and the one-shot CLI, and [Client], a websocket client for a running
// messagebus service.
package bus

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Message is a single bus event.
type Message struct {
	// Type is the event name, e.g. "speak" or "recognizer_loop:utterance".
	Type string `json:"type"`

	// Data is the event payload.
	Data map[string]any `json:"data"`

	// Context carries routing metadata. Keys commonly seen are "source",
	// "destination" and "session".
	Context map[string]any `json:"context"`
}

// NewMessage creates a message with the given type and data and an empty
// context. A nil data map is replaced with an empty one.
func NewMessage(msgType string, data map[string]any) Message {
	if data == nil {
		data = map[string]any{}
	}
	return Message{Type: msgType, Data: data, Context: map[string]any{}}
}

// Forward returns a new message of msgType carrying data and a copy of m's
// context. Use it to pass a turn on without changing its routing.
func (m Message) Forward(msgType string, data map[string]any) Message {
	out := NewMessage(msgType, data)
	maps.Copy(out.Context, m.Context)
	return out
}

// Reply returns a new message of msgType carrying data, with m's context
// copied and "source" and "destination" swapped so the reply is routed back
// to the sender.
func (m Message) Reply(msgType string, data map[string]any) Message {
	out := m.Forward(msgType, data)
	src, hasSrc := m.Context["source"]
	dst, hasDst := m.Context["destination"]
	delete(out.Context, "source")
	delete(out.Context, "destination")
	if hasDst {
		out.Context["source"] = dst
	}
	if hasSrc {
		out.Context["destination"] = src
	}
	return out
}

// String returns the string value stored under key in Data. It returns ""
// when the key is absent or not a string.
func (m Message) String(key string) string {
	s, _ := m.Data[key].(string)
	return s
}

// Strings returns the string slice stored under key in Data. JSON decoding
// produces []any, so both []any and []string are accepted; non-string
// elements are skipped.
func (m Message) Strings(key string) []string {
	switch v := m.Data[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Marshal encodes m as the JSON wire form.
func (m Message) Marshal() ([]byte, error) {
	if m.Data == nil {
		m.Data = map[string]any{}
	}
	if m.Context == nil {
		m.Context = map[string]any{}
	}
	return json.Marshal(m)
}

// Unmarshal decodes the JSON wire form. A frame without a type is rejected.
func Unmarshal(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("bus: decode message: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("bus: message has no type")
	}
	if m.Data == nil {
		m.Data = map[string]any{}
	}
	if m.Context == nil {
		m.Context = map[string]any{}
	}
	return m, nil
}
