package session

import (
	"testing"

	"github.com/MrWong99/gptfallback/pkg/bus"
)

func TestID(t *testing.T) {
	tests := []struct {
		name string
		ctx  map[string]any
		want string
	}{
		{"no session", map[string]any{}, DefaultID},
		{"session id", map[string]any{"session": map[string]any{"session_id": "abc"}}, "abc"},
		{"empty id", map[string]any{"session": map[string]any{"session_id": ""}}, DefaultID},
		{"wrong type", map[string]any{"session": "abc"}, DefaultID},
		{"non-string id", map[string]any{"session": map[string]any{"session_id": 7}}, DefaultID},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg := bus.NewMessage("speak", nil)
			msg.Context = tc.ctx
			if got := ID(msg); got != tc.want {
				t.Errorf("ID = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLang(t *testing.T) {
	msg := bus.NewMessage("speak", map[string]any{"lang": "de-de"})
	if got := Lang(msg, "en-us"); got != "de-de" {
		t.Errorf("Lang(data) = %q", got)
	}

	msg = bus.NewMessage("speak", nil)
	msg.Context["session"] = map[string]any{"lang": "pt-pt"}
	if got := Lang(msg, "en-us"); got != "pt-pt" {
		t.Errorf("Lang(session) = %q", got)
	}

	if got := Lang(bus.NewMessage("speak", nil), "en-us"); got != "en-us" {
		t.Errorf("Lang(fallback) = %q", got)
	}
}
