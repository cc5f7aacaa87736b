package dialog

import (
	"errors"
	"testing"
	"testing/fstest"
)

func TestRender_BuiltIn(t *testing.T) {
	c := New(WithPicker(func(int) int { return 0 }))
	got, err := c.Render("en-us", "gpt_error")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "I'm sorry, I couldn't get an answer right now." {
		t.Errorf("Render = %q", got)
	}
}

func TestRender(t *testing.T) {
	fsys := fstest.MapFS{
		"locale/en-us/greet.dialog": {Data: []byte("# comment\n\nhello\nhi there\n")},
		"locale/de-de/greet.dialog": {Data: []byte("hallo\n")},
		"locale/en-us/empty.dialog": {Data: []byte("# nothing\n")},
	}
	last := func(n int) int { return n - 1 }

	tests := []struct {
		name    string
		lang    string
		dialog  string
		want    string
		wantErr error
	}{
		{name: "picks variant", lang: "en-us", dialog: "greet", want: "hi there"},
		{name: "other language", lang: "de-DE", dialog: "greet", want: "hallo"},
		{name: "falls back to default", lang: "fr-fr", dialog: "greet", want: "hi there"},
		{name: "missing", lang: "en-us", dialog: "nope", wantErr: ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := New(WithFS(fsys), WithPicker(last))
			got, err := c.Render(tc.lang, tc.dialog)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if got != tc.want {
				t.Errorf("Render = %q, want %q", got, tc.want)
			}
		})
	}

	if _, err := New(WithFS(fsys)).Render("en-us", "empty"); err == nil {
		t.Error("expected error for a dialog without variants")
	}
}

func TestRender_RandomVariantInRange(t *testing.T) {
	c := New()
	for range 50 {
		got, err := c.Render("en-us", "gpt_error")
		if err != nil || got == "" {
			t.Fatalf("Render = %q, %v", got, err)
		}
	}
}
