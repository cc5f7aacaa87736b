package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/gptfallback/pkg/provider/llm"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "m"); err == nil {
		t.Error("expected error for empty provider name")
	}
	if _, err := New("llamacpp", ""); err == nil {
		t.Error("expected error for empty model without a backend default")
	}
	if _, err := New("not-a-provider", "m"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestNew_Ollama(t *testing.T) {
	// Ollama needs no credentials, so construction must succeed offline.
	p, err := New("ollama", "llama3", anyllmlib.WithBaseURL("http://127.0.0.1:11434"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.model != "llama3" {
		t.Errorf("model = %q", p.model)
	}
}

func TestNew_DefaultModel(t *testing.T) {
	p, err := New("ollama", "", anyllmlib.WithBaseURL("http://127.0.0.1:11434"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.model != DefaultModels["ollama"] {
		t.Errorf("model = %q, want %q", p.model, DefaultModels["ollama"])
	}
}

func TestBuildParams(t *testing.T) {
	p := &Provider{model: "claude-3-5-haiku-latest"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "be brief",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "Q1"},
			{Role: llm.RoleAssistant, Content: "A1"},
			{Role: llm.RoleUser, Content: "Q2"},
		},
		Temperature: 0.7,
		MaxTokens:   64,
	})

	if params.Model != "claude-3-5-haiku-latest" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(params.Messages))
	}
	wantRoles := []string{anyllmlib.RoleSystem, llm.RoleUser, llm.RoleAssistant, llm.RoleUser}
	for i, want := range wantRoles {
		if params.Messages[i].Role != want {
			t.Errorf("messages[%d].Role = %q, want %q", i, params.Messages[i].Role, want)
		}
	}
	if params.Messages[3].ContentString() != "Q2" {
		t.Errorf("last content = %q", params.Messages[3].ContentString())
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 64 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}
}

func TestBuildParams_NoOptionals(t *testing.T) {
	p := &Provider{model: "m"}
	params := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if len(params.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(params.Messages))
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("optional params should be nil")
	}
}
