package main

import (
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/gptfallback/internal/config"
	"github.com/MrWong99/gptfallback/internal/settings"
	"github.com/MrWong99/gptfallback/pkg/provider/llm"
	"github.com/MrWong99/gptfallback/pkg/provider/llm/anyllm"
	"github.com/MrWong99/gptfallback/pkg/provider/llm/openai"
)

// registerBuiltinProviders wires the chat providers that ship with the skill
// into reg. "openai" uses the native client, which also serves any
// OpenAI-compatible endpoint through api_url; the other names go through
// any-llm.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(ep settings.Endpoint) (llm.Provider, error) {
		var opts []openai.Option
		if ep.APIURL != "" {
			opts = append(opts, openai.WithBaseURL(ep.APIURL))
		}
		p, err := openai.New(ep.Key, ep.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	for _, name := range anyllm.Names {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(ep settings.Endpoint) (llm.Provider, error) {
			var opts []anyllmlib.Option
			// ollama and the llama.cpp servers are local and take no key.
			if ep.Key != "" {
				opts = append(opts, anyllmlib.WithAPIKey(ep.Key))
			}
			if ep.APIURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(ep.APIURL))
			}
			p, err := anyllm.New(name, ep.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}
}
