package fallback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/goleak"

	"github.com/MrWong99/gptfallback/internal/dialog"
	"github.com/MrWong99/gptfallback/internal/history"
	"github.com/MrWong99/gptfallback/internal/observe"
	"github.com/MrWong99/gptfallback/internal/resilience"
	"github.com/MrWong99/gptfallback/internal/settings"
	"github.com/MrWong99/gptfallback/pkg/bus"
	"github.com/MrWong99/gptfallback/pkg/provider/llm"
	llmmock "github.com/MrWong99/gptfallback/pkg/provider/llm/mock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// factoryFunc adapts a function to [ProviderFactory].
type factoryFunc func(settings.Endpoint) (llm.Provider, error)

func (f factoryFunc) CreateLLM(ep settings.Endpoint) (llm.Provider, error) { return f(ep) }

// harness wires a Skill to an in-process bus and records every message.
type harness struct {
	bus      *bus.Local
	store    *settings.MemStore
	provider *llmmock.Provider
	skill    *Skill
	reader   *sdkmetric.ManualReader

	mu   sync.Mutex
	msgs []bus.Message
}

func newHarness(t *testing.T, st settings.Settings, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		bus:      bus.NewLocal(),
		store:    settings.NewMemStore(st),
		provider: &llmmock.Provider{},
		reader:   sdkmetric.NewManualReader(),
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(h.reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h.bus.OnAll(func(m bus.Message) {
		h.mu.Lock()
		h.msgs = append(h.msgs, m)
		h.mu.Unlock()
	})
	factory := factoryFunc(func(settings.Endpoint) (llm.Provider, error) { return h.provider, nil })
	opts = append([]Option{
		WithMetrics(metrics),
		WithDialogs(dialog.New(dialog.WithPicker(func(int) int { return 0 }))),
	}, opts...)
	h.skill = New(h.bus, h.store, factory, opts...)
	return h
}

func (h *harness) messages(msgType string) []bus.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []bus.Message
	for _, m := range h.msgs {
		if msgType == "" || m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (h *harness) spoken() []string {
	var out []string
	for _, m := range h.messages(speakEvent) {
		out = append(out, m.String("utterance"))
	}
	return out
}

func (h *harness) reset() {
	h.mu.Lock()
	h.msgs = nil
	h.mu.Unlock()
}

func sessionMsg(msgType, sessionID string, data map[string]any) bus.Message {
	m := bus.NewMessage(msgType, data)
	m.Context["session"] = map[string]any{"session_id": sessionID}
	return m
}

func userSays(t *testing.T, h *harness, sessionID, text string) {
	t.Helper()
	if err := h.bus.Emit(context.Background(), sessionMsg(utteranceEvent, sessionID, map[string]any{"utterances": []any{text}})); err != nil {
		t.Fatal(err)
	}
}

func assistantSays(t *testing.T, h *harness, sessionID, text string) {
	t.Helper()
	if err := h.bus.Emit(context.Background(), sessionMsg(speakEvent, sessionID, map[string]any{"utterance": text})); err != nil {
		t.Fatal(err)
	}
}

func configured() settings.Settings {
	return settings.Settings{Endpoint: settings.Endpoint{Key: "sk-test"}}
}

const errorDialogText = "I'm sorry, I couldn't get an answer right now."

func TestAskChatGPT_NotConfigured(t *testing.T) {
	h := newHarness(t, settings.Settings{})

	if h.skill.AskChatGPT(sessionMsg("any", "s1", map[string]any{"utterance": "what is love"})) {
		t.Fatal("AskChatGPT = true without a key")
	}
	if msgs := h.messages(""); len(msgs) != 0 {
		t.Errorf("emitted %d messages, want none: %+v", len(msgs), msgs)
	}
	if n := len(h.provider.Calls()); n != 0 {
		t.Errorf("provider called %d times, want 0", n)
	}
}

func TestAskChatGPT_SettingsUnreadable(t *testing.T) {
	h := newHarness(t, configured())
	h.store.SetErr(errors.New("permission denied"))

	if h.skill.AskChatGPT(sessionMsg("any", "s1", map[string]any{"utterance": "hi"})) {
		t.Fatal("AskChatGPT = true with unreadable settings")
	}
	if msgs := h.messages(""); len(msgs) != 0 {
		t.Errorf("emitted %d messages, want none", len(msgs))
	}
}

func TestAskChatGPT_EmptyUtterance(t *testing.T) {
	h := newHarness(t, configured())
	if h.skill.AskChatGPT(sessionMsg("any", "s1", map[string]any{})) {
		t.Fatal("AskChatGPT = true without an utterance")
	}
}

func TestAskChatGPT_Answers(t *testing.T) {
	h := newHarness(t, configured())
	h.provider.StreamChunks = []llm.Chunk{{Text: "Paris is the capital. It is"}, {Text: " lovely."}, {FinishReason: "stop"}}

	msg := sessionMsg("ovos.skills.fallback.x.request", "s1", map[string]any{"utterance": "capital of france"})
	if !h.skill.AskChatGPT(msg) {
		t.Fatal("AskChatGPT = false with a key")
	}
	if err := h.skill.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	msgs := h.messages("")
	if len(msgs) == 0 || msgs[0].Type != RequestEvent {
		t.Fatalf("first message = %+v, want %s", msgs, RequestEvent)
	}
	if got := msgs[0].String("utterance"); got != "capital of france" {
		t.Errorf("request utterance = %q", got)
	}
	if diff := cmp.Diff(msg.Context, msgs[0].Context); diff != "" {
		t.Errorf("request context not forwarded (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Paris is the capital.", "It is lovely."}, h.spoken()); diff != "" {
		t.Errorf("spoken mismatch (-want +got):\n%s", diff)
	}
}

func TestAsk_SpeaksAndRecordsHistory(t *testing.T) {
	h := newHarness(t, configured())
	if err := h.skill.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	h.provider.StreamChunks = []llm.Chunk{{Text: "Four. Definitely four."}}

	userSays(t, h, "s1", "two plus two")
	res := h.skill.Ask(context.Background(), sessionMsg("req", "s1", map[string]any{"utterance": "two plus two", "lang": "en-us"})).Wait()
	if res.Err != nil || res.Spoken != 2 {
		t.Fatalf("Result = %+v, want 2 spoken and no error", res)
	}

	speaks := h.messages(speakEvent)
	if len(speaks) != 2 {
		t.Fatalf("got %d speak messages, want 2", len(speaks))
	}
	first := speaks[0]
	if first.Data["expect_response"] != false || first.Data["lang"] != "en-us" {
		t.Errorf("speak data = %+v", first.Data)
	}
	if meta, _ := first.Data["meta"].(map[string]any); meta["skill"] != DefaultSkillID {
		t.Errorf("speak meta = %+v", first.Data["meta"])
	}

	want := []history.Pair{{Question: "two plus two", Answer: "Four.. Definitely four."}}
	if diff := cmp.Diff(want, h.skill.Tracker().Pairs("s1")); diff != "" {
		t.Errorf("pairs mismatch (-want +got):\n%s", diff)
	}
	if err := h.skill.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestAsk_ProviderFailureSpeaksErrorDialog(t *testing.T) {
	h := newHarness(t, configured())
	if err := h.skill.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.provider.StreamErr = errors.New("insufficient_quota")

	userSays(t, h, "s1", "tell me a joke")
	res := h.skill.Ask(context.Background(), sessionMsg("req", "s1", map[string]any{"utterance": "tell me a joke"})).Wait()
	if !errors.Is(res.Err, ErrNoResponse) {
		t.Fatalf("Err = %v, want ErrNoResponse", res.Err)
	}
	if res.Spoken != 0 {
		t.Errorf("Spoken = %d, want 0", res.Spoken)
	}

	speaks := h.messages(speakEvent)
	if len(speaks) == 0 {
		t.Fatal("nothing spoken")
	}
	last := speaks[len(speaks)-1]
	if got := last.String("utterance"); got != errorDialogText {
		t.Errorf("last speak = %q, want error dialog", got)
	}
	if meta, _ := last.Data["meta"].(map[string]any); meta["dialog"] != ErrorDialog {
		t.Errorf("meta = %+v, want dialog %q", last.Data["meta"], ErrorDialog)
	}

	entries := h.skill.Tracker().Entries("s1")
	if len(entries) == 0 || entries[0] != (history.Entry{Role: history.RoleUser, Text: "tell me a joke"}) {
		t.Errorf("entries = %+v, want the user entry kept", entries)
	}
	_ = h.skill.Shutdown(context.Background())
}

func TestAsk_MidStreamFailureKeepsSpokenFragments(t *testing.T) {
	h := newHarness(t, configured())
	h.provider.StreamChunks = []llm.Chunk{
		{Text: "First part. Second"},
		{Text: "connection reset", FinishReason: llm.FinishReasonError},
	}

	res := h.skill.Ask(context.Background(), sessionMsg("req", "s1", map[string]any{"utterance": "q"})).Wait()
	if !errors.Is(res.Err, ErrNoResponse) {
		t.Fatalf("Err = %v, want ErrNoResponse", res.Err)
	}
	if res.Spoken != 1 {
		t.Errorf("Spoken = %d, want 1", res.Spoken)
	}
	if diff := cmp.Diff([]string{"First part."}, h.spoken()); diff != "" {
		t.Errorf("spoken mismatch (-want +got):\n%s", diff)
	}
}

func TestAsk_NotConfigured(t *testing.T) {
	h := newHarness(t, settings.Settings{})
	res := h.skill.Ask(context.Background(), sessionMsg("req", "s1", map[string]any{"utterance": "q"})).Wait()
	if !errors.Is(res.Err, ErrNotConfigured) {
		t.Fatalf("Err = %v, want ErrNotConfigured", res.Err)
	}
	if diff := cmp.Diff([]string{errorDialogText}, h.spoken()); diff != "" {
		t.Errorf("spoken mismatch (-want +got):\n%s", diff)
	}
}

func TestTask_Done(t *testing.T) {
	h := newHarness(t, configured())
	h.provider.StreamChunks = []llm.Chunk{{Text: "Ok."}}

	task := h.skill.Ask(context.Background(), sessionMsg("req", "s1", map[string]any{"utterance": "q"}))
	if task.ID == "" {
		t.Error("task has no ID")
	}
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
	if res := task.Wait(); res.Spoken != 1 {
		t.Errorf("Spoken = %d, want 1", res.Spoken)
	}
}

func TestShutdown_RejectsNewTurns(t *testing.T) {
	h := newHarness(t, configured())
	h.provider.StreamChunks = []llm.Chunk{{Text: "Ok."}}
	if err := h.skill.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.reset()

	msg := sessionMsg("req", "s1", map[string]any{"utterance": "q"})
	if h.skill.AskChatGPT(msg) {
		t.Error("AskChatGPT = true after Shutdown")
	}
	res := h.skill.Ask(context.Background(), msg).Wait()
	if !errors.Is(res.Err, ErrShutdown) {
		t.Errorf("Err = %v, want ErrShutdown", res.Err)
	}
	if msgs := h.messages(""); len(msgs) != 0 {
		t.Errorf("emitted %d messages after Shutdown: %+v", len(msgs), msgs)
	}
	if n := len(h.provider.Calls()); n != 0 {
		t.Errorf("provider called %d times, want 0", n)
	}
}

func TestShutdown_ConcurrentWithAsk(t *testing.T) {
	h := newHarness(t, configured())
	h.provider.StreamChunks = []llm.Chunk{{Text: "Ok."}}
	msg := sessionMsg("req", "s1", map[string]any{"utterance": "q"})

	var wg sync.WaitGroup
	tasks := make(chan *Task, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tasks <- h.skill.Ask(context.Background(), msg)
		}()
	}
	if err := h.skill.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	wg.Wait()
	close(tasks)

	for task := range tasks {
		select {
		case <-task.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("task still running after Shutdown and all Ask calls returned")
		}
		if err := task.Wait().Err; err != nil && !errors.Is(err, ErrShutdown) {
			t.Errorf("Err = %v, want nil or ErrShutdown", err)
		}
	}
}

func TestDispatch_NotConfigured(t *testing.T) {
	h := newHarness(t, settings.Settings{Endpoint: settings.Endpoint{Model: "gpt-4o"}})
	if _, err := h.skill.Dispatch(context.Background(), "s1", "q"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}

	boom := errors.New("bad yaml")
	h.store.SetErr(boom)
	_, err := h.skill.Dispatch(context.Background(), "s1", "q")
	if !errors.Is(err, ErrNotConfigured) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrNotConfigured wrapping the load error", err)
	}
	if n := len(h.provider.Calls()); n != 0 {
		t.Errorf("provider called %d times, want 0", n)
	}
}

func drain(t *testing.T, st *Stream) []string {
	t.Helper()
	var out []string
	for f := range st.Fragments() {
		out = append(out, f)
	}
	if err := st.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	return out
}

func TestDispatch_PassesHistory(t *testing.T) {
	h := newHarness(t, settings.Settings{
		Endpoint: settings.Endpoint{Key: "sk-test"},
		Persona:  "You are terse.",
	})
	if err := h.skill.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.provider.StreamChunks = []llm.Chunk{{Text: "Blue."}}

	userSays(t, h, "s1", "what color is the sky")
	assistantSays(t, h, "s1", "Blue.")
	userSays(t, h, "s2", "other session")
	userSays(t, h, "s1", "and the sea")

	st, err := h.skill.Dispatch(context.Background(), "s1", "and the sea")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	drain(t, st)

	calls := h.provider.Calls()
	if len(calls) != 1 {
		t.Fatalf("provider called %d times, want 1", len(calls))
	}
	want := []llm.Message{
		{Role: llm.RoleUser, Content: "what color is the sky"},
		{Role: llm.RoleAssistant, Content: "Blue."},
		{Role: llm.RoleUser, Content: "and the sea"},
	}
	if diff := cmp.Diff(want, calls[0].Req.Messages); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if calls[0].Req.SystemPrompt != "You are terse." {
		t.Errorf("SystemPrompt = %q", calls[0].Req.SystemPrompt)
	}
	_ = h.skill.Shutdown(context.Background())
}

func TestDispatch_FailsOverToFallbackEndpoint(t *testing.T) {
	h := newHarness(t, settings.Settings{
		Endpoint:  settings.Endpoint{Key: "sk-test", Model: "primary"},
		Fallbacks: []settings.Endpoint{{Provider: "missing"}, {Model: "backup"}},
	})
	primary := &llmmock.Provider{StreamErr: errors.New("503")}
	backup := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "From backup."}}}
	h.skill.providers = factoryFunc(func(ep settings.Endpoint) (llm.Provider, error) {
		switch {
		case ep.Provider == "missing":
			return nil, errors.New("not registered")
		case ep.Model == "backup":
			if ep.Key != "sk-test" {
				t.Errorf("fallback key = %q, want inherited key", ep.Key)
			}
			return backup, nil
		default:
			return primary, nil
		}
	})

	st, err := h.skill.Dispatch(context.Background(), "s1", "q")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if diff := cmp.Diff([]string{"From backup."}, drain(t, st)); diff != "" {
		t.Errorf("fragments mismatch (-want +got):\n%s", diff)
	}
	if n := len(primary.Calls()); n != 1 {
		t.Errorf("primary called %d times, want 1", n)
	}
}

func TestDispatch_NonOpenAIEndpoint(t *testing.T) {
	h := newHarness(t, settings.Settings{
		Endpoint:  settings.Endpoint{Provider: "anthropic", Key: "sk-ant"},
		Fallbacks: []settings.Endpoint{{Provider: "openai", Key: "sk-oai"}},
	})
	var (
		mu  sync.Mutex
		got []settings.Endpoint
	)
	h.skill.providers = factoryFunc(func(ep settings.Endpoint) (llm.Provider, error) {
		mu.Lock()
		got = append(got, ep)
		mu.Unlock()
		return h.provider, nil
	})
	h.provider.StreamChunks = []llm.Chunk{{Text: "Hi."}}

	st, err := h.skill.Dispatch(context.Background(), "s1", "q")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	drain(t, st)

	want := []settings.Endpoint{
		{Provider: "anthropic", Key: "sk-ant"},
		{Provider: "openai", Key: "sk-oai", APIURL: settings.DefaultAPIURL, Model: settings.DefaultModel},
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("endpoints passed to the factory (-want +got):\n%s", diff)
	}
}

func TestDispatch_BreakerOpensAcrossTurns(t *testing.T) {
	h := newHarness(t, configured(), WithBreaker(resilience.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}))
	h.provider.StreamErr = errors.New("timeout")

	for range 3 {
		if _, err := h.skill.Dispatch(context.Background(), "s1", "q"); !errors.Is(err, ErrNoResponse) {
			t.Fatalf("err = %v, want ErrNoResponse", err)
		}
	}
	if n := len(h.provider.Calls()); n != 2 {
		t.Errorf("provider called %d times, want 2 before the breaker opened", n)
	}
	_, err := h.skill.Dispatch(context.Background(), "s1", "q")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("err = %v, want it to wrap ErrCircuitOpen", err)
	}
	name := settings.Settings{}.WithDefaults().Endpoint.Name()
	if got := h.skill.Breakers().States()[name]; got != resilience.StateOpen {
		t.Errorf("breaker %q state = %v, want open", name, got)
	}
}

func TestFallbackProtocol(t *testing.T) {
	h := newHarness(t, settings.Settings{})
	if err := h.skill.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	reg := h.messages(registerEvent)
	if len(reg) != 1 {
		t.Fatalf("got %d register messages, want 1", len(reg))
	}
	if diff := cmp.Diff(map[string]any{"skill_id": DefaultSkillID, "priority": DefaultPriority}, reg[0].Data); diff != "" {
		t.Errorf("register data mismatch (-want +got):\n%s", diff)
	}

	req := sessionMsg(requestTopic(DefaultSkillID), "s1", map[string]any{"utterance": "hello"})
	req.Context["source"] = "skills"
	req.Context["destination"] = "fallback"

	// Unconfigured: declined.
	if err := h.bus.Emit(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	resp := h.messages(responseTopic(DefaultSkillID))
	if len(resp) != 1 {
		t.Fatalf("got %d responses, want 1", len(resp))
	}
	if diff := cmp.Diff(map[string]any{"result": false, "fallback_handler": handlerName}, resp[0].Data); diff != "" {
		t.Errorf("response data mismatch (-want +got):\n%s", diff)
	}
	if resp[0].Context["source"] != "fallback" || resp[0].Context["destination"] != "skills" {
		t.Errorf("response not routed back: %+v", resp[0].Context)
	}

	// Configured: accepted and answered.
	h.store.Set(configured())
	h.provider.StreamChunks = []llm.Chunk{{Text: "Hi there."}}
	h.reset()
	if err := h.bus.Emit(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	resp = h.messages(responseTopic(DefaultSkillID))
	if len(resp) != 1 || resp[0].Data["result"] != true {
		t.Fatalf("responses = %+v, want one accepted", resp)
	}
	if err := h.skill.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"Hi there."}, h.spoken()); diff != "" {
		t.Errorf("spoken mismatch (-want +got):\n%s", diff)
	}
	if n := len(h.messages(deregisterEvent)); n != 1 {
		t.Errorf("got %d deregister messages, want 1", n)
	}
}

func TestPing(t *testing.T) {
	h := newHarness(t, settings.Settings{}, WithSkillID("my.skill"))
	if err := h.skill.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	ping := bus.NewMessage(pingEvent, map[string]any{"utterances": []any{"x"}})

	for _, st := range []settings.Settings{{}, configured()} {
		h.store.Set(st)
		h.reset()
		if err := h.bus.Emit(context.Background(), ping); err != nil {
			t.Fatal(err)
		}
		pong := h.messages(pongEvent)
		if len(pong) != 1 {
			t.Fatalf("got %d pongs, want 1", len(pong))
		}
		want := map[string]any{"skill_id": "my.skill", "can_handle": st.Configured()}
		if diff := cmp.Diff(want, pong[0].Data); diff != "" {
			t.Errorf("pong mismatch (-want +got):\n%s", diff)
		}
	}
	_ = h.skill.Shutdown(context.Background())
}

func TestReadyReRegisters(t *testing.T) {
	h := newHarness(t, settings.Settings{}, WithPriority(10))
	if err := h.skill.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.bus.Emit(context.Background(), bus.NewMessage(readyEvent, nil)); err != nil {
		t.Fatal(err)
	}
	reg := h.messages(registerEvent)
	if len(reg) != 2 {
		t.Fatalf("got %d register messages, want 2", len(reg))
	}
	if reg[1].Data["priority"] != 10 {
		t.Errorf("priority = %v, want 10", reg[1].Data["priority"])
	}
	_ = h.skill.Shutdown(context.Background())
}

func TestHistoryHandlers(t *testing.T) {
	h := newHarness(t, settings.Settings{})
	if err := h.skill.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Spoken output before any user utterance is not recorded.
	assistantSays(t, h, "s1", "Welcome.")
	userSays(t, h, "s1", "")
	if n := h.skill.Tracker().Sessions(); n != 0 {
		t.Fatalf("Sessions = %d, want 0", n)
	}

	userSays(t, h, "s1", "q1")
	assistantSays(t, h, "s1", "")
	assistantSays(t, h, "s1", "a1")
	if err := h.bus.Emit(context.Background(), bus.NewMessage(utteranceEvent, map[string]any{"utterances": []any{"default q"}})); err != nil {
		t.Fatal(err)
	}

	want := []history.Entry{{Role: history.RoleUser, Text: "q1"}, {Role: history.RoleAI, Text: "a1"}}
	if diff := cmp.Diff(want, h.skill.Tracker().Entries("s1")); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
	if got := h.skill.Tracker().Entries("default"); len(got) != 1 {
		t.Errorf("default session entries = %+v", got)
	}

	if err := h.skill.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	userSays(t, h, "s1", "after shutdown")
	if n := len(h.skill.Tracker().Entries("s1")); n != 2 {
		t.Errorf("entries after shutdown = %d, want 2", n)
	}
}

func TestMetrics(t *testing.T) {
	h := newHarness(t, configured())
	if err := h.skill.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.provider.StreamChunks = []llm.Chunk{{Text: "One. Two."}}

	userSays(t, h, "s1", "q")
	h.skill.Ask(context.Background(), sessionMsg("req", "s1", map[string]any{"utterance": "q"})).Wait()
	h.provider.StreamErr = errors.New("down")
	h.skill.Ask(context.Background(), sessionMsg("req", "s1", map[string]any{"utterance": "q"})).Wait()
	_ = h.skill.Shutdown(context.Background())

	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	sums := map[string]map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			sums[m.Name] = map[string]int64{}
			for _, dp := range sum.DataPoints {
				label := ""
				for _, kv := range dp.Attributes.ToSlice() {
					if kv.Key == "result" || kv.Key == "kind" {
						label = kv.Value.AsString()
					}
				}
				sums[m.Name][label] += dp.Value
			}
		}
	}

	checks := []struct {
		metric, label string
		want          int64
	}{
		{"gptfallback.fallback.requests", observe.ResultAnswered, 1},
		{"gptfallback.fallback.requests", observe.ResultNoResponse, 1},
		{"gptfallback.fragments", "", 2},
		{"gptfallback.provider.errors", "start", 1},
		{"gptfallback.active_sessions", "", 1},
	}
	for _, c := range checks {
		if got := sums[c.metric][c.label]; got != c.want {
			t.Errorf("%s[%s] = %d, want %d", c.metric, c.label, got, c.want)
		}
	}
}
