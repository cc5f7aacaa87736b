package fallback

import (
	"context"

	"github.com/MrWong99/gptfallback/internal/session"
	"github.com/MrWong99/gptfallback/pkg/bus"
)

// Fallback host protocol. The host asks registered skills in priority order
// whether they can handle an utterance; each answers with a response event
// naming its handler and whether it took the turn.
const (
	registerEvent   = "ovos.skills.fallback.register"
	deregisterEvent = "ovos.skills.fallback.deregister"
	pingEvent       = "ovos.skills.fallback.ping"
	pongEvent       = "ovos.skills.fallback.pong"

	// readyEvent is broadcast when the skills service (re)starts; fallback
	// registrations are lost with it.
	readyEvent = "mycroft.ready"

	// handlerName identifies the skill's fallback handler in responses.
	handlerName = "ask_chatgpt"
)

func requestTopic(skillID string) string {
	return "ovos.skills.fallback." + skillID + ".request"
}

func responseTopic(skillID string) string {
	return "ovos.skills.fallback." + skillID + ".response"
}

// handleUtterance records what the user said. Only the first transcription
// hypothesis is kept.
func (s *Skill) handleUtterance(msg bus.Message) {
	s.metrics.RecordBusMessage(s.baseCtx, msg.Type)
	utts := msg.Strings("utterances")
	if len(utts) == 0 || utts[0] == "" {
		return
	}
	s.tracker.RecordUserUtterance(session.ID(msg), utts[0])
}

// handleSpeak records what the assistant said, whichever skill spoke.
func (s *Skill) handleSpeak(msg bus.Message) {
	s.metrics.RecordBusMessage(s.baseCtx, msg.Type)
	utt := msg.String("utterance")
	if utt == "" {
		return
	}
	s.tracker.RecordSpokenOutput(session.ID(msg), utt)
}

// handlePing answers the host's capability probe: the skill can handle any
// utterance once it is configured.
func (s *Skill) handlePing(msg bus.Message) {
	s.metrics.RecordBusMessage(s.baseCtx, msg.Type)
	s.emit(s.baseCtx, msg.Reply(pongEvent, map[string]any{
		"skill_id":   s.skillID,
		"can_handle": s.Configured(),
	}))
}

// handleFallbackRequest runs the handler for a turn the host routed to this
// skill and reports whether it was taken.
func (s *Skill) handleFallbackRequest(msg bus.Message) {
	s.metrics.RecordBusMessage(s.baseCtx, msg.Type)
	handled := s.AskChatGPT(msg)
	s.emit(s.baseCtx, msg.Reply(responseTopic(s.skillID), map[string]any{
		"result":           handled,
		"fallback_handler": handlerName,
	}))
}

// utteranceOf returns the utterance of a fallback request. Hosts send either
// "utterance" or a list of hypotheses in "utterances".
func utteranceOf(msg bus.Message) string {
	if u := msg.String("utterance"); u != "" {
		return u
	}
	if utts := msg.Strings("utterances"); len(utts) > 0 {
		return utts[0]
	}
	return ""
}

// speak says text in reply to msg, keeping msg's routing.
func (s *Skill) speak(ctx context.Context, msg bus.Message, text string, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["skill"] = s.skillID
	out := msg.Forward(speakEvent, map[string]any{
		"utterance":       text,
		"expect_response": false,
		"meta":            meta,
		"lang":            session.Lang(msg, s.lang),
	})
	out.Context["skill_id"] = s.skillID
	s.emit(ctx, out)
}

// speakDialog renders and speaks a canned dialog.
func (s *Skill) speakDialog(ctx context.Context, msg bus.Message, name string) {
	text, err := s.dialogs.Render(session.Lang(msg, s.lang), name)
	if err != nil {
		s.logger(ctx).Error("fallback: render dialog", "dialog", name, "err", err)
		return
	}
	s.speak(ctx, msg, text, map[string]any{"dialog": name, "data": map[string]any{}})
}

func (s *Skill) emit(ctx context.Context, msg bus.Message) {
	if err := s.bus.Emit(ctx, msg); err != nil {
		s.logger(ctx).Warn("fallback: emit failed", "type", msg.Type, "err", err)
	}
}
