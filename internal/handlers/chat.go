package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nautilabs/nautifier/internal/bus"
	"github.com/nautilabs/nautifier/internal/genai"
)

// ChatHandler is the casual-channel persona: thread-aware banter, nothing
// structured, always replies with something.
type ChatHandler struct {
	persona persona
	deps    Deps
}

func (h *ChatHandler) Name() string { return "chat" }

func (h *ChatHandler) Handle(ctx context.Context, ev bus.InboundEvent) error {
	userName := h.deps.Messenger.UserDisplayName(ctx, ev.UserID)
	threadCtx := threadContext(ctx, h.deps, ev, userName)

	prompt := fmt.Sprintf("Today's date is %s. Respond to this thread:\n%s", h.deps.today(), threadCtx)

	out, err := h.deps.Generator.GenerateText(ctx, h.persona.request(prompt))
	switch {
	case err == nil:
	case errors.Is(err, genai.ErrEmptyResponse):
		out = fallbackChatDry
	case genai.IsRetryable(err):
		return fmt.Errorf("chat: generate: %w", err)
	default:
		slog.Warn("chat: permanent backend failure, sending fallback", "event", ev.EventID, "error", err)
		out = fallbackChat
	}

	if strings.TrimSpace(out) == "" {
		out = fallbackChatDry
	}
	if err := h.deps.Messenger.PostThreadReply(ctx, ev.ChannelID, ev.ThreadTS, out); err != nil {
		return fmt.Errorf("chat: post reply: %w", err)
	}
	return nil
}
