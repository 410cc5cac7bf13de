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

// TagHandler is the analytics-channel persona: categorize, summarize, and
// answer with thread context.
type TagHandler struct {
	persona persona
	deps    Deps
}

func (h *TagHandler) Name() string { return "tags" }

func (h *TagHandler) Handle(ctx context.Context, ev bus.InboundEvent) error {
	userName := h.deps.Messenger.UserDisplayName(ctx, ev.UserID)
	threadCtx := threadContext(ctx, h.deps, ev, userName)

	prompt := fmt.Sprintf("Today's date is %s. Respond to this thread:\n%s", h.deps.today(), threadCtx)

	out, err := h.deps.Generator.GenerateText(ctx, h.persona.request(prompt))
	switch {
	case err == nil:
	case errors.Is(err, genai.ErrEmptyResponse):
		out = fallbackTags
	case genai.IsRetryable(err):
		return fmt.Errorf("tags: generate: %w", err)
	default:
		slog.Warn("tags: permanent backend failure, sending fallback", "event", ev.EventID, "error", err)
		out = fallbackTags
	}

	if strings.TrimSpace(out) == "" {
		out = fallbackTags
	}
	if err := h.deps.Messenger.PostThreadReply(ctx, ev.ChannelID, ev.ThreadTS, out); err != nil {
		return fmt.Errorf("tags: post reply: %w", err)
	}
	return nil
}
