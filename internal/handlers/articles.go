package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nautilabs/nautifier/internal/bus"
	"github.com/nautilabs/nautifier/internal/genai"
	"github.com/nautilabs/nautifier/internal/store"
)

// ArticleHandler files shared links into the article ledger with topic tags
// extracted by the model. Ledger write first, confirmation second.
type ArticleHandler struct {
	persona persona
	deps    Deps
}

func (h *ArticleHandler) Name() string { return "articles" }

type articleExtract struct {
	URL  string   `json:"url"`
	Tags []string `json:"tags"`
}

func (h *ArticleHandler) Handle(ctx context.Context, ev bus.InboundEvent) error {
	userName := h.deps.Messenger.UserDisplayName(ctx, ev.UserID)

	prompt := fmt.Sprintf("Message from %s: %s", userName, ev.Text)

	out, err := h.deps.Generator.GenerateText(ctx, h.persona.request(prompt))
	if err != nil {
		if genai.IsRetryable(err) {
			return fmt.Errorf("articles: generate: %w", err)
		}
		slog.Warn("articles: permanent backend failure, sending fallback", "event", ev.EventID, "error", err)
		return h.deps.Messenger.PostThreadReply(ctx, ev.ChannelID, ev.ThreadTS, fallbackArticles)
	}

	raw, found := genai.ExtractFencedJSON(out)
	if !found {
		text := strings.TrimSpace(out)
		if text == "" {
			text = fallbackArticles
		}
		return h.deps.Messenger.PostThreadReply(ctx, ev.ChannelID, ev.ThreadTS, text)
	}

	var extract articleExtract
	if err := json.Unmarshal([]byte(raw), &extract); err != nil || extract.URL == "" {
		return h.deps.Messenger.PostThreadReply(ctx, ev.ChannelID, ev.ThreadTS, fallbackArticles)
	}

	article := store.Article{
		EventID:     ev.EventID,
		URL:         extract.URL,
		Tags:        extract.Tags,
		SubmittedBy: userName,
		SubmittedAt: h.deps.now(),
	}
	if err := h.deps.Articles.Append(ctx, article); err != nil {
		return fmt.Errorf("articles: append ledger entry: %w", err)
	}

	reply := fmt.Sprintf("Saved! %s (tags: %s)", extract.URL, strings.Join(extract.Tags, ", "))
	if len(extract.Tags) == 0 {
		reply = fmt.Sprintf("Saved! %s", extract.URL)
	}
	if err := h.deps.Messenger.PostThreadReply(ctx, ev.ChannelID, ev.ThreadTS, reply); err != nil {
		return fmt.Errorf("articles: post reply: %w", err)
	}
	return nil
}
