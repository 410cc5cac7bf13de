// Package handlers contains the persona handlers that run on the consumer
// side. Each handler builds a prompt from the event (and thread context),
// calls the generative backend, performs any structured side effects, and
// posts a threaded reply. Side effects always happen before the reply so a
// user is never told something succeeded when it did not.
//
// Failure contract: returning an error asks the queue to retry (transient
// infrastructure or backend trouble); permanent failures are absorbed with a
// safe fallback reply and a nil return.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nautilabs/nautifier/internal/bus"
	"github.com/nautilabs/nautifier/internal/config"
	"github.com/nautilabs/nautifier/internal/genai"
	"github.com/nautilabs/nautifier/internal/store"
	"github.com/nautilabs/nautifier/internal/worker"
)

// Messenger is the chat-platform surface handlers need.
type Messenger interface {
	PostThreadReply(ctx context.Context, channelID, threadTS, text string) error
	UserDisplayName(ctx context.Context, userID string) string
	ThreadTranscript(ctx context.Context, channelID, threadTS string) ([]string, error)
}

// Generator is the generative backend surface handlers need.
type Generator interface {
	GenerateText(ctx context.Context, req genai.Request) (string, error)
}

// Deps bundles the collaborators shared by all handlers.
type Deps struct {
	Messenger Messenger
	Generator Generator
	Leaves    store.LeaveLedger
	Articles  store.ArticleLedger
	Location  *time.Location
}

// persona carries the resolved model parameters for one channel binding.
type persona struct {
	system          string
	model           string
	temperature     float64
	topP            float64
	topK            int
	maxOutputTokens int
}

func (p persona) request(prompt string) genai.Request {
	return genai.Request{
		Model:           p.model,
		System:          p.system,
		Prompt:          prompt,
		Temperature:     p.temperature,
		TopP:            p.topP,
		TopK:            p.topK,
		MaxOutputTokens: p.maxOutputTokens,
	}
}

// FromBinding builds the handler for one channel binding. Persona text and
// model default per kind when the binding leaves them empty.
func FromBinding(b config.ChannelBinding, gemini config.GeminiConfig, deps Deps) (worker.Handler, error) {
	p := persona{
		system:          b.Persona,
		model:           b.Model,
		temperature:     b.Temperature,
		topP:            b.TopP,
		topK:            b.TopK,
		maxOutputTokens: b.MaxOutputTokens,
	}
	if p.model == "" {
		p.model = gemini.DefaultModel
	}
	if p.topP == 0 {
		p.topP = 0.95
	}
	if p.topK == 0 {
		p.topK = 64
	}

	switch b.Kind {
	case config.KindLeaves:
		if p.system == "" {
			p.system = defaultLeavesPersona
		}
		if p.maxOutputTokens == 0 {
			p.maxOutputTokens = 2048
		}
		if deps.Leaves == nil {
			return nil, fmt.Errorf("channel %s: leaves handler needs a leave ledger", b.ChannelID)
		}
		return &LeaveHandler{persona: p, deps: deps}, nil

	case config.KindTags:
		if p.system == "" {
			p.system = defaultTagsPersona
		}
		if p.maxOutputTokens == 0 {
			p.maxOutputTokens = 2048
		}
		return &TagHandler{persona: p, deps: deps}, nil

	case config.KindChat:
		if p.system == "" {
			p.system = defaultChatPersona
		}
		if p.maxOutputTokens == 0 {
			p.maxOutputTokens = 256
		}
		return &ChatHandler{persona: p, deps: deps}, nil

	case config.KindArticles:
		if p.system == "" {
			p.system = defaultArticlesPersona
		}
		if p.maxOutputTokens == 0 {
			p.maxOutputTokens = 1024
		}
		if deps.Articles == nil {
			return nil, fmt.Errorf("channel %s: articles handler needs an article ledger", b.ChannelID)
		}
		return &ArticleHandler{persona: p, deps: deps}, nil
	}
	return nil, fmt.Errorf("channel %s: unknown kind %q", b.ChannelID, b.Kind)
}

// BuildRoutes constructs the full channel routing table from config.
func BuildRoutes(cfg *config.Config, deps Deps) (map[string]worker.Handler, error) {
	routes := make(map[string]worker.Handler, len(cfg.Channels))
	for _, b := range cfg.Channels {
		h, err := FromBinding(b, cfg.Gemini, deps)
		if err != nil {
			return nil, err
		}
		routes[b.ChannelID] = h
	}
	return routes, nil
}

// today renders the current date for prompt injection.
func (d Deps) today() string {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	return time.Now().In(loc).Format("02/01/2006")
}

// now returns the handler clock in the configured timezone.
func (d Deps) now() time.Time {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	return time.Now().In(loc)
}

// threadContext formats the thread transcript plus the triggering message as
// numbered lines. A transcript fetch failure degrades to just the current
// message; context is enrichment, not a reason to burn a retry.
func threadContext(ctx context.Context, d Deps, ev bus.InboundEvent, userName string) string {
	lines, err := d.Messenger.ThreadTranscript(ctx, ev.ChannelID, ev.ThreadTS)
	if err != nil {
		slog.Warn("thread transcript unavailable, using current message only",
			"channel", ev.ChannelID, "thread", ev.ThreadTS, "error", err)
	}
	if len(lines) == 0 {
		lines = []string{fmt.Sprintf("%s: %s", userName, ev.Text)}
	}
	out := ""
	for i, l := range lines {
		out += fmt.Sprintf("Message %d: %s\n", i+1, l)
	}
	return out
}
