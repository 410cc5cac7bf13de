// Package gateway is the synchronous intake side: it terminates the Slack
// Events API webhook, deduplicates deliveries, and hands fresh events to the
// task queue. Nothing on this path may call the generative backend — the
// whole point of the gateway is that its latency is independent of handler
// latency.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nautilabs/nautifier/internal/bus"
	"github.com/nautilabs/nautifier/internal/config"
	"github.com/nautilabs/nautifier/internal/store"
)

// Pinger is the readiness dependency (the database pool).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server handles webhook intake. All dependencies are injected; the server
// owns no state beyond the rate limiter.
type Server struct {
	cfg           config.GatewayConfig
	signingSecret string
	dedupTTL      time.Duration

	dedup store.DedupStore
	queue store.TaskQueue
	db    Pinger

	limiter    *WebhookRateLimiter
	httpServer *http.Server
}

func NewServer(cfg config.GatewayConfig, signingSecret string, dedupTTL time.Duration, dedup store.DedupStore, queue store.TaskQueue, db Pinger) *Server {
	return &Server{
		cfg:           cfg,
		signingSecret: signingSecret,
		dedupTTL:      dedupTTL,
		dedup:         dedup,
		queue:         queue,
		db:            db,
		limiter:       NewWebhookRateLimiter(cfg.RateLimitPerMinute, time.Minute),
	}
}

// BuildMux registers the intake routes.
func (s *Server) BuildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /slack/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.BuildMux(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	slog.Info("intake gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db unreachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEvents is the webhook entry point. Slack redelivers anything that
// does not get a 2xx within 3 seconds, so the dedup check-and-set plus the
// enqueue must finish inside the intake budget.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.IntakeTimeout())
	defer cancel()

	ctx, span := otel.Tracer("nautifier/gateway").Start(ctx, "slack.intake")
	defer span.End()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
		return
	}

	// Authenticate before anything else: no dedup record, no enqueue, no
	// log of attacker-controlled content on a bad signature.
	sv, err := slackapi.NewSecretsVerifier(r.Header, s.signingSecret)
	if err == nil {
		if _, werr := sv.Write(body); werr == nil {
			err = sv.Ensure()
		} else {
			err = werr
		}
	}
	if err != nil {
		slog.Warn("webhook signature rejected", "remote", r.RemoteAddr, "error", err)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad signature"})
		return
	}

	if !s.limiter.Allow(remoteHost(r)) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
		return
	}

	apiEvent, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed event"})
		return
	}

	switch apiEvent.Type {
	case slackevents.URLVerification:
		var ch slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &ch); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed challenge"})
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(ch.Challenge))

	case slackevents.CallbackEvent:
		s.handleCallback(ctx, w, &apiEvent, span.SetAttributes)

	default:
		// Unknown envelope types are acknowledged so Slack stops retrying.
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	}
}

// handleCallback extracts the inner event, runs the dedup check-and-set and
// enqueues first sightings.
func (s *Server) handleCallback(ctx context.Context, w http.ResponseWriter, apiEvent *slackevents.EventsAPIEvent, setAttrs func(...attribute.KeyValue)) {
	ev, ok := extractEvent(apiEvent)
	if !ok {
		// Bot echoes, edits, and event types we do not handle. Acknowledge
		// so the sender does not retry.
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if ev.EventID == "" || ev.ChannelID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing event_id or channel"})
		return
	}
	setAttrs(attribute.String("slack.event_id", ev.EventID), attribute.String("slack.channel", ev.ChannelID))

	created, err := s.dedup.TestAndSet(ctx, ev.EventID, s.dedupTTL)
	if err != nil {
		slog.Error("dedup check failed", "event", ev.EventID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "dedup store unavailable"})
		return
	}
	if !created {
		// Expected steady-state under redelivery: accept and do nothing.
		slog.Info("duplicate delivery discarded", "event", ev.EventID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	if _, err := s.queue.Enqueue(ctx, ev); err != nil {
		// Roll back the dedup record so a genuine Slack retry is treated
		// as fresh instead of silently dropped (no phantom records).
		slog.Error("enqueue failed, rolling back dedup record", "event", ev.EventID, "error", err)
		if delErr := s.dedup.Delete(context.WithoutCancel(ctx), ev.EventID); delErr != nil {
			slog.Error("dedup rollback failed", "event", ev.EventID, "error", delErr)
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue unavailable"})
		return
	}

	slog.Info("event queued", "event", ev.EventID, "channel", ev.ChannelID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

// extractEvent maps the supported inner event types onto a bus.InboundEvent.
// Returns ok=false for events that should be acknowledged without queueing.
func extractEvent(apiEvent *slackevents.EventsAPIEvent) (bus.InboundEvent, bool) {
	callback, ok := apiEvent.Data.(*slackevents.EventsAPICallbackEvent)
	if !ok {
		return bus.InboundEvent{}, false
	}

	ev := bus.InboundEvent{
		EventID:    callback.EventID,
		ReceivedAt: time.Now().UTC(),
	}

	switch inner := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		if inner.BotID != "" {
			return bus.InboundEvent{}, false
		}
		ev.ChannelID = inner.Channel
		ev.UserID = inner.User
		ev.Text = inner.Text
		ev.EventTS = inner.TimeStamp
		ev.ThreadTS = inner.ThreadTimeStamp
	case *slackevents.MessageEvent:
		// Skip bot echoes (reply loops) and message edits/deletes.
		if inner.BotID != "" || inner.SubType != "" {
			return bus.InboundEvent{}, false
		}
		ev.ChannelID = inner.Channel
		ev.UserID = inner.User
		ev.Text = inner.Text
		ev.EventTS = inner.TimeStamp
		ev.ThreadTS = inner.ThreadTimeStamp
	default:
		return bus.InboundEvent{}, false
	}

	if ev.ThreadTS == "" {
		ev.ThreadTS = ev.EventTS
	}
	if ev.EventID == "" {
		// Older payloads carry no envelope id; the event timestamp is
		// stable across redeliveries and serves as the dedup key.
		ev.EventID = ev.EventTS
	}
	return ev, true
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
