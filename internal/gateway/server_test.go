package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nautilabs/nautifier/internal/bus"
	"github.com/nautilabs/nautifier/internal/config"
	"github.com/nautilabs/nautifier/internal/store"
)

const testSigningSecret = "8f742231b10e8888abcd99yyyzzz85a5"

// fakeDedup is an in-memory DedupStore with injectable failures.
type fakeDedup struct {
	mu      sync.Mutex
	seen    map[string]bool
	failSet bool
	deleted []string
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{seen: make(map[string]bool)}
}

func (f *fakeDedup) TestAndSet(_ context.Context, eventID string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet {
		return false, errors.New("dedup store down")
	}
	if f.seen[eventID] {
		return false, nil
	}
	f.seen[eventID] = true
	return true, nil
}

func (f *fakeDedup) Delete(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, eventID)
	f.deleted = append(f.deleted, eventID)
	return nil
}

func (f *fakeDedup) PurgeExpired(_ context.Context) (int64, error) { return 0, nil }

// fakeQueue records enqueued events and can be made to fail.
type fakeQueue struct {
	mu       sync.Mutex
	enqueued []bus.InboundEvent
	failNext bool
}

func (f *fakeQueue) Enqueue(_ context.Context, ev bus.InboundEvent) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return uuid.Nil, errors.New("queue down")
	}
	f.enqueued = append(f.enqueued, ev)
	return uuid.New(), nil
}

func (f *fakeQueue) Dequeue(_ context.Context, _ time.Duration) (*bus.QueuedTask, error) {
	return nil, store.ErrNoTask
}
func (f *fakeQueue) Ack(_ context.Context, _ uuid.UUID) error { return nil }
func (f *fakeQueue) Nack(_ context.Context, _ uuid.UUID, _ string, _ int, _ time.Duration) error {
	return nil
}
func (f *fakeQueue) RequeueExpiredLeases(_ context.Context) (int64, error) { return 0, nil }
func (f *fakeQueue) DeadLetters(_ context.Context, _ int) ([]store.DeadTask, error) {
	return nil, nil
}

func newTestServer(dedup store.DedupStore, queue store.TaskQueue) *Server {
	cfg := config.Default().Gateway
	return NewServer(cfg, testSigningSecret, 24*time.Hour, dedup, queue, nil)
}

// sign produces the Slack request signature headers for a body.
func sign(t *testing.T, req *http.Request, body []byte) {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testSigningSecret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set("Content-Type", "application/json")
}

func callbackBody(eventID, channel, text string) []byte {
	return innerEventBody(eventID, map[string]any{
		"type":    "message",
		"channel": channel,
		"user":    "U123",
		"text":    text,
		"ts":      "1725000000.000100",
	})
}

func innerEventBody(eventID string, inner map[string]any) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":     "event_callback",
		"token":    "tok",
		"team_id":  "T1",
		"event_id": eventID,
		"event":    inner,
	})
	return b
}

func postEvents(t *testing.T, srv *Server, body []byte, signed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewReader(body))
	req.RemoteAddr = "203.0.113.10:44321"
	if signed {
		sign(t, req, body)
	}
	rec := httptest.NewRecorder()
	srv.BuildMux().ServeHTTP(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out["status"]
}

func TestHandleEvents_QueuesFirstSighting(t *testing.T) {
	dedup := newFakeDedup()
	queue := &fakeQueue{}
	srv := newTestServer(dedup, queue)

	rec := postEvents(t, srv, callbackBody("Ev001", "C100", "need 2 days off"), true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	if got := decodeStatus(t, rec); got != "queued" {
		t.Errorf("status field = %q, want %q", got, "queued")
	}
	if len(queue.enqueued) != 1 {
		t.Fatalf("expected 1 enqueued event, got %d", len(queue.enqueued))
	}
	ev := queue.enqueued[0]
	if ev.EventID != "Ev001" || ev.ChannelID != "C100" || ev.UserID != "U123" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.ThreadTS != "1725000000.000100" {
		t.Errorf("ThreadTS should fall back to the event ts, got %q", ev.ThreadTS)
	}
}

func TestHandleEvents_DuplicateIsAcceptedNotQueued(t *testing.T) {
	dedup := newFakeDedup()
	queue := &fakeQueue{}
	srv := newTestServer(dedup, queue)

	body := callbackBody("Ev002", "C100", "hello")
	postEvents(t, srv, body, true)
	rec := postEvents(t, srv, body, true)

	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery must still get 200, got %d", rec.Code)
	}
	if got := decodeStatus(t, rec); got != "duplicate" {
		t.Errorf("status field = %q, want %q", got, "duplicate")
	}
	if len(queue.enqueued) != 1 {
		t.Errorf("expected exactly 1 enqueued event, got %d", len(queue.enqueued))
	}
}

func TestHandleEvents_EnqueueFailureRollsBackDedup(t *testing.T) {
	dedup := newFakeDedup()
	queue := &fakeQueue{failNext: true}
	srv := newTestServer(dedup, queue)

	body := callbackBody("Ev003", "C100", "hello")
	rec := postEvents(t, srv, body, true)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if len(dedup.deleted) != 1 || dedup.deleted[0] != "Ev003" {
		t.Fatalf("dedup record was not rolled back: %v", dedup.deleted)
	}

	// A retry after the outage must be treated as fresh.
	queue.failNext = false
	rec = postEvents(t, srv, body, true)
	if got := decodeStatus(t, rec); got != "queued" {
		t.Errorf("retry after rollback: status = %q, want %q", got, "queued")
	}
}

func TestHandleEvents_DedupFailureReturns503(t *testing.T) {
	dedup := newFakeDedup()
	dedup.failSet = true
	queue := &fakeQueue{}
	srv := newTestServer(dedup, queue)

	rec := postEvents(t, srv, callbackBody("Ev004", "C100", "hello"), true)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if len(queue.enqueued) != 0 {
		t.Errorf("nothing should be enqueued when dedup is down")
	}
}

func TestHandleEvents_BadSignatureRejected(t *testing.T) {
	dedup := newFakeDedup()
	queue := &fakeQueue{}
	srv := newTestServer(dedup, queue)

	rec := postEvents(t, srv, callbackBody("Ev005", "C100", "hello"), false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(queue.enqueued) != 0 || len(dedup.seen) != 0 {
		t.Errorf("unauthenticated requests must leave no trace")
	}
}

func TestHandleEvents_URLVerificationChallenge(t *testing.T) {
	srv := newTestServer(newFakeDedup(), &fakeQueue{})

	body, _ := json.Marshal(map[string]string{
		"type":      "url_verification",
		"token":     "tok",
		"challenge": "ch4lleng3",
	})
	rec := postEvents(t, srv, body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ch4lleng3" {
		t.Errorf("challenge echo = %q, want %q", rec.Body.String(), "ch4lleng3")
	}
}

func TestHandleEvents_BotEchoIgnored(t *testing.T) {
	dedup := newFakeDedup()
	queue := &fakeQueue{}
	srv := newTestServer(dedup, queue)

	body := innerEventBody("Ev006", map[string]any{
		"type":    "message",
		"channel": "C100",
		"bot_id":  "B042",
		"text":    "I am the bot's own reply",
		"ts":      "1725000001.000100",
	})
	rec := postEvents(t, srv, body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := decodeStatus(t, rec); got != "ignored" {
		t.Errorf("status field = %q, want %q", got, "ignored")
	}
	if len(queue.enqueued) != 0 {
		t.Errorf("bot echoes must not be queued")
	}
}

func TestHandleEvents_MessageEditIgnored(t *testing.T) {
	dedup := newFakeDedup()
	queue := &fakeQueue{}
	srv := newTestServer(dedup, queue)

	body := innerEventBody("Ev007", map[string]any{
		"type":    "message",
		"subtype": "message_changed",
		"channel": "C100",
		"user":    "U123",
		"text":    "edited text",
		"ts":      "1725000002.000100",
	})
	rec := postEvents(t, srv, body, true)
	if got := decodeStatus(t, rec); got != "ignored" {
		t.Errorf("status field = %q, want %q", got, "ignored")
	}
	if len(queue.enqueued) != 0 {
		t.Errorf("message edits must not be queued")
	}
}

func TestHandleEvents_ThreadReplyKeepsThreadTS(t *testing.T) {
	dedup := newFakeDedup()
	queue := &fakeQueue{}
	srv := newTestServer(dedup, queue)

	body := innerEventBody("Ev008", map[string]any{
		"type":      "message",
		"channel":   "C100",
		"user":      "U123",
		"text":      "reply inside the thread",
		"ts":        "1725000003.000200",
		"thread_ts": "1725000000.000100",
	})
	postEvents(t, srv, body, true)
	if len(queue.enqueued) != 1 {
		t.Fatalf("expected 1 enqueued event, got %d", len(queue.enqueued))
	}
	if got := queue.enqueued[0].ThreadTS; got != "1725000000.000100" {
		t.Errorf("ThreadTS = %q, want the thread root", got)
	}
}
