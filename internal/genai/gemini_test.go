package genai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func candidateResponse(texts ...string) string {
	parts := make([]map[string]string, 0, len(texts))
	for _, txt := range texts {
		parts = append(parts, map[string]string{"text": txt})
	}
	b, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": parts}},
		},
	})
	return string(b)
}

func testClient(srv *httptest.Server) *Client {
	return New("test-key",
		WithBaseURL(srv.URL),
		WithRetryConfig(RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}),
	)
}

func TestGenerateText_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-2.0-flash-lite:generateContent" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key in query")
		}
		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Contents) != 1 || req.Contents[0].Parts[0].Text != "hello" {
			t.Errorf("unexpected contents: %+v", req.Contents)
		}
		if req.SystemInstruction == nil || req.SystemInstruction.Parts[0].Text != "be brief" {
			t.Errorf("system instruction not forwarded")
		}
		w.Write([]byte(candidateResponse("thinking...", "the answer")))
	}))
	defer srv.Close()

	got, err := testClient(srv).GenerateText(context.Background(), Request{
		Model:  "gemini-2.0-flash-lite",
		System: "be brief",
		Prompt: "hello",
	})
	if err != nil {
		t.Fatalf("expected success, got: %v", err)
	}
	// The final answer is the last part.
	if got != "the answer" {
		t.Errorf("got %q, want %q", got, "the answer")
	}
}

func TestGenerateText_RetriesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(candidateResponse("recovered")))
	}))
	defer srv.Close()

	got, err := testClient(srv).GenerateText(context.Background(), Request{Model: "m", Prompt: "p"})
	if err != nil {
		t.Fatalf("expected success after retry, got: %v", err)
	}
	if got != "recovered" {
		t.Errorf("got %q, want %q", got, "recovered")
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestGenerateText_BadRequestIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error": "invalid argument"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testClient(srv).GenerateText(context.Background(), Request{Model: "m", Prompt: "p"})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got: %v", err)
	}
	if httpErr.Status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", httpErr.Status)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestGenerateText_EmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": []}`))
	}))
	defer srv.Close()

	_, err := testClient(srv).GenerateText(context.Background(), Request{Model: "m", Prompt: "p"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got: %v", err)
	}
}
