package slack

import (
	"context"
	"testing"
)

func TestFormatTranscriptLine(t *testing.T) {
	tests := []struct {
		name, text, want string
	}{
		{"Priya Sharma", "hello there", "Priya Sharma: hello there"},
		{"System", "  padded  ", "System: padded"},
		{"Bot", "", "Bot: "},
	}
	for _, tt := range tests {
		if got := FormatTranscriptLine(tt.name, tt.text); got != tt.want {
			t.Errorf("FormatTranscriptLine(%q, %q) = %q, want %q", tt.name, tt.text, got, tt.want)
		}
	}
}

func TestUserLabel(t *testing.T) {
	c := New("xoxb-test", 1, 10)
	// Pre-seed the name cache so no Web API calls happen.
	c.names["U123"] = "Priya Sharma"
	c.names["W456"] = "Asha Rao"

	tests := []struct {
		userID string
		want   string
	}{
		{"U123", "Priya Sharma"},
		{"W456", "Asha Rao"}, // Enterprise Grid id
		{"B042", "System"},   // bot
		{"", "System"},
	}
	ctx := context.Background()
	for _, tt := range tests {
		if got := c.userLabel(ctx, tt.userID); got != tt.want {
			t.Errorf("userLabel(%q) = %q, want %q", tt.userID, got, tt.want)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	c := New("xoxb-test", 0, 0)
	if c.historyLimit != 100 {
		t.Errorf("historyLimit = %d, want 100", c.historyLimit)
	}
	if c.limiter == nil {
		t.Fatal("limiter must be initialised")
	}
}
