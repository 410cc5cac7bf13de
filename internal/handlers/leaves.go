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

// LeaveHandler extracts structured leave announcements, books them in the
// leave ledger, and acknowledges in-thread. Ledger writes precede the reply:
// a booking that fails must never be confirmed to the user.
type LeaveHandler struct {
	persona persona
	deps    Deps
}

func (h *LeaveHandler) Name() string { return "leaves" }

// leaveItem is one element of the model's JSON array after the leading
// reply string. Action distinguishes cancellations from bookings.
type leaveItem struct {
	Action       string  `json:"action,omitempty"`
	LeaveType    string  `json:"leave_type"`
	FromDate     string  `json:"from_date"`
	ToDate       string  `json:"to_date"`
	NumDays      float64 `json:"num_days"`
	ReasonStated string  `json:"reason_stated"`
}

func (h *LeaveHandler) Handle(ctx context.Context, ev bus.InboundEvent) error {
	userName := h.deps.Messenger.UserDisplayName(ctx, ev.UserID)

	prompt := fmt.Sprintf("Today's date is %s. Use this when required.\nMessage from %s: %s",
		h.deps.today(), userName, ev.Text)

	out, err := h.deps.Generator.GenerateText(ctx, h.persona.request(prompt))
	if err != nil {
		if genai.IsRetryable(err) {
			return fmt.Errorf("leaves: generate: %w", err)
		}
		slog.Warn("leaves: permanent backend failure, sending fallback", "event", ev.EventID, "error", err)
		return h.deps.Messenger.PostThreadReply(ctx, ev.ChannelID, ev.ThreadTS, fallbackLeaves)
	}

	reply, items, ok := parseLeaveResponse(out)
	if !ok {
		// No structured block: the model decided no form fill-up is
		// needed and answered in plain text. Relay that as-is.
		text := strings.TrimSpace(out)
		if text == "" {
			text = fallbackLeaves
		}
		return h.deps.Messenger.PostThreadReply(ctx, ev.ChannelID, ev.ThreadTS, text)
	}

	var details strings.Builder
	for i, item := range items {
		if item.Action == "cancel_leave" {
			done, msg, err := h.deps.Leaves.Cancel(ctx, userName, item.FromDate, item.ToDate)
			if err != nil {
				return fmt.Errorf("leaves: cancel %s %s-%s: %w", userName, item.FromDate, item.ToDate, err)
			}
			slog.Info("leave cancellation", "event", ev.EventID, "user", userName, "done", done)
			fmt.Fprintf(&details, "%s\n", msg)
			continue
		}

		entry := store.LeaveEntry{
			EventID:      ev.EventID,
			Seq:          i,
			EmployeeName: userName,
			LeaveType:    item.LeaveType,
			FromDate:     item.FromDate,
			ToDate:       item.ToDate,
			NumDays:      int(item.NumDays),
			Reason:       item.ReasonStated,
			RecordedAt:   h.deps.now(),
		}
		if err := h.deps.Leaves.Append(ctx, entry); err != nil {
			return fmt.Errorf("leaves: append ledger entry: %w", err)
		}
		fmt.Fprintf(&details, "Type: %s\nDuration: %d days\nDates: %s to %s\nReason: %s\n---\n",
			capitalize(item.LeaveType), entry.NumDays, item.FromDate, item.ToDate, orNotProvided(item.ReasonStated))
	}

	text := reply
	if details.Len() > 0 {
		text = fmt.Sprintf("%s\n\n*Leave Details:*\n%s", reply, details.String())
	}
	if err := h.deps.Messenger.PostThreadReply(ctx, ev.ChannelID, ev.ThreadTS, text); err != nil {
		// Ledger writes are idempotent on (event, seq); the retried
		// attempt re-posts without double-booking.
		return fmt.Errorf("leaves: post reply: %w", err)
	}
	return nil
}

// parseLeaveResponse splits the fenced JSON array into the reply string and
// the structured items. ok=false when there is no usable structured block.
func parseLeaveResponse(out string) (string, []leaveItem, bool) {
	raw, found := genai.ExtractFencedJSON(out)
	if !found {
		return "", nil, false
	}

	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elems); err != nil || len(elems) == 0 {
		return "", nil, false
	}

	var reply string
	if err := json.Unmarshal(elems[0], &reply); err != nil {
		return "", nil, false
	}

	items := make([]leaveItem, 0, len(elems)-1)
	for _, e := range elems[1:] {
		var item leaveItem
		if err := json.Unmarshal(e, &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return reply, items, true
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func orNotProvided(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Not provided"
	}
	return s
}
