// Package slack wraps the Slack Web API calls Nautifier needs: threaded
// replies, user display names, and thread transcripts for prompt context.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	slackapi "github.com/slack-go/slack"
	"golang.org/x/time/rate"
)

// Client is safe for concurrent use by the worker pool.
type Client struct {
	api     *slackapi.Client
	limiter *rate.Limiter

	// users.info results barely change; cache them for the process
	// lifetime to keep thread-transcript builds cheap.
	mu    sync.RWMutex
	names map[string]string

	historyLimit int
}

func New(botToken string, postRatePerSecond float64, historyLimit int) *Client {
	if postRatePerSecond <= 0 {
		postRatePerSecond = 1
	}
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &Client{
		api:          slackapi.New(botToken),
		limiter:      rate.NewLimiter(rate.Limit(postRatePerSecond), 1),
		names:        make(map[string]string),
		historyLimit: historyLimit,
	}
}

// PostThreadReply sends text into the thread rooted at threadTS.
func (c *Client) PostThreadReply(ctx context.Context, channelID, threadTS, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, _, err := c.api.PostMessageContext(ctx, channelID,
		slackapi.MsgOptionText(text, false),
		slackapi.MsgOptionTS(threadTS),
	)
	if err != nil {
		return fmt.Errorf("slack post to %s: %w", channelID, err)
	}
	return nil
}

// UserDisplayName resolves a user id to a real name, falling back to the
// mention form when the lookup fails. Lookup failures are logged, not
// returned: a reply with a mention-form name beats no reply.
func (c *Client) UserDisplayName(ctx context.Context, userID string) string {
	if userID == "" {
		return "System"
	}

	c.mu.RLock()
	name, ok := c.names[userID]
	c.mu.RUnlock()
	if ok {
		return name
	}

	user, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		slog.Warn("slack users.info failed", "user", userID, "error", err)
		return fmt.Sprintf("<@%s>", userID)
	}

	name = user.Profile.RealName
	if name == "" {
		name = user.Name
	}
	if name == "" {
		name = fmt.Sprintf("<@%s>", userID)
	}

	c.mu.Lock()
	c.names[userID] = name
	c.mu.Unlock()
	return name
}

// ThreadTranscript returns the messages of a thread as "Name: text" lines,
// oldest first, for use as prompt context.
func (c *Client) ThreadTranscript(ctx context.Context, channelID, threadTS string) ([]string, error) {
	params := &slackapi.GetConversationRepliesParameters{
		ChannelID: channelID,
		Timestamp: threadTS,
		Limit:     c.historyLimit,
	}

	var lines []string
	for {
		msgs, hasMore, cursor, err := c.api.GetConversationRepliesContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("slack conversations.replies %s: %w", channelID, err)
		}
		for _, m := range msgs {
			lines = append(lines, FormatTranscriptLine(c.userLabel(ctx, m.User), m.Text))
		}
		if !hasMore || cursor == "" || len(lines) >= c.historyLimit {
			break
		}
		params.Cursor = cursor
	}
	return lines, nil
}

// userLabel names a transcript line's author. Classic user ids start with U,
// Enterprise Grid ones with W; bot and system messages get a generic label.
func (c *Client) userLabel(ctx context.Context, userID string) string {
	if strings.HasPrefix(userID, "U") || strings.HasPrefix(userID, "W") {
		return c.UserDisplayName(ctx, userID)
	}
	return "System"
}

// AuthTest verifies the bot token. Used by `nautifier doctor`.
func (c *Client) AuthTest(ctx context.Context) (string, error) {
	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return "", err
	}
	return resp.User, nil
}

// FormatTranscriptLine renders one thread message for prompt context.
func FormatTranscriptLine(name, text string) string {
	return fmt.Sprintf("%s: %s", name, strings.TrimSpace(text))
}
