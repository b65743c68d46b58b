package slack

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// threadLookupLimit caps how much thread history the gatekeeper inspects when
// deciding whether the bot already participates in a thread.
const threadLookupLimit = 5

var mentionPattern = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]+)?>`)

// ThreadReplier looks up recent messages of a thread. *Client satisfies it.
type ThreadReplier interface {
	ThreadReplies(ctx context.Context, channelID, threadTS string, limit int) ([]Message, error)
}

// ShouldRespond decides whether the bot must reply to an event. The checks
// short-circuit in order: self-authored and foreign-bot events are always
// suppressed, an explicit mention always wins (no lookup), and a thread reply
// qualifies only when the bot already posted in that thread. Lookup failures
// count as "bot absent" and are logged, never propagated.
func ShouldRespond(ctx context.Context, logger *slog.Logger, event Event, botUserID string, replier ThreadReplier) bool {
	botUserID = strings.TrimSpace(botUserID)
	if botUserID == "" {
		return false
	}
	if strings.TrimSpace(event.User) == botUserID {
		return false
	}
	if strings.TrimSpace(event.BotID) != "" {
		return false
	}
	if strings.Contains(event.Text, "<@"+botUserID+">") {
		return true
	}
	threadTS := strings.TrimSpace(event.ThreadTS)
	if threadTS == "" {
		return false
	}
	return botInThread(ctx, logger, event.Channel, threadTS, botUserID, replier)
}

func botInThread(ctx context.Context, logger *slog.Logger, channelID, threadTS, botUserID string, replier ThreadReplier) bool {
	if replier == nil {
		return false
	}
	messages, err := replier.ThreadReplies(ctx, channelID, threadTS, threadLookupLimit)
	if err != nil {
		if logger != nil {
			logger.Warn("slack_thread_lookup_error", "channel_id", channelID, "thread_ts", threadTS, "error", err.Error())
		}
		return false
	}
	for _, msg := range messages {
		if strings.TrimSpace(msg.User) == botUserID {
			return true
		}
	}
	return false
}

// StripMentions removes every <@U...> mention token from text.
func StripMentions(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}
