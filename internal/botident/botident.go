// Package botident caches the bot's own Slack user id for the process
// lifetime. The cache is best effort: a cold start simply re-fetches.
package botident

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/quailyquaily/mynion/internal/slack"
)

// AuthTester resolves the identity bound to the bot token. *slack.Client
// satisfies it.
type AuthTester interface {
	AuthTest(ctx context.Context) (slack.AuthTestResult, error)
}

type Resolver struct {
	api AuthTester

	mu     sync.Mutex
	userID string
	teamID string
}

func NewResolver(api AuthTester) (*Resolver, error) {
	if api == nil {
		return nil, fmt.Errorf("auth tester is required")
	}
	return &Resolver{api: api}, nil
}

// BotUserID returns the bot's user id, fetching it on first use. Only
// successful lookups are cached; failures are retried on the next call.
func (r *Resolver) BotUserID(ctx context.Context) (string, error) {
	if r == nil {
		return "", fmt.Errorf("bot identity resolver is not initialized")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.userID != "" {
		return r.userID, nil
	}
	result, err := r.api.AuthTest(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve bot identity: %w", err)
	}
	userID := strings.TrimSpace(result.UserID)
	if userID == "" {
		return "", fmt.Errorf("resolve bot identity: empty user_id")
	}
	r.userID = userID
	r.teamID = strings.TrimSpace(result.TeamID)
	return userID, nil
}

// TeamID returns the cached team id, if identity has been resolved.
func (r *Resolver) TeamID() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.teamID
}
