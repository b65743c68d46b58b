// Package worker runs the slow half of an interaction: it re-checks the
// response decision against fresh state, posts an interim reply, resolves the
// user's delegated token, calls the reasoning runtime, and edits the interim
// reply into the final answer.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quailyquaily/mynion/internal/dispatch"
	"github.com/quailyquaily/mynion/internal/engine"
	"github.com/quailyquaily/mynion/internal/identity"
	"github.com/quailyquaily/mynion/internal/slack"
)

const (
	thinkingText        = "Give me a moment, I am checking…"
	fallbackText        = "I could not come up with a response."
	errorText           = "Something went wrong while I was working on that. Please try again."
	emptyAskText        = "Ask me something about your calendar and I will take a look."
	unavailableAuthText = "I could not reach the calendar authorization service, so I answered without access to your calendar."
)

// Messenger covers the Slack calls the processor needs. *slack.Client
// satisfies it.
type Messenger interface {
	PostMessage(ctx context.Context, channelID, text, threadTS string) (string, error)
	UpdateMessage(ctx context.Context, channelID, ts, text string) error
	ThreadReplies(ctx context.Context, channelID, threadTS string, limit int) ([]slack.Message, error)
}

// BotIdentity supplies the bot's own user id.
type BotIdentity interface {
	BotUserID(ctx context.Context) (string, error)
}

// TokenSource resolves and invalidates delegated tokens. *identity.Manager
// satisfies it.
type TokenSource interface {
	GetToken(ctx context.Context, userID string) (identity.Grant, error)
	Invalidate(userID string)
}

// Invoker calls the reasoning runtime. *engine.Client satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, req engine.InvokeRequest) (engine.Reply, error)
}

type Processor struct {
	logger *slog.Logger
	slack  Messenger
	bot    BotIdentity
	tokens TokenSource
	engine Invoker
}

type ProcessorOptions struct {
	Logger *slog.Logger
	Slack  Messenger
	Bot    BotIdentity
	Tokens TokenSource
	Engine Invoker
}

func NewProcessor(opts ProcessorOptions) (*Processor, error) {
	if opts.Slack == nil {
		return nil, fmt.Errorf("slack messenger is required")
	}
	if opts.Bot == nil {
		return nil, fmt.Errorf("bot identity is required")
	}
	if opts.Tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine invoker is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		logger: logger,
		slack:  opts.Slack,
		bot:    opts.Bot,
		tokens: opts.Tokens,
		engine: opts.Engine,
	}, nil
}

// Process handles one accepted event end to end. It satisfies
// dispatch.Handler via a method value.
func (p *Processor) Process(ctx context.Context, payload dispatch.Payload) error {
	logger := p.logger.With(
		"correlation_id", payload.CorrelationID,
		"channel_id", payload.ChannelID,
	)

	botUserID, err := p.bot.BotUserID(ctx)
	if err != nil {
		return fmt.Errorf("resolve bot identity: %w", err)
	}
	// The decision is rechecked here: thread state may have changed between
	// enqueue and processing.
	if !slack.ShouldRespond(ctx, logger, payload.Event, botUserID, p.slack) {
		logger.Debug("worker_event_suppressed")
		return nil
	}

	threadKey := payload.Event.ThreadKey()
	prompt := slack.StripMentions(payload.Event.Text)
	if prompt == "" {
		_, err := p.slack.PostMessage(ctx, payload.ChannelID, emptyAskText, threadKey)
		return err
	}

	interimTS, err := p.slack.PostMessage(ctx, payload.ChannelID, thinkingText, threadKey)
	if err != nil {
		return fmt.Errorf("post interim message: %w", err)
	}
	finish := func(text string) error {
		return p.slack.UpdateMessage(ctx, payload.ChannelID, interimTS, text)
	}

	grant, err := p.tokens.GetToken(ctx, payload.UserKey)
	if err != nil {
		logger.Error("worker_token_error", "error", err)
		return finish(errorText)
	}
	switch grant.Kind {
	case identity.GrantPendingAuth:
		logger.Info("worker_authorization_prompted")
		return finish(authPrompt(grant.AuthorizationURL))
	case identity.GrantUnavailable:
		logger.Warn("worker_token_unavailable", "reason", grant.Reason)
	}

	reply, retryGrant, err := p.invokeWithRetry(ctx, logger, payload, grant)
	if err != nil {
		if errors.Is(err, engine.ErrAuthorizationRejected) {
			if retryGrant.Kind == identity.GrantPendingAuth {
				logger.Info("worker_authorization_prompted", "after", "rejection")
				return finish(authPrompt(retryGrant.AuthorizationURL))
			}
			logger.Warn("worker_authorization_rejected")
			return finish("I do not seem to have access to your calendar anymore. Please ask again to re-authorize.")
		}
		logger.Error("worker_engine_error", "error", err)
		return finish(errorText)
	}

	text := engine.ExtractText(reply)
	if text == "" {
		text = fallbackText
	}
	if grant.Kind == identity.GrantUnavailable {
		text = text + "\n\n_" + unavailableAuthText + "_"
	}
	if err := finish(text); err != nil {
		return fmt.Errorf("update interim message: %w", err)
	}
	logger.Info("worker_reply_sent")
	return nil
}

// invokeWithRetry calls the runtime once, and once more with a fresh token
// when the first call is rejected for authorization. The grant obtained for
// the retry is returned so the caller can show the authorization prompt when
// the refresh itself lands in the pending state.
func (p *Processor) invokeWithRetry(ctx context.Context, logger *slog.Logger, payload dispatch.Payload, grant identity.Grant) (engine.Reply, identity.Grant, error) {
	req := engine.InvokeRequest{
		Prompt:      slack.StripMentions(payload.Event.Text),
		SessionID:   payload.SessionID,
		UserKey:     payload.UserKey,
		AccessToken: grant.Token.AccessToken,
	}

	reply, err := p.engine.Invoke(ctx, req)
	if !errors.Is(err, engine.ErrAuthorizationRejected) {
		return reply, grant, err
	}

	logger.Info("worker_token_refresh_retry")
	p.tokens.Invalidate(payload.UserKey)
	fresh, tokenErr := p.tokens.GetToken(ctx, payload.UserKey)
	if tokenErr != nil {
		return engine.Reply{}, grant, err
	}
	if fresh.Kind != identity.GrantIssued {
		return engine.Reply{}, fresh, err
	}
	req.AccessToken = fresh.Token.AccessToken
	reply, err = p.engine.Invoke(ctx, req)
	return reply, fresh, err
}

func authPrompt(authorizationURL string) string {
	url := strings.TrimSpace(authorizationURL)
	if url == "" {
		return "I need your permission to access your calendar, but the sign-in link is unavailable right now. Please try again shortly."
	}
	return fmt.Sprintf("Before I can help with your calendar, I need your permission.\n<%s|Click here to authorize access>, then ask me again.", url)
}
