package worker

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/quailyquaily/mynion/internal/dispatch"
	"github.com/quailyquaily/mynion/internal/engine"
	"github.com/quailyquaily/mynion/internal/identity"
	"github.com/quailyquaily/mynion/internal/slack"
)

type fakeMessenger struct {
	posts   []string
	updates []string
	replies []slack.Message
	postErr error
}

func (f *fakeMessenger) PostMessage(ctx context.Context, channelID, text, threadTS string) (string, error) {
	if f.postErr != nil {
		return "", f.postErr
	}
	f.posts = append(f.posts, text)
	return fmt.Sprintf("1726000000.%06d", len(f.posts)), nil
}

func (f *fakeMessenger) UpdateMessage(ctx context.Context, channelID, ts, text string) error {
	f.updates = append(f.updates, text)
	return nil
}

func (f *fakeMessenger) ThreadReplies(ctx context.Context, channelID, threadTS string, limit int) ([]slack.Message, error) {
	return f.replies, nil
}

type fakeBot struct{}

func (fakeBot) BotUserID(ctx context.Context) (string, error) { return "UBOT", nil }

type fakeTokens struct {
	grants      []identity.Grant
	calls       int
	invalidated []string
}

func (f *fakeTokens) GetToken(ctx context.Context, userID string) (identity.Grant, error) {
	f.calls++
	if len(f.grants) == 0 {
		return identity.Grant{Kind: identity.GrantUnavailable, Reason: "no grant configured"}, nil
	}
	grant := f.grants[0]
	if len(f.grants) > 1 {
		f.grants = f.grants[1:]
	}
	return grant, nil
}

func (f *fakeTokens) Invalidate(userID string) {
	f.invalidated = append(f.invalidated, userID)
}

type fakeInvoker struct {
	replies []engine.Reply
	errs    []error
	calls   int
	tokens  []string
}

func (f *fakeInvoker) Invoke(ctx context.Context, req engine.InvokeRequest) (engine.Reply, error) {
	i := f.calls
	f.calls++
	f.tokens = append(f.tokens, req.AccessToken)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var reply engine.Reply
	if i < len(f.replies) {
		reply = f.replies[i]
	}
	return reply, err
}

func issuedGrant(token string) identity.Grant {
	return identity.Grant{Kind: identity.GrantIssued, Token: identity.Token{
		AccessToken: token,
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
}

func textReply(text string) engine.Reply {
	return engine.Reply{Kind: engine.ReplyText, Text: text}
}

func mentionPayload() dispatch.Payload {
	return dispatch.Payload{
		Event: slack.Event{
			Type:    "app_mention",
			User:    "U1",
			Text:    "<@UBOT> what is on my calendar tomorrow",
			Channel: "C1",
			TS:      "1726000000.000100",
		},
		TeamID:        "T1",
		ChannelID:     "C1",
		UserID:        "U1",
		UserKey:       "slack-T1-U1",
		SessionID:     "0194e9d5-2f8f-5000-8000-000000000001x",
		CorrelationID: "corr-1",
	}
}

func newTestProcessor(t *testing.T, msgr *fakeMessenger, tokens *fakeTokens, invoker *fakeInvoker) *Processor {
	t.Helper()
	proc, err := NewProcessor(ProcessorOptions{
		Slack:  msgr,
		Bot:    fakeBot{},
		Tokens: tokens,
		Engine: invoker,
	})
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	return proc
}

func TestProcessHappyPath(t *testing.T) {
	t.Parallel()

	msgr := &fakeMessenger{}
	tokens := &fakeTokens{grants: []identity.Grant{issuedGrant("tok-1")}}
	invoker := &fakeInvoker{replies: []engine.Reply{textReply("you have two meetings")}}
	proc := newTestProcessor(t, msgr, tokens, invoker)

	if err := proc.Process(context.Background(), mentionPayload()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(msgr.posts) != 1 || msgr.posts[0] != thinkingText {
		t.Fatalf("posts = %v, want one interim message", msgr.posts)
	}
	if len(msgr.updates) != 1 || msgr.updates[0] != "you have two meetings" {
		t.Fatalf("updates = %v", msgr.updates)
	}
	if len(invoker.tokens) != 1 || invoker.tokens[0] != "tok-1" {
		t.Fatalf("invoke tokens = %v, want [tok-1]", invoker.tokens)
	}
}

func TestProcessPendingAuthorizationPrompts(t *testing.T) {
	t.Parallel()

	msgr := &fakeMessenger{}
	tokens := &fakeTokens{grants: []identity.Grant{{
		Kind:             identity.GrantPendingAuth,
		AuthorizationURL: "https://idp.example.com/authorize?session=s1",
	}}}
	invoker := &fakeInvoker{}
	proc := newTestProcessor(t, msgr, tokens, invoker)

	if err := proc.Process(context.Background(), mentionPayload()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if invoker.calls != 0 {
		t.Fatalf("engine calls = %d, want 0 while authorization is pending", invoker.calls)
	}
	if len(msgr.updates) != 1 || !strings.Contains(msgr.updates[0], "https://idp.example.com/authorize?session=s1") {
		t.Fatalf("updates = %v, want authorization prompt with URL", msgr.updates)
	}
}

func TestProcessRetriesOnceAfterRejection(t *testing.T) {
	t.Parallel()

	msgr := &fakeMessenger{}
	tokens := &fakeTokens{grants: []identity.Grant{
		issuedGrant("tok-stale"),
		issuedGrant("tok-fresh"),
	}}
	invoker := &fakeInvoker{
		errs:    []error{engine.ErrAuthorizationRejected, nil},
		replies: []engine.Reply{{}, textReply("all clear tomorrow")},
	}
	proc := newTestProcessor(t, msgr, tokens, invoker)

	if err := proc.Process(context.Background(), mentionPayload()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if invoker.calls != 2 {
		t.Fatalf("engine calls = %d, want 2", invoker.calls)
	}
	if invoker.tokens[1] != "tok-fresh" {
		t.Fatalf("retry token = %q, want tok-fresh", invoker.tokens[1])
	}
	if len(tokens.invalidated) != 1 || tokens.invalidated[0] != "slack-T1-U1" {
		t.Fatalf("invalidated = %v", tokens.invalidated)
	}
	if len(msgr.updates) != 1 || msgr.updates[0] != "all clear tomorrow" {
		t.Fatalf("updates = %v", msgr.updates)
	}
}

func TestProcessRetryPendingAuthShowsPrompt(t *testing.T) {
	t.Parallel()

	msgr := &fakeMessenger{}
	tokens := &fakeTokens{grants: []identity.Grant{
		issuedGrant("tok-stale"),
		{
			Kind:             identity.GrantPendingAuth,
			AuthorizationURL: "https://idp.example.com/authorize?session=s2",
		},
	}}
	invoker := &fakeInvoker{errs: []error{engine.ErrAuthorizationRejected}}
	proc := newTestProcessor(t, msgr, tokens, invoker)

	if err := proc.Process(context.Background(), mentionPayload()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if invoker.calls != 1 {
		t.Fatalf("engine calls = %d, want 1 (no token to retry with)", invoker.calls)
	}
	if len(tokens.invalidated) != 1 {
		t.Fatalf("invalidated = %v, want one entry", tokens.invalidated)
	}
	if len(msgr.updates) != 1 || !strings.Contains(msgr.updates[0], "https://idp.example.com/authorize?session=s2") {
		t.Fatalf("updates = %v, want authorization prompt with the fresh URL", msgr.updates)
	}
}

func TestProcessSingleRetryThenReauthMessage(t *testing.T) {
	t.Parallel()

	msgr := &fakeMessenger{}
	tokens := &fakeTokens{grants: []identity.Grant{
		issuedGrant("tok-stale"),
		issuedGrant("tok-fresh"),
	}}
	invoker := &fakeInvoker{errs: []error{
		engine.ErrAuthorizationRejected,
		engine.ErrAuthorizationRejected,
	}}
	proc := newTestProcessor(t, msgr, tokens, invoker)

	if err := proc.Process(context.Background(), mentionPayload()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if invoker.calls != 2 {
		t.Fatalf("engine calls = %d, want exactly 2 (one retry)", invoker.calls)
	}
	if len(msgr.updates) != 1 || !strings.Contains(msgr.updates[0], "re-authorize") {
		t.Fatalf("updates = %v, want re-authorization message", msgr.updates)
	}
}

func TestProcessEmptyReplyUsesFallback(t *testing.T) {
	t.Parallel()

	msgr := &fakeMessenger{}
	tokens := &fakeTokens{grants: []identity.Grant{issuedGrant("tok-1")}}
	invoker := &fakeInvoker{replies: []engine.Reply{
		{Kind: engine.ReplyStructured, Structured: &engine.StructuredReply{}},
	}}
	proc := newTestProcessor(t, msgr, tokens, invoker)

	if err := proc.Process(context.Background(), mentionPayload()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(msgr.updates) != 1 || msgr.updates[0] != fallbackText {
		t.Fatalf("updates = %v, want fallback text", msgr.updates)
	}
}

func TestProcessSuppressedEventDoesNothing(t *testing.T) {
	t.Parallel()

	msgr := &fakeMessenger{}
	tokens := &fakeTokens{}
	invoker := &fakeInvoker{}
	proc := newTestProcessor(t, msgr, tokens, invoker)

	payload := mentionPayload()
	payload.Event.User = "UBOT" // the bot's own message

	if err := proc.Process(context.Background(), payload); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(msgr.posts) != 0 || len(msgr.updates) != 0 || invoker.calls != 0 {
		t.Fatalf("suppressed event produced side effects: posts=%v updates=%v calls=%d",
			msgr.posts, msgr.updates, invoker.calls)
	}
}

func TestProcessTokenUnavailableStillAnswers(t *testing.T) {
	t.Parallel()

	msgr := &fakeMessenger{}
	tokens := &fakeTokens{grants: []identity.Grant{{
		Kind:   identity.GrantUnavailable,
		Reason: "broker http 503",
	}}}
	invoker := &fakeInvoker{replies: []engine.Reply{textReply("here is a general answer")}}
	proc := newTestProcessor(t, msgr, tokens, invoker)

	if err := proc.Process(context.Background(), mentionPayload()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if invoker.calls != 1 {
		t.Fatalf("engine calls = %d, want 1", invoker.calls)
	}
	if invoker.tokens[0] != "" {
		t.Fatalf("invoke token = %q, want empty", invoker.tokens[0])
	}
	if len(msgr.updates) != 1 || !strings.Contains(msgr.updates[0], "here is a general answer") {
		t.Fatalf("updates = %v", msgr.updates)
	}
}
