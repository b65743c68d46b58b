package identity

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type fakeGrantClient struct {
	grant DelegatedGrant
	err   error
	calls int
	last  GrantRequest
}

func (f *fakeGrantClient) RequestDelegatedGrant(ctx context.Context, req GrantRequest) (DelegatedGrant, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return DelegatedGrant{}, f.err
	}
	return f.grant, nil
}

func newTestManager(t *testing.T, broker GrantClient, now func() time.Time) *Manager {
	t.Helper()
	mgr, err := NewManager(ManagerOptions{
		Broker:      broker,
		Provider:    "google-calendar",
		Scopes:      []string{"https://www.googleapis.com/auth/calendar"},
		CallbackURL: "https://bot.example.com/oauth/callback",
		Now:         now,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return mgr
}

func TestGetTokenIssuedAndCached(t *testing.T) {
	t.Parallel()

	broker := &fakeGrantClient{grant: DelegatedGrant{
		AccessToken: "tok-1",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	mgr := newTestManager(t, broker, nil)

	for i := 0; i < 3; i++ {
		grant, err := mgr.GetToken(context.Background(), "slack-T1-U1")
		if err != nil {
			t.Fatalf("GetToken() error = %v", err)
		}
		if grant.Kind != GrantIssued {
			t.Fatalf("grant.Kind = %d, want GrantIssued", grant.Kind)
		}
		if grant.Token.AccessToken != "tok-1" {
			t.Fatalf("access token = %q, want tok-1", grant.Token.AccessToken)
		}
	}
	if broker.calls != 1 {
		t.Fatalf("broker calls = %d, want 1", broker.calls)
	}
	if broker.last.State != "slack-T1-U1" {
		t.Fatalf("state = %q, want the user id", broker.last.State)
	}
	if broker.last.CallbackURL != "https://bot.example.com/oauth/callback" {
		t.Fatalf("callback url = %q", broker.last.CallbackURL)
	}
}

func TestGetTokenExpiredTriggersRefresh(t *testing.T) {
	t.Parallel()

	current := time.Now()
	broker := &fakeGrantClient{grant: DelegatedGrant{
		AccessToken: "tok-1",
		ExpiresAt:   current.Add(time.Hour),
	}}
	mgr := newTestManager(t, broker, func() time.Time { return current })

	if _, err := mgr.GetToken(context.Background(), "slack-T1-U1"); err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}

	// Move the clock inside the expiry margin of the cached token.
	current = current.Add(time.Hour - time.Minute)
	broker.grant.AccessToken = "tok-2"
	broker.grant.ExpiresAt = current.Add(time.Hour)

	grant, err := mgr.GetToken(context.Background(), "slack-T1-U1")
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if grant.Token.AccessToken != "tok-2" {
		t.Fatalf("access token = %q, want tok-2", grant.Token.AccessToken)
	}
	if broker.calls != 2 {
		t.Fatalf("broker calls = %d, want 2", broker.calls)
	}
}

func TestGetTokenPendingAuthorization(t *testing.T) {
	t.Parallel()

	broker := &fakeGrantClient{grant: DelegatedGrant{
		AuthorizationURL: "https://idp.example.com/authorize?code=abc",
	}}
	pending := NewMemoryPendingStore()
	mgr, err := NewManager(ManagerOptions{
		Broker:   broker,
		Pending:  pending,
		Provider: "google-calendar",
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	grant, err := mgr.GetToken(context.Background(), "slack-T1-U1")
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if grant.Kind != GrantPendingAuth {
		t.Fatalf("grant.Kind = %d, want GrantPendingAuth", grant.Kind)
	}
	if grant.AuthorizationURL != "https://idp.example.com/authorize?code=abc" {
		t.Fatalf("authorization url = %q", grant.AuthorizationURL)
	}
	if _, ok := pending.Get("slack-T1-U1"); !ok {
		t.Fatalf("pending authorization not recorded")
	}
}

func TestGetTokenIssuedSupersedesPending(t *testing.T) {
	t.Parallel()

	broker := &fakeGrantClient{grant: DelegatedGrant{
		AuthorizationURL: "https://idp.example.com/authorize",
	}}
	pending := NewMemoryPendingStore()
	mgr, err := NewManager(ManagerOptions{
		Broker:   broker,
		Pending:  pending,
		Provider: "google-calendar",
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if _, err := mgr.GetToken(context.Background(), "slack-T1-U1"); err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}

	broker.grant = DelegatedGrant{AccessToken: "tok-1", ExpiresAt: time.Now().Add(time.Hour)}
	grant, err := mgr.GetToken(context.Background(), "slack-T1-U1")
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if grant.Kind != GrantIssued {
		t.Fatalf("grant.Kind = %d, want GrantIssued", grant.Kind)
	}
	if _, ok := pending.Get("slack-T1-U1"); ok {
		t.Fatalf("pending authorization should be cleared after issuance")
	}
}

func TestGetTokenBrokerFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	broker := &fakeGrantClient{err: fmt.Errorf("broker http 503")}
	mgr := newTestManager(t, broker, nil)

	grant, err := mgr.GetToken(context.Background(), "slack-T1-U1")
	if err != nil {
		t.Fatalf("GetToken() error = %v, broker failures degrade instead", err)
	}
	if grant.Kind != GrantUnavailable {
		t.Fatalf("grant.Kind = %d, want GrantUnavailable", grant.Kind)
	}
	if grant.Reason == "" {
		t.Fatalf("unavailable grant should carry a reason")
	}
}

func TestInvalidateForcesFreshGrant(t *testing.T) {
	t.Parallel()

	broker := &fakeGrantClient{grant: DelegatedGrant{
		AccessToken: "tok-1",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	mgr := newTestManager(t, broker, nil)

	if _, err := mgr.GetToken(context.Background(), "slack-T1-U1"); err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	mgr.Invalidate("slack-T1-U1")
	if _, err := mgr.GetToken(context.Background(), "slack-T1-U1"); err != nil {
		t.Fatalf("GetToken() after Invalidate error = %v", err)
	}
	if broker.calls != 2 {
		t.Fatalf("broker calls = %d, want 2", broker.calls)
	}
}
