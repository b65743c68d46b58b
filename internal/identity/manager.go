package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// GrantKind discriminates the three outcomes of a token request.
type GrantKind int

const (
	// GrantIssued means a usable token is available.
	GrantIssued GrantKind = iota
	// GrantPendingAuth means the user must visit an authorization URL
	// before a token can be issued.
	GrantPendingAuth
	// GrantUnavailable means the broker could not serve the request; the
	// caller degrades instead of failing the whole interaction.
	GrantUnavailable
)

// Grant is the explicit result of Manager.GetToken.
type Grant struct {
	Kind GrantKind

	// Token is set when Kind is GrantIssued.
	Token Token
	// AuthorizationURL is set when Kind is GrantPendingAuth.
	AuthorizationURL string
	// Reason is set when Kind is GrantUnavailable.
	Reason string
}

// GrantClient initiates delegated grants. *Broker satisfies it.
type GrantClient interface {
	RequestDelegatedGrant(ctx context.Context, req GrantRequest) (DelegatedGrant, error)
}

// Manager resolves delegated calendar tokens per user: cache first, broker
// second. It keeps at most one cached token or one pending authorization per
// user; whichever state arrives later supersedes the other.
type Manager struct {
	logger      *slog.Logger
	broker      GrantClient
	tokens      TokenStore
	pending     PendingStore
	provider    string
	scopes      []string
	callbackURL string
	margin      time.Duration
	now         func() time.Time
}

type ManagerOptions struct {
	Logger      *slog.Logger
	Broker      GrantClient
	Tokens      TokenStore
	Pending     PendingStore
	Provider    string
	Scopes      []string
	CallbackURL string
	// ExpiryMargin discounts the token lifetime so a token never expires
	// mid-request. Defaults to 5 minutes.
	ExpiryMargin time.Duration
	// Now is injectable for tests.
	Now func() time.Time
}

func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("grant client is required")
	}
	if strings.TrimSpace(opts.Provider) == "" {
		return nil, fmt.Errorf("identity provider is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = NewMemoryTokenStore()
	}
	pending := opts.Pending
	if pending == nil {
		pending = NewMemoryPendingStore()
	}
	margin := opts.ExpiryMargin
	if margin <= 0 {
		margin = 5 * time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		logger:      logger,
		broker:      opts.Broker,
		tokens:      tokens,
		pending:     pending,
		provider:    strings.TrimSpace(opts.Provider),
		scopes:      opts.Scopes,
		callbackURL: strings.TrimSpace(opts.CallbackURL),
		margin:      margin,
		now:         now,
	}, nil
}

// GetToken resolves the user's delegated token. The cache is consulted
// first; on a miss the broker is asked for a fresh grant, which either
// yields a token, starts a pending authorization, or fails soft.
func (m *Manager) GetToken(ctx context.Context, userID string) (Grant, error) {
	if m == nil {
		return Grant{}, fmt.Errorf("token manager is not initialized")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Grant{}, fmt.Errorf("user id is required")
	}

	if token, ok := m.tokens.Get(userID); ok {
		if m.usable(token) {
			return Grant{Kind: GrantIssued, Token: token}, nil
		}
		m.tokens.Delete(userID)
	}

	grant, err := m.broker.RequestDelegatedGrant(ctx, GrantRequest{
		UserID:      userID,
		Provider:    m.provider,
		Scopes:      m.scopes,
		CallbackURL: m.callbackURL,
		State:       userID,
	})
	if err != nil {
		m.logger.Warn("identity_grant_error", "user_id", userID, "error", err)
		return Grant{Kind: GrantUnavailable, Reason: err.Error()}, nil
	}

	if grant.Pending() {
		m.tokens.Delete(userID)
		m.pending.Put(userID, PendingAuthorization{
			UserID:           userID,
			AuthorizationURL: grant.AuthorizationURL,
			StartedAt:        m.now(),
		})
		m.logger.Info("identity_grant_pending", "user_id", userID)
		return Grant{Kind: GrantPendingAuth, AuthorizationURL: grant.AuthorizationURL}, nil
	}

	token := Token{AccessToken: grant.AccessToken, ExpiresAt: grant.ExpiresAt}
	m.pending.Delete(userID)
	m.tokens.Put(userID, token)
	m.logger.Info("identity_grant_issued", "user_id", userID)
	return Grant{Kind: GrantIssued, Token: token}, nil
}

// Invalidate drops the user's cached token, forcing a fresh grant next time.
func (m *Manager) Invalidate(userID string) {
	if m == nil {
		return
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return
	}
	m.tokens.Delete(userID)
}

// usable reports whether a cached token is still worth handing out. Tokens
// without an expiry are treated as non-expiring.
func (m *Manager) usable(token Token) bool {
	if strings.TrimSpace(token.AccessToken) == "" {
		return false
	}
	if token.ExpiresAt.IsZero() {
		return true
	}
	return token.ExpiresAt.After(m.now().Add(m.margin))
}
