// Package identity manages delegated calendar tokens: the per-user cache,
// grant initiation against the identity broker, and the out-of-band
// authorization completion.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

var (
	// ErrSessionNotFound is returned by completion when the broker no
	// longer knows the authorization session (typically expired).
	ErrSessionNotFound = errors.New("authorization session not found")
	// ErrAccessDenied is returned when the user refused the grant.
	ErrAccessDenied = errors.New("authorization access denied")
)

// GrantRequest asks the broker for a user-delegated token.
type GrantRequest struct {
	UserID      string
	Provider    string
	Scopes      []string
	CallbackURL string
	// State is propagated opaquely through the OAuth redirect and comes
	// back to the completer as the `state` query parameter.
	State string
}

// DelegatedGrant is the broker's answer: either an issued token or an
// authorization URL the user must visit first.
type DelegatedGrant struct {
	AccessToken      string
	ExpiresAt        time.Time
	AuthorizationURL string
}

// Pending reports whether the grant requires the user to authorize first.
func (g DelegatedGrant) Pending() bool {
	return strings.TrimSpace(g.AuthorizationURL) != ""
}

// Broker is the HTTP client for the identity broker's token endpoints. Every
// call authenticates with a workload token from the injected source.
type Broker struct {
	http     *http.Client
	endpoint string
	workload oauth2.TokenSource
}

type BrokerOptions struct {
	HTTPClient *http.Client
	Endpoint   string
	// Workload supplies the workload-scoped identity token (client
	// credentials flow).
	Workload oauth2.TokenSource
}

func NewBroker(opts BrokerOptions) (*Broker, error) {
	endpoint := strings.TrimSpace(strings.TrimRight(opts.Endpoint, "/"))
	if endpoint == "" {
		return nil, fmt.Errorf("identity broker endpoint is required")
	}
	if opts.Workload == nil {
		return nil, fmt.Errorf("workload token source is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Broker{
		http:     httpClient,
		endpoint: endpoint,
		workload: opts.Workload,
	}, nil
}

type delegatedGrantRequest struct {
	UserID      string   `json:"user_id"`
	Provider    string   `json:"provider"`
	Scopes      []string `json:"scopes"`
	AuthFlow    string   `json:"auth_flow"`
	CallbackURL string   `json:"callback_url"`
	State       string   `json:"state,omitempty"`
}

type delegatedGrantResponse struct {
	AccessToken      string `json:"access_token,omitempty"`
	ExpiresIn        int64  `json:"expires_in,omitempty"`
	AuthorizationURL string `json:"authorization_url,omitempty"`
	Error            string `json:"error,omitempty"`
}

// RequestDelegatedGrant attempts the user-federation grant. A rejection that
// carries an authorization URL is not an error: it comes back as a pending
// DelegatedGrant.
func (b *Broker) RequestDelegatedGrant(ctx context.Context, req GrantRequest) (DelegatedGrant, error) {
	if b == nil || b.http == nil {
		return DelegatedGrant{}, fmt.Errorf("identity broker is not initialized")
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return DelegatedGrant{}, fmt.Errorf("user_id is required")
	}
	provider := strings.TrimSpace(req.Provider)
	if provider == "" {
		return DelegatedGrant{}, fmt.Errorf("provider is required")
	}

	body, status, err := b.postJSON(ctx, "/token/delegated", delegatedGrantRequest{
		UserID:      userID,
		Provider:    provider,
		Scopes:      req.Scopes,
		AuthFlow:    "USER_FEDERATION",
		CallbackURL: strings.TrimSpace(req.CallbackURL),
		State:       strings.TrimSpace(req.State),
	})
	if err != nil {
		return DelegatedGrant{}, err
	}

	var out delegatedGrantResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return DelegatedGrant{}, fmt.Errorf("decode delegated grant response: %w", err)
	}

	switch {
	case status >= 200 && status < 300:
		token := strings.TrimSpace(out.AccessToken)
		if token == "" {
			return DelegatedGrant{}, fmt.Errorf("identity broker returned empty access token")
		}
		expiresAt := time.Time{}
		if out.ExpiresIn > 0 {
			expiresAt = time.Now().UTC().Add(time.Duration(out.ExpiresIn) * time.Second)
		}
		return DelegatedGrant{AccessToken: token, ExpiresAt: expiresAt}, nil
	case status == http.StatusForbidden && strings.TrimSpace(out.AuthorizationURL) != "":
		return DelegatedGrant{AuthorizationURL: strings.TrimSpace(out.AuthorizationURL)}, nil
	default:
		code := strings.TrimSpace(out.Error)
		if code == "" {
			code = fmt.Sprintf("http %d", status)
		}
		return DelegatedGrant{}, fmt.Errorf("delegated grant failed: %s", code)
	}
}

type completeAuthRequest struct {
	SessionURI string `json:"session_uri"`
	UserID     string `json:"user_id"`
}

// CompleteAuthorization finalizes a pending authorization session after the
// user finished the browser flow.
func (b *Broker) CompleteAuthorization(ctx context.Context, sessionURI, userID string) error {
	if b == nil || b.http == nil {
		return fmt.Errorf("identity broker is not initialized")
	}
	sessionURI = strings.TrimSpace(sessionURI)
	if sessionURI == "" {
		return fmt.Errorf("session_uri is required")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}

	body, status, err := b.postJSON(ctx, "/token/delegated/complete", completeAuthRequest{
		SessionURI: sessionURI,
		UserID:     userID,
	})
	if err != nil {
		return err
	}
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return ErrSessionNotFound
	case status == http.StatusForbidden:
		return ErrAccessDenied
	default:
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("http %d", status)
		}
		return fmt.Errorf("complete authorization failed: %s", msg)
	}
}

func (b *Broker) postJSON(ctx context.Context, path string, payload any) ([]byte, int, error) {
	token, err := b.workload.Token()
	if err != nil {
		return nil, 0, fmt.Errorf("workload token: %w", err)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+path, bytes.NewReader(raw))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	token.SetAuthHeader(req)

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp.StatusCode, readErr
	}
	return body, resp.StatusCode, nil
}
