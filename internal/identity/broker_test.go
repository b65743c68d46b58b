package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/oauth2"
)

func staticWorkload() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "workload-token"})
}

func TestRequestDelegatedGrantIssued(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token/delegated" {
			t.Errorf("path = %q, want /token/delegated", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer workload-token" {
			t.Errorf("authorization header = %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["auth_flow"] != "USER_FEDERATION" {
			t.Errorf("auth_flow = %v, want USER_FEDERATION", body["auth_flow"])
		}
		if body["state"] != "slack-T1-U1" {
			t.Errorf("state = %v, want slack-T1-U1", body["state"])
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"delegated-token","expires_in":3600}`)
	}))
	defer srv.Close()

	broker, err := NewBroker(BrokerOptions{Endpoint: srv.URL, Workload: staticWorkload()})
	if err != nil {
		t.Fatalf("NewBroker() error = %v", err)
	}
	grant, err := broker.RequestDelegatedGrant(context.Background(), GrantRequest{
		UserID:      "slack-T1-U1",
		Provider:    "google-calendar",
		Scopes:      []string{"https://www.googleapis.com/auth/calendar"},
		CallbackURL: "https://bot.example.com/oauth/callback",
		State:       "slack-T1-U1",
	})
	if err != nil {
		t.Fatalf("RequestDelegatedGrant() error = %v", err)
	}
	if grant.Pending() {
		t.Fatalf("grant should not be pending")
	}
	if grant.AccessToken != "delegated-token" {
		t.Fatalf("access token = %q", grant.AccessToken)
	}
	if grant.ExpiresAt.IsZero() {
		t.Fatalf("expires at should be set")
	}
}

func TestRequestDelegatedGrantPending(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"authorization_url":"https://idp.example.com/authorize?session=s1"}`)
	}))
	defer srv.Close()

	broker, err := NewBroker(BrokerOptions{Endpoint: srv.URL, Workload: staticWorkload()})
	if err != nil {
		t.Fatalf("NewBroker() error = %v", err)
	}
	grant, err := broker.RequestDelegatedGrant(context.Background(), GrantRequest{
		UserID:   "slack-T1-U1",
		Provider: "google-calendar",
	})
	if err != nil {
		t.Fatalf("RequestDelegatedGrant() error = %v", err)
	}
	if !grant.Pending() {
		t.Fatalf("grant should be pending")
	}
	if grant.AuthorizationURL != "https://idp.example.com/authorize?session=s1" {
		t.Fatalf("authorization url = %q", grant.AuthorizationURL)
	}
}

func TestRequestDelegatedGrantServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":"provider unavailable"}`)
	}))
	defer srv.Close()

	broker, err := NewBroker(BrokerOptions{Endpoint: srv.URL, Workload: staticWorkload()})
	if err != nil {
		t.Fatalf("NewBroker() error = %v", err)
	}
	_, err = broker.RequestDelegatedGrant(context.Background(), GrantRequest{
		UserID:   "slack-T1-U1",
		Provider: "google-calendar",
	})
	if err == nil {
		t.Fatalf("RequestDelegatedGrant() error = nil, want failure")
	}
}

func TestCompleteAuthorizationOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "ok", status: http.StatusOK, wantErr: nil},
		{name: "not found", status: http.StatusNotFound, wantErr: ErrSessionNotFound},
		{name: "denied", status: http.StatusForbidden, wantErr: ErrAccessDenied},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/token/delegated/complete" {
					t.Errorf("path = %q", r.URL.Path)
				}
				var body map[string]string
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Errorf("decode body: %v", err)
				}
				if body["session_uri"] != "sess-123" {
					t.Errorf("session_uri = %q", body["session_uri"])
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			broker, err := NewBroker(BrokerOptions{Endpoint: srv.URL, Workload: staticWorkload()})
			if err != nil {
				t.Fatalf("NewBroker() error = %v", err)
			}
			err = broker.CompleteAuthorization(context.Background(), "sess-123", "slack-T1-U1")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CompleteAuthorization() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
