package identity

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
)

// CompletionClient finalizes pending authorization sessions. *Broker
// satisfies it.
type CompletionClient interface {
	CompleteAuthorization(ctx context.Context, sessionURI, userID string) error
}

// Completer serves the OAuth return leg: the identity provider redirects the
// user's browser here after consent, and the handler tells the broker to
// finish the session.
type Completer struct {
	logger  *slog.Logger
	broker  CompletionClient
	pending PendingStore
}

type CompleterOptions struct {
	Logger  *slog.Logger
	Broker  CompletionClient
	Pending PendingStore
}

func NewCompleter(opts CompleterOptions) (*Completer, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("completion client is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pending := opts.Pending
	if pending == nil {
		pending = NewMemoryPendingStore()
	}
	return &Completer{logger: logger, broker: opts.Broker, pending: pending}, nil
}

// ServeHTTP handles GET /oauth/callback?session_id=...&state=<user id>.
func (c *Completer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writePage(w, http.StatusMethodNotAllowed, "Sign-in failed", "Unsupported request method.")
		return
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	userID := strings.TrimSpace(r.URL.Query().Get("state"))
	if sessionID == "" || userID == "" {
		c.logger.Warn("identity_completion_bad_request",
			"has_session_id", sessionID != "",
			"has_state", userID != "",
		)
		writePage(w, http.StatusBadRequest, "Sign-in failed",
			"The sign-in link is missing required parameters. Please start again from Slack.")
		return
	}

	err := c.broker.CompleteAuthorization(r.Context(), sessionID, userID)
	switch {
	case err == nil:
		c.pending.Delete(userID)
		c.logger.Info("identity_completion_ok", "user_id", userID)
		writePage(w, http.StatusOK, "Sign-in complete",
			"You are all set. Head back to Slack and ask your question again.")
	case errors.Is(err, ErrSessionNotFound):
		c.logger.Warn("identity_completion_session_not_found", "user_id", userID)
		writePage(w, http.StatusNotFound, "Sign-in session expired",
			"Your sign-in session was not found. It may have expired; please start again from Slack.")
	case errors.Is(err, ErrAccessDenied):
		c.logger.Warn("identity_completion_access_denied", "user_id", userID)
		writePage(w, http.StatusForbidden, "Access denied",
			"Access was denied. If this was a mistake, start again from Slack and approve the request.")
	default:
		c.logger.Error("identity_completion_error", "user_id", userID, "error", err)
		writePage(w, http.StatusBadGateway, "Sign-in failed",
			"Something went wrong while finishing your sign-in. Please try again from Slack.")
	}
}

func writePage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>%s</title></head>
<body style="font-family: sans-serif; max-width: 32rem; margin: 4rem auto;">
<h1>%s</h1>
<p>%s</p>
</body>
</html>
`, html.EscapeString(title), html.EscapeString(title), html.EscapeString(message))
}
