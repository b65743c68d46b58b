// Package intake is the fast path between Slack and the dispatch queue. It
// authenticates webhook deliveries, answers URL verification, deduplicates
// retried events, gates what deserves a response, and hands accepted work to
// the queue without waiting for it.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quailyquaily/mynion/internal/dispatch"
	"github.com/quailyquaily/mynion/internal/sessionid"
	"github.com/quailyquaily/mynion/internal/slack"
)

const (
	maxBodyBytes  = 1 << 20
	seenEventsCap = 2048
)

// BotIdentity supplies the bot's own user id for gating.
type BotIdentity interface {
	BotUserID(ctx context.Context) (string, error)
}

type Handler struct {
	logger        *slog.Logger
	signingSecret string
	dispatcher    dispatch.Submitter
	bot           BotIdentity
	replier       slack.ThreadReplier
	now           func() time.Time

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

type HandlerOptions struct {
	Logger *slog.Logger
	// SigningSecret authenticates webhook deliveries. Callers that only
	// feed ProcessEnvelope (Socket Mode) may leave it empty; ServeHTTP
	// refuses every delivery without one.
	SigningSecret string
	Dispatcher    dispatch.Submitter
	Bot           BotIdentity
	Replier       slack.ThreadReplier
	// Now is injectable for tests.
	Now func() time.Time
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if opts.Bot == nil {
		return nil, fmt.Errorf("bot identity is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		logger:        logger,
		signingSecret: strings.TrimSpace(opts.SigningSecret),
		dispatcher:    opts.Dispatcher,
		bot:           opts.Bot,
		replier:       opts.Replier,
		now:           now,
		seen:          make(map[string]struct{}),
	}, nil
}

// ServeHTTP handles POST deliveries from the Slack Events API. Only a failed
// signature check is reported as an error status; everything after
// authentication acknowledges with 200 so Slack does not retry on our
// internal problems.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.signingSecret == "" {
		h.logger.Warn("intake_signing_secret_missing", "remote_addr", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("intake_body_read_error", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if !slack.VerifySignature(r.Header, body, h.signingSecret, h.now()) {
		h.logger.Warn("intake_signature_rejected", "remote_addr", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	envelope, err := slack.ParseEnvelope(body)
	if err != nil {
		h.logger.Warn("intake_envelope_parse_error", "error", err)
		writeAck(w)
		return
	}

	switch envelope.Type {
	case slack.EnvelopeTypeURLVerification:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"challenge": envelope.Challenge})
	case slack.EnvelopeTypeEventCallback:
		h.ProcessEnvelope(r.Context(), envelope)
		writeAck(w)
	default:
		h.logger.Debug("intake_envelope_ignored", "type", envelope.Type)
		writeAck(w)
	}
}

// ProcessEnvelope runs the shared post-authentication path: deduplicate,
// gate, and submit. Socket Mode feeds envelopes here directly.
func (h *Handler) ProcessEnvelope(ctx context.Context, envelope slack.Envelope) {
	if envelope.EventID != "" && h.alreadySeen(envelope.EventID) {
		h.logger.Debug("intake_event_duplicate", "event_id", envelope.EventID)
		return
	}

	event, err := envelope.ParseEvent()
	if err != nil {
		h.logger.Warn("intake_event_parse_error", "event_id", envelope.EventID, "error", err)
		return
	}
	if event.Type != "message" && event.Type != "app_mention" {
		h.logger.Debug("intake_event_ignored", "event_type", event.Type)
		return
	}

	botUserID, err := h.bot.BotUserID(ctx)
	if err != nil {
		h.logger.Error("intake_bot_identity_error", "error", err)
		return
	}
	if !slack.ShouldRespond(ctx, h.logger, event, botUserID, h.replier) {
		return
	}

	teamID := strings.TrimSpace(envelope.TeamID)
	if teamID == "" {
		teamID = strings.TrimSpace(event.Team)
	}

	payload := dispatch.Payload{
		Event:         event,
		TeamID:        teamID,
		ChannelID:     event.Channel,
		UserID:        event.User,
		UserKey:       sessionid.UserKey(teamID, event.User),
		SessionID:     sessionid.Derive(event.ThreadKey()),
		EventID:       envelope.EventID,
		CorrelationID: uuid.NewString(),
		ReceivedAt:    h.now(),
	}
	if err := h.dispatcher.Submit(ctx, payload); err != nil {
		h.logger.Error("intake_dispatch_error",
			"event_id", envelope.EventID,
			"correlation_id", payload.CorrelationID,
			"error", err,
		)
		return
	}
	h.logger.Info("intake_event_accepted",
		"event_id", envelope.EventID,
		"channel_id", payload.ChannelID,
		"correlation_id", payload.CorrelationID,
	)
}

// alreadySeen records the event id and reports whether it was present. The
// set is bounded; the oldest entries fall out first.
func (h *Handler) alreadySeen(eventID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.seen[eventID]; ok {
		return true
	}
	h.seen[eventID] = struct{}{}
	h.order = append(h.order, eventID)
	for len(h.order) > seenEventsCap {
		delete(h.seen, h.order[0])
		h.order = h.order[1:]
	}
	return false
}

func writeAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}
