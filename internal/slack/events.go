package slack

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	EnvelopeTypeURLVerification = "url_verification"
	EnvelopeTypeEventCallback   = "event_callback"
)

// Envelope is the outer Events API payload.
type Envelope struct {
	Type      string          `json:"type,omitempty"`
	Token     string          `json:"token,omitempty"`
	Challenge string          `json:"challenge,omitempty"`
	TeamID    string          `json:"team_id,omitempty"`
	EventID   string          `json:"event_id,omitempty"`
	EventTime int64           `json:"event_time,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

// Event is the inner message-shaped event carried by an event_callback
// envelope.
type Event struct {
	Type        string `json:"type,omitempty"`
	Subtype     string `json:"subtype,omitempty"`
	User        string `json:"user,omitempty"`
	Text        string `json:"text,omitempty"`
	Channel     string `json:"channel,omitempty"`
	ChannelType string `json:"channel_type,omitempty"`
	TS          string `json:"ts,omitempty"`
	ThreadTS    string `json:"thread_ts,omitempty"`
	BotID       string `json:"bot_id,omitempty"`
	Team        string `json:"team,omitempty"`
	EventTS     string `json:"event_ts,omitempty"`
}

// ThreadKey returns the identifier that names the conversation thread an
// event belongs to: the parent thread timestamp when the message is a reply,
// otherwise the message's own timestamp (it starts a new thread).
func (e Event) ThreadKey() string {
	if ts := strings.TrimSpace(e.ThreadTS); ts != "" {
		return ts
	}
	return strings.TrimSpace(e.TS)
}

// ParseEnvelope decodes a raw Events API body.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode slack envelope: %w", err)
	}
	return env, nil
}

// ParseEvent decodes the inner event of an event_callback envelope.
func (env Envelope) ParseEvent() (Event, error) {
	if len(env.Event) == 0 {
		return Event{}, fmt.Errorf("slack envelope has no event")
	}
	var event Event
	if err := json.Unmarshal(env.Event, &event); err != nil {
		return Event{}, fmt.Errorf("decode slack event: %w", err)
	}
	return event, nil
}
