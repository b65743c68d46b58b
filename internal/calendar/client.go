// Package calendar talks to the Google Calendar REST API with a delegated
// user token and exposes the operations as tools for the reasoning runtime.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://www.googleapis.com/calendar/v3"

// ErrUnauthorized is returned when the calendar API rejects the delegated
// token.
var ErrUnauthorized = errors.New("calendar token rejected")

// EventTime is either a timed instant (DateTime) or an all-day date (Date).
type EventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// Event is the subset of the calendar event resource the assistant works
// with.
type Event struct {
	ID          string    `json:"id,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       EventTime `json:"start,omitempty"`
	End         EventTime `json:"end,omitempty"`
	Status      string    `json:"status,omitempty"`
	HTMLLink    string    `json:"htmlLink,omitempty"`
}

// ListParams narrows an event listing. Zero values mean "no constraint".
type ListParams struct {
	TimeMin    time.Time
	TimeMax    time.Time
	Query      string
	MaxResults int
}

type Client struct {
	http    *http.Client
	baseURL string
}

type ClientOptions struct {
	HTTPClient *http.Client
	// BaseURL overrides the Google endpoint, mainly for tests.
	BaseURL string
}

func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := strings.TrimSpace(strings.TrimRight(opts.BaseURL, "/"))
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{http: httpClient, baseURL: baseURL}
}

type eventList struct {
	Items []Event `json:"items"`
}

// ListEvents returns upcoming events of the calendar, ordered by start time.
func (c *Client) ListEvents(ctx context.Context, token, calendarID string, params ListParams) ([]Event, error) {
	query := url.Values{}
	query.Set("singleEvents", "true")
	query.Set("orderBy", "startTime")
	if !params.TimeMin.IsZero() {
		query.Set("timeMin", params.TimeMin.Format(time.RFC3339))
	}
	if !params.TimeMax.IsZero() {
		query.Set("timeMax", params.TimeMax.Format(time.RFC3339))
	}
	if q := strings.TrimSpace(params.Query); q != "" {
		query.Set("q", q)
	}
	if params.MaxResults > 0 {
		query.Set("maxResults", strconv.Itoa(params.MaxResults))
	}

	body, err := c.call(ctx, token, http.MethodGet,
		c.eventsPath(calendarID)+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var list eventList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode event list: %w", err)
	}
	return list.Items, nil
}

// CreateEvent inserts a new event and returns the stored resource.
func (c *Client) CreateEvent(ctx context.Context, token, calendarID string, event Event) (Event, error) {
	body, err := c.call(ctx, token, http.MethodPost, c.eventsPath(calendarID), event)
	if err != nil {
		return Event{}, err
	}
	var created Event
	if err := json.Unmarshal(body, &created); err != nil {
		return Event{}, fmt.Errorf("decode created event: %w", err)
	}
	return created, nil
}

// UpdateEvent patches an existing event; only the set fields change.
func (c *Client) UpdateEvent(ctx context.Context, token, calendarID, eventID string, event Event) (Event, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return Event{}, fmt.Errorf("event id is required")
	}
	body, err := c.call(ctx, token, http.MethodPatch,
		c.eventsPath(calendarID)+"/"+url.PathEscape(eventID), event)
	if err != nil {
		return Event{}, err
	}
	var updated Event
	if err := json.Unmarshal(body, &updated); err != nil {
		return Event{}, fmt.Errorf("decode updated event: %w", err)
	}
	return updated, nil
}

// DeleteEvent removes an event from the calendar.
func (c *Client) DeleteEvent(ctx context.Context, token, calendarID, eventID string) error {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("event id is required")
	}
	_, err := c.call(ctx, token, http.MethodDelete,
		c.eventsPath(calendarID)+"/"+url.PathEscape(eventID), nil)
	return err
}

func (c *Client) eventsPath(calendarID string) string {
	calendarID = strings.TrimSpace(calendarID)
	if calendarID == "" {
		calendarID = "primary"
	}
	return "/calendars/" + url.PathEscape(calendarID) + "/events"
}

func (c *Client) call(ctx context.Context, token, method, path string, payload any) ([]byte, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthorized
	}

	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, fmt.Errorf("calendar api http %d: %s", resp.StatusCode, msg)
	}
	return body, nil
}
