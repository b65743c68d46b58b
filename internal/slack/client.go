package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Slack Web API client covering the calls the bot
// pipeline needs.
type Client struct {
	http     *http.Client
	baseURL  string
	botToken string
	appToken string
}

type ClientOptions struct {
	HTTPClient *http.Client
	BaseURL    string
	BotToken   string
	AppToken   string
}

func NewClient(opts ClientOptions) (*Client, error) {
	botToken := strings.TrimSpace(opts.BotToken)
	if botToken == "" {
		return nil, fmt.Errorf("slack bot token is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := strings.TrimSpace(strings.TrimRight(opts.BaseURL, "/"))
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	return &Client{
		http:     httpClient,
		baseURL:  baseURL,
		botToken: botToken,
		appToken: strings.TrimSpace(opts.AppToken),
	}, nil
}

type AuthTestResult struct {
	TeamID string
	UserID string
	BotID  string
	Team   string
	User   string
}

type authTestResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	TeamID string `json:"team_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
	BotID  string `json:"bot_id,omitempty"`
	Team   string `json:"team,omitempty"`
	User   string `json:"user,omitempty"`
}

// AuthTest resolves the identity the bot token is bound to.
func (c *Client) AuthTest(ctx context.Context) (AuthTestResult, error) {
	if c == nil {
		return AuthTestResult{}, fmt.Errorf("slack client is not initialized")
	}
	body, status, _, err := c.postAuthJSON(ctx, c.botToken, "/auth.test", nil)
	if err != nil {
		return AuthTestResult{}, err
	}
	if status < 200 || status >= 300 {
		return AuthTestResult{}, fmt.Errorf("slack auth.test http %d", status)
	}
	var out authTestResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return AuthTestResult{}, err
	}
	if !out.OK {
		return AuthTestResult{}, apiError("auth.test", out.Error)
	}
	userID := strings.TrimSpace(out.UserID)
	if userID == "" {
		return AuthTestResult{}, fmt.Errorf("slack auth.test returned empty user_id")
	}
	return AuthTestResult{
		TeamID: strings.TrimSpace(out.TeamID),
		UserID: userID,
		BotID:  strings.TrimSpace(out.BotID),
		Team:   strings.TrimSpace(out.Team),
		User:   strings.TrimSpace(out.User),
	}, nil
}

type postMessageRequest struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	TS    string `json:"ts,omitempty"`
}

// PostMessage posts text into a channel (optionally threaded) and returns the
// timestamp handle of the created message.
func (c *Client) PostMessage(ctx context.Context, channelID, text, threadTS string) (string, error) {
	channelID = strings.TrimSpace(channelID)
	text = strings.TrimSpace(text)
	if channelID == "" {
		return "", fmt.Errorf("channel_id is required")
	}
	if text == "" {
		return "", fmt.Errorf("text is required")
	}
	out, err := c.callWithRetry(ctx, "/chat.postMessage", postMessageRequest{
		Channel:  channelID,
		Text:     text,
		ThreadTS: strings.TrimSpace(threadTS),
	})
	if err != nil {
		return "", err
	}
	ts := strings.TrimSpace(out.TS)
	if ts == "" {
		return "", fmt.Errorf("slack chat.postMessage returned empty ts")
	}
	return ts, nil
}

type updateMessageRequest struct {
	Channel string `json:"channel"`
	TS      string `json:"ts"`
	Text    string `json:"text"`
}

// UpdateMessage edits an existing message in place.
func (c *Client) UpdateMessage(ctx context.Context, channelID, ts, text string) error {
	channelID = strings.TrimSpace(channelID)
	ts = strings.TrimSpace(ts)
	text = strings.TrimSpace(text)
	if channelID == "" {
		return fmt.Errorf("channel_id is required")
	}
	if ts == "" {
		return fmt.Errorf("ts is required")
	}
	if text == "" {
		return fmt.Errorf("text is required")
	}
	_, err := c.callWithRetry(ctx, "/chat.update", updateMessageRequest{
		Channel: channelID,
		TS:      ts,
		Text:    text,
	})
	return err
}

// Message is one entry of a thread history lookup.
type Message struct {
	User  string `json:"user,omitempty"`
	BotID string `json:"bot_id,omitempty"`
	Text  string `json:"text,omitempty"`
	TS    string `json:"ts,omitempty"`
}

type repliesResponse struct {
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	Messages []Message `json:"messages,omitempty"`
}

// ThreadReplies fetches up to limit of the most recent messages in a thread.
func (c *Client) ThreadReplies(ctx context.Context, channelID, threadTS string, limit int) ([]Message, error) {
	if c == nil {
		return nil, fmt.Errorf("slack client is not initialized")
	}
	channelID = strings.TrimSpace(channelID)
	threadTS = strings.TrimSpace(threadTS)
	if channelID == "" {
		return nil, fmt.Errorf("channel_id is required")
	}
	if threadTS == "" {
		return nil, fmt.Errorf("thread_ts is required")
	}
	if limit <= 0 {
		limit = 5
	}
	q := url.Values{}
	q.Set("channel", channelID)
	q.Set("ts", threadTS)
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/conversations.replies?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.botToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("slack conversations.replies http %d", resp.StatusCode)
	}
	var out repliesResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, apiError("conversations.replies", out.Error)
	}
	return out.Messages, nil
}

func (c *Client) callWithRetry(ctx context.Context, path string, payload any) (postMessageResponse, error) {
	if c == nil {
		return postMessageResponse{}, fmt.Errorf("slack client is not initialized")
	}
	const maxAttempts = 3
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, status, headers, err := c.postAuthJSON(ctx, c.botToken, path, payload)
		if err != nil {
			lastErr = err
		} else {
			var out postMessageResponse
			if parseErr := json.Unmarshal(body, &out); parseErr != nil {
				lastErr = parseErr
			} else if status < 200 || status >= 300 {
				lastErr = fmt.Errorf("slack %s http %d", strings.TrimPrefix(path, "/"), status)
			} else if out.OK {
				return out, nil
			} else {
				lastErr = apiError(strings.TrimPrefix(path, "/"), out.Error)
			}
		}

		if attempt >= maxAttempts {
			break
		}
		wait, retryable := retryDelay(status, headers, attempt)
		if !retryable {
			break
		}
		if err := sleepWithContext(ctx, wait); err != nil {
			return postMessageResponse{}, err
		}
	}
	return postMessageResponse{}, lastErr
}

func retryDelay(status int, headers http.Header, attempt int) (time.Duration, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		retryAfter := strings.TrimSpace(headers.Get("Retry-After"))
		if retryAfter == "" {
			return 1 * time.Second, true
		}
		secs, err := strconv.Atoi(retryAfter)
		if err != nil || secs <= 0 {
			return 1 * time.Second, true
		}
		return time.Duration(secs) * time.Second, true
	case status >= 500 && status <= 599:
		switch attempt {
		case 1:
			return 300 * time.Millisecond, true
		case 2:
			return 1 * time.Second, true
		default:
			return 2 * time.Second, true
		}
	default:
		return 0, false
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func apiError(method, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		code = "unknown_error"
	}
	return fmt.Errorf("slack %s failed: %s", method, code)
}

func (c *Client) postAuthJSON(ctx context.Context, token, path string, payload any) ([]byte, int, http.Header, error) {
	if c == nil || c.http == nil {
		return nil, 0, nil, fmt.Errorf("slack client is not initialized")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, 0, nil, fmt.Errorf("slack token is required")
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp.StatusCode, resp.Header, readErr
	}
	return raw, resp.StatusCode, resp.Header, nil
}
