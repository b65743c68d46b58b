// Package engine is the client for the external reasoning runtime. The
// runtime answers either a structured JSON document or a text/event-stream;
// both decode into the same tagged Reply and feed one extraction function.
package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrAuthorizationRejected signals that the runtime refused the supplied
// delegated token. The caller invalidates its cache and retries once.
var ErrAuthorizationRejected = errors.New("engine rejected authorization")

// InvokeRequest carries one prompt into the runtime.
type InvokeRequest struct {
	Prompt    string
	SessionID string
	UserKey   string
	// AccessToken is the delegated calendar token, forwarded so runtime
	// tools can act on the user's behalf.
	AccessToken string
}

// ReplyKind discriminates the decoded response shape.
type ReplyKind int

const (
	ReplyText ReplyKind = iota
	ReplyStructured
)

// Reply is the tagged union decoded once at the runtime boundary.
type Reply struct {
	Kind       ReplyKind
	Text       string
	Structured *StructuredReply
}

// StructuredReply mirrors the runtime's JSON output document.
type StructuredReply struct {
	Output struct {
		Message struct {
			Content []struct {
				Text string `json:"text,omitempty"`
			} `json:"content,omitempty"`
		} `json:"message,omitempty"`
	} `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
	Status string `json:"status,omitempty"`
}

// ExtractText pulls the user-visible reply text from a Reply. It returns an
// empty string when nothing extractable is present; the caller substitutes
// its fallback message.
func ExtractText(reply Reply) string {
	switch reply.Kind {
	case ReplyText:
		return strings.TrimSpace(reply.Text)
	case ReplyStructured:
		if reply.Structured == nil {
			return ""
		}
		for _, item := range reply.Structured.Output.Message.Content {
			if text := strings.TrimSpace(item.Text); text != "" {
				return text
			}
		}
		return ""
	default:
		return ""
	}
}

type Client struct {
	http     *http.Client
	endpoint string
}

type ClientOptions struct {
	HTTPClient *http.Client
	Endpoint   string
	// Timeout applies when no HTTPClient is supplied. Reasoning calls may
	// run for minutes.
	Timeout time.Duration
}

func NewClient(opts ClientOptions) (*Client, error) {
	endpoint := strings.TrimSpace(strings.TrimRight(opts.Endpoint, "/"))
	if endpoint == "" {
		return nil, fmt.Errorf("engine endpoint is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{http: httpClient, endpoint: endpoint}, nil
}

type invokeBody struct {
	Input invokeInput `json:"input"`
}

type invokeInput struct {
	Prompt string `json:"prompt"`
	UserID string `json:"user_id,omitempty"`
}

// Invoke sends the prompt to the runtime and decodes the response into a
// Reply. A 401/403 answer maps to ErrAuthorizationRejected.
func (c *Client) Invoke(ctx context.Context, req InvokeRequest) (Reply, error) {
	if c == nil || c.http == nil {
		return Reply{}, fmt.Errorf("engine client is not initialized")
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Reply{}, fmt.Errorf("prompt is required")
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return Reply{}, fmt.Errorf("session_id is required")
	}

	raw, err := json.Marshal(invokeBody{Input: invokeInput{
		Prompt: prompt,
		UserID: strings.TrimSpace(req.UserKey),
	}})
	if err != nil {
		return Reply{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/invocations", bytes.NewReader(raw))
	if err != nil {
		return Reply{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Session-Id", sessionID)
	if token := strings.TrimSpace(req.AccessToken); token != "" {
		httpReq.Header.Set("X-Resource-Token", token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Reply{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Reply{}, ErrAuthorizationRejected
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Reply{}, fmt.Errorf("engine invocation http %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/event-stream") {
		text, err := readEventStream(resp.Body)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Kind: ReplyText, Text: text}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, err
	}
	var structured StructuredReply
	if err := json.Unmarshal(body, &structured); err != nil {
		return Reply{}, fmt.Errorf("decode engine response: %w", err)
	}
	if isAuthorizationError(structured.Error) {
		return Reply{}, ErrAuthorizationRejected
	}
	return Reply{Kind: ReplyStructured, Structured: &structured}, nil
}

// readEventStream joins the data lines of an SSE body into one reply text.
func readEventStream(r io.Reader) (string, error) {
	var chunks []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok && data != "" {
			chunks = append(chunks, data)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read engine stream: %w", err)
	}
	return strings.Join(chunks, "\n"), nil
}

func isAuthorizationError(msg string) bool {
	msg = strings.ToLower(strings.TrimSpace(msg))
	if msg == "" {
		return false
	}
	return strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "access denied") ||
		strings.Contains(msg, "authorization required")
}
