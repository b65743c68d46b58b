package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
)

// SocketEnvelope is one frame of a Socket Mode connection.
type SocketEnvelope struct {
	EnvelopeID string          `json:"envelope_id,omitempty"`
	Type       string          `json:"type,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type openConnectionResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	URL   string `json:"url,omitempty"`
}

func (c *Client) openSocketURL(ctx context.Context) (string, error) {
	if c == nil {
		return "", fmt.Errorf("slack client is not initialized")
	}
	if c.appToken == "" {
		return "", fmt.Errorf("slack app token is required for socket mode")
	}
	body, status, _, err := c.postAuthJSON(ctx, c.appToken, "/apps.connections.open", nil)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("slack apps.connections.open http %d", status)
	}
	var out openConnectionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if !out.OK {
		return "", apiError("apps.connections.open", out.Error)
	}
	url := strings.TrimSpace(out.URL)
	if url == "" {
		return "", fmt.Errorf("slack apps.connections.open returned empty url")
	}
	return url, nil
}

// ConnectSocket opens a fresh Socket Mode websocket connection.
func (c *Client) ConnectSocket(ctx context.Context) (*websocket.Conn, error) {
	url, err := c.openSocketURL(ctx)
	if err != nil {
		return nil, err
	}
	dialer := *websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ConsumeSocket reads envelopes until the connection fails or the context is
// canceled. Envelopes carrying an envelope_id are acked before dispatch.
func ConsumeSocket(ctx context.Context, conn *websocket.Conn, onEnvelope func(envelope SocketEnvelope) error) error {
	if conn == nil {
		return fmt.Errorf("slack websocket connection is nil")
	}
	for {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var envelope SocketEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}
		if strings.TrimSpace(envelope.EnvelopeID) != "" {
			if err := conn.WriteJSON(map[string]string{"envelope_id": envelope.EnvelopeID}); err != nil {
				return err
			}
		}
		if onEnvelope == nil {
			continue
		}
		if err := onEnvelope(envelope); err != nil {
			return err
		}
	}
}
