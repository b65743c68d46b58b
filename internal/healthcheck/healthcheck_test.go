package healthcheck

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
)

func TestNormalizeListen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "  ", want: ""},
		{in: "8081", want: ":8081"},
		{in: ":8081", want: ":8081"},
		{in: "127.0.0.1:8081", want: "127.0.0.1:8081"},
	}
	for _, tt := range tests {
		if got := NormalizeListen(tt.in); got != tt.want {
			t.Fatalf("NormalizeListen(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStartServerServesHealthz(t *testing.T) {
	t.Parallel()

	server, err := StartServer(context.Background(), nil, "127.0.0.1:0", "serve")
	if err != nil {
		t.Fatalf("StartServer() error = %v", err)
	}
	defer func() { _ = server.Shutdown(context.Background()) }()

	resp, err := http.Get("http://" + server.Addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if out["ok"] != true || out["component"] != "serve" {
		t.Fatalf("body = %v", out)
	}
}
