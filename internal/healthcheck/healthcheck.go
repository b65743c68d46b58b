// Package healthcheck runs a tiny liveness endpoint next to long-running
// commands.
package healthcheck

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// NormalizeListen turns a bare port ("8081") into a listen address
// (":8081"). Empty input stays empty, which disables the server.
func NormalizeListen(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if !strings.Contains(addr, ":") {
		return ":" + addr
	}
	return addr
}

// StartServer listens on addr and serves GET /healthz. The returned server
// is already running; the caller shuts it down.
func StartServer(ctx context.Context, logger *slog.Logger, addr, component string) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":        true,
			"component": component,
		})
	})

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              listener.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Warn("healthcheck_serve_error", "addr", addr, "error", err.Error())
			}
		}
	}()
	if logger != nil {
		logger.Info("healthcheck_listening", "addr", listener.Addr().String(), "component", component)
	}
	return server, nil
}
