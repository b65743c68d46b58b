// Package socketcmd runs the Socket Mode intake: instead of receiving
// webhooks, the assistant opens a websocket to Slack and consumes the same
// event stream. The OAuth return leg still needs an HTTP listener.
package socketcmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/mynion/internal/bootstrap"
	"github.com/quailyquaily/mynion/internal/configutil"
	"github.com/quailyquaily/mynion/internal/healthcheck"
	"github.com/quailyquaily/mynion/internal/intake"
	"github.com/quailyquaily/mynion/internal/logutil"
	"github.com/quailyquaily/mynion/internal/slack"
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "socket",
		Short: "Run the assistant over Slack Socket Mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.FromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			appToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-app-token", "slack.app_token"))
			if appToken == "" {
				return fmt.Errorf("missing slack.app_token (set via --slack-app-token or MYNION_SLACK_APP_TOKEN)")
			}

			core, err := bootstrap.BuildCore(cmd, logger)
			if err != nil {
				return err
			}
			defer core.Close()

			// Socket Mode deliveries are authenticated by the app token;
			// only the shared envelope path is used, so no signing secret.
			handler, err := intake.NewHandler(intake.HandlerOptions{
				Logger:     logger,
				Dispatcher: core.Queue,
				Bot:        core.Bot,
				Replier:    core.Slack,
			})
			if err != nil {
				return err
			}

			callbackListen := strings.TrimSpace(configutil.FlagOrViperString(cmd, "callback-listen", "socket.callback_listen"))
			if callbackListen != "" {
				mux := http.NewServeMux()
				mux.Handle("/oauth/callback", core.Completer)
				callbackServer := &http.Server{
					Addr:              callbackListen,
					Handler:           mux,
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := callbackServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Warn("socket_callback_serve_error", "addr", callbackListen, "error", err.Error())
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					_ = callbackServer.Shutdown(shutdownCtx)
					cancel()
				}()
				logger.Info("socket_callback_listening", "addr", callbackListen)
			}

			healthListen := healthcheck.NormalizeListen(configutil.FlagOrViperString(cmd, "health-listen", "health.listen"))
			if healthListen != "" {
				healthServer, err := healthcheck.StartServer(cmd.Context(), logger, healthListen, "socket")
				if err != nil {
					logger.Warn("socket_health_server_start_error", "addr", healthListen, "error", err.Error())
				} else {
					defer func() {
						shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
						_ = healthServer.Shutdown(shutdownCtx)
						cancel()
					}()
				}
			}

			logger.Info("socket_start")
			for {
				if cmd.Context().Err() != nil {
					logger.Info("socket_stop", "reason", "context_canceled")
					return nil
				}
				conn, err := core.Slack.ConnectSocket(cmd.Context())
				if err != nil {
					if cmd.Context().Err() != nil {
						logger.Info("socket_stop", "reason", "context_canceled")
						return nil
					}
					logger.Warn("socket_connect_error", "error", err.Error())
					select {
					case <-cmd.Context().Done():
						return nil
					case <-time.After(2 * time.Second):
					}
					continue
				}
				logger.Info("socket_connected")
				readErr := slack.ConsumeSocket(cmd.Context(), conn, func(envelope slack.SocketEnvelope) error {
					if strings.TrimSpace(envelope.Type) != "events_api" || len(envelope.Payload) == 0 {
						return nil
					}
					inner, err := slack.ParseEnvelope(envelope.Payload)
					if err != nil {
						logger.Warn("socket_envelope_parse_error", "error", err.Error())
						return nil
					}
					handler.ProcessEnvelope(cmd.Context(), inner)
					return nil
				})
				_ = conn.Close()
				if readErr != nil && !errors.Is(readErr, context.Canceled) && !errors.Is(readErr, context.DeadlineExceeded) {
					logger.Warn("socket_read_error", "error", readErr.Error())
				}
			}
		},
	}

	cmd.Flags().String("slack-bot-token", "", "Slack bot token (xoxb-...).")
	cmd.Flags().String("slack-app-token", "", "Slack app-level token for Socket Mode (xapp-...).")
	cmd.Flags().String("callback-listen", "127.0.0.1:8080", "OAuth callback listen address (empty disables).")
	cmd.Flags().String("health-listen", "", "Health check listen address (empty disables).")

	return cmd
}
