// Package servecmd runs the webhook-based intake: an HTTP server that
// receives Slack Events API deliveries and the OAuth return leg.
package servecmd

import (
	"context"
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
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Slack events webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.FromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			signingSecret := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-signing-secret", "slack.signing_secret"))
			if signingSecret == "" {
				return fmt.Errorf("missing slack.signing_secret (set via --slack-signing-secret or MYNION_SLACK_SIGNING_SECRET)")
			}
			listen := strings.TrimSpace(configutil.FlagOrViperString(cmd, "listen", "serve.listen"))
			if listen == "" {
				listen = "127.0.0.1:8080"
			}

			core, err := bootstrap.BuildCore(cmd, logger)
			if err != nil {
				return err
			}
			defer core.Close()

			handler, err := intake.NewHandler(intake.HandlerOptions{
				Logger:        logger,
				SigningSecret: signingSecret,
				Dispatcher:    core.Queue,
				Bot:           core.Bot,
				Replier:       core.Slack,
			})
			if err != nil {
				return err
			}

			mux := http.NewServeMux()
			mux.Handle("/slack/events", handler)
			mux.Handle("/oauth/callback", core.Completer)

			healthListen := healthcheck.NormalizeListen(configutil.FlagOrViperString(cmd, "health-listen", "health.listen"))
			if healthListen != "" {
				healthServer, err := healthcheck.StartServer(cmd.Context(), logger, healthListen, "serve")
				if err != nil {
					logger.Warn("serve_health_server_start_error", "addr", healthListen, "error", err.Error())
				} else {
					defer func() {
						shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
						_ = healthServer.Shutdown(shutdownCtx)
						cancel()
					}()
				}
			}

			server := &http.Server{
				Addr:              listen,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				errCh <- server.ListenAndServe()
			}()
			logger.Info("serve_start", "addr", listen)

			select {
			case <-cmd.Context().Done():
				logger.Info("serve_stop", "reason", "context_canceled")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			}
		},
	}

	cmd.Flags().String("listen", "127.0.0.1:8080", "Webhook server listen address.")
	cmd.Flags().String("slack-bot-token", "", "Slack bot token (xoxb-...).")
	cmd.Flags().String("slack-signing-secret", "", "Slack app signing secret for request verification.")
	cmd.Flags().String("health-listen", "", "Health check listen address (empty disables).")

	return cmd
}
