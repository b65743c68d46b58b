// Package gatewaycmd runs the calendar tool gateway: the HTTP surface the
// reasoning runtime calls to act on the user's calendar.
package gatewaycmd

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quailyquaily/mynion/internal/calendar"
	"github.com/quailyquaily/mynion/internal/configutil"
	"github.com/quailyquaily/mynion/internal/healthcheck"
	"github.com/quailyquaily/mynion/internal/logutil"
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the calendar tool gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.FromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			listen := strings.TrimSpace(configutil.FlagOrViperString(cmd, "listen", "gateway.listen"))
			if listen == "" {
				listen = "127.0.0.1:8090"
			}

			client := calendar.NewClient(calendar.ClientOptions{
				BaseURL: viper.GetString("calendar.endpoint"),
			})
			gateway, err := calendar.NewGateway(calendar.GatewayOptions{
				Logger:   logger,
				Calendar: client,
			})
			if err != nil {
				return err
			}

			healthListen := healthcheck.NormalizeListen(configutil.FlagOrViperString(cmd, "health-listen", "health.listen"))
			if healthListen != "" {
				healthServer, err := healthcheck.StartServer(cmd.Context(), logger, healthListen, "gateway")
				if err != nil {
					logger.Warn("gateway_health_server_start_error", "addr", healthListen, "error", err.Error())
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
				Handler:           gateway,
				ReadHeaderTimeout: 5 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				errCh <- server.ListenAndServe()
			}()
			logger.Info("gateway_start", "addr", listen)

			select {
			case <-cmd.Context().Done():
				logger.Info("gateway_stop", "reason", "context_canceled")
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

	cmd.Flags().String("listen", "127.0.0.1:8090", "Gateway listen address.")
	cmd.Flags().String("health-listen", "", "Health check listen address (empty disables).")

	return cmd
}
