package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quailyquaily/mynion/cmd/mynion/gatewaycmd"
	"github.com/quailyquaily/mynion/cmd/mynion/servecmd"
	"github.com/quailyquaily/mynion/cmd/mynion/socketcmd"
)

var rootCmd = &cobra.Command{
	Use:          "mynion",
	Short:        "Slack calendar assistant with per-user delegated access",
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("config", "", "Config file path (default ./mynion.yaml).")
	rootCmd.AddCommand(servecmd.New())
	rootCmd.AddCommand(socketcmd.New())
	rootCmd.AddCommand(gatewaycmd.New())
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if strings.TrimSpace(cfgFile) != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("mynion")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/mynion")
	}
	viper.SetEnvPrefix("MYNION")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
