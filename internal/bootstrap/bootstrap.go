// Package bootstrap assembles the processing pipeline shared by the webhook
// and Socket Mode intakes from viper configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/quailyquaily/mynion/internal/botident"
	"github.com/quailyquaily/mynion/internal/configutil"
	"github.com/quailyquaily/mynion/internal/dispatch"
	"github.com/quailyquaily/mynion/internal/engine"
	"github.com/quailyquaily/mynion/internal/identity"
	"github.com/quailyquaily/mynion/internal/slack"
	"github.com/quailyquaily/mynion/internal/worker"
)

// Core bundles the long-lived pieces of the assistant: the Slack client, bot
// identity cache, token manager, OAuth completer, and the dispatch queue
// feeding the processor.
type Core struct {
	Slack     *slack.Client
	Bot       *botident.Resolver
	Tokens    *identity.Manager
	Completer *identity.Completer
	Queue     *dispatch.Queue
}

// Close drains the dispatch queue.
func (c *Core) Close() {
	if c == nil {
		return
	}
	c.Queue.Close()
}

// BuildCore wires the pipeline from flags and viper keys. The returned Core
// is running (its queue workers are started) and must be closed.
func BuildCore(cmd *cobra.Command, logger *slog.Logger) (*Core, error) {
	botToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-bot-token", "slack.bot_token"))
	if botToken == "" {
		return nil, fmt.Errorf("missing slack.bot_token (set via --slack-bot-token or MYNION_SLACK_BOT_TOKEN)")
	}

	slackClient, err := slack.NewClient(slack.ClientOptions{
		BotToken: botToken,
		AppToken: strings.TrimSpace(viper.GetString("slack.app_token")),
	})
	if err != nil {
		return nil, err
	}
	bot, err := botident.NewResolver(slackClient)
	if err != nil {
		return nil, err
	}

	tokenURL := strings.TrimSpace(viper.GetString("identity.token_url"))
	clientID := strings.TrimSpace(viper.GetString("identity.client_id"))
	clientSecret := strings.TrimSpace(viper.GetString("identity.client_secret"))
	if tokenURL == "" || clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("missing identity.token_url, identity.client_id, or identity.client_secret")
	}
	workload := (&clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       viper.GetStringSlice("identity.workload_scopes"),
	}).TokenSource(context.Background())

	broker, err := identity.NewBroker(identity.BrokerOptions{
		Endpoint: viper.GetString("identity.endpoint"),
		Workload: workload,
	})
	if err != nil {
		return nil, err
	}
	scopes := viper.GetStringSlice("identity.scopes")
	if len(scopes) == 0 {
		scopes = []string{"https://www.googleapis.com/auth/calendar"}
	}
	tokens, err := identity.NewManager(identity.ManagerOptions{
		Logger:      logger,
		Broker:      broker,
		Provider:    viper.GetString("identity.provider"),
		Scopes:      scopes,
		CallbackURL: viper.GetString("identity.callback_url"),
	})
	if err != nil {
		return nil, err
	}
	completer, err := identity.NewCompleter(identity.CompleterOptions{
		Logger: logger,
		Broker: broker,
	})
	if err != nil {
		return nil, err
	}

	engineClient, err := engine.NewClient(engine.ClientOptions{
		Endpoint: viper.GetString("engine.endpoint"),
		Timeout:  viper.GetDuration("engine.request_timeout"),
	})
	if err != nil {
		return nil, err
	}

	processor, err := worker.NewProcessor(worker.ProcessorOptions{
		Logger: logger,
		Slack:  slackClient,
		Bot:    bot,
		Tokens: tokens,
		Engine: engineClient,
	})
	if err != nil {
		return nil, err
	}

	queue, err := dispatch.NewQueue(dispatch.Options{
		Logger:    logger,
		Handler:   processor.Process,
		QueueSize: viper.GetInt("dispatch.queue_size"),
		Workers:   viper.GetInt("dispatch.workers"),
		Timeout:   viper.GetDuration("dispatch.timeout"),
	})
	if err != nil {
		return nil, err
	}

	return &Core{
		Slack:     slackClient,
		Bot:       bot,
		Tokens:    tokens,
		Completer: completer,
		Queue:     queue,
	}, nil
}
