package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dfeldman/webink/internal/app"
)

func newServeCmd() *cobra.Command {
	var configPath, chromeURL, sentryDSN, slackWebhookURL string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webInk render-and-serve server.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			srv, err := app.New(app.Options{
				ConfigPath:      configPath,
				ChromeURL:       chromeURL,
				SentryDSN:       sentryDSN,
				SlackWebhookURL: slackWebhookURL,
			}, log.Logger)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")
	cmd.Flags().StringVar(&chromeURL, "chrome-url", "", "remote Chrome DevTools URL; empty launches a local headless instance")
	cmd.Flags().StringVar(&sentryDSN, "sentry-dsn", os.Getenv("SENTRY_DSN"), "Sentry DSN for error reporting (optional)")
	cmd.Flags().StringVar(&slackWebhookURL, "slack-webhook-url", os.Getenv("SLACK_WEBHOOK_URL"), "Slack webhook URL for error notifications (optional)")

	return cmd
}

func newRenderCmd() *cobra.Command {
	var configPath, chromeURL string

	cmd := &cobra.Command{
		Use:   "render <page_id>",
		Short: "Render a single configured page immediately and exit.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := app.New(app.Options{ConfigPath: configPath, ChromeURL: chromeURL}, log.Logger)
			if err != nil {
				return err
			}
			return srv.RenderPageNow(context.Background(), args[0])
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")
	cmd.Flags().StringVar(&chromeURL, "chrome-url", "", "remote Chrome DevTools URL; empty launches a local headless instance")

	return cmd
}
