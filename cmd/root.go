package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pyama86/firefighter/handler"
	"github.com/spf13/cobra"
)

var (
	configPath string
	storeKind  string
)

var rootCmd = &cobra.Command{
	Use:   "firefighter",
	Short: "firefighter is a SlackBot for incident lifecycle management",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnv(".env")
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the socket mode bot and scheduled tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var reminderCmd = &cobra.Command{
	Use:   "reminder",
	Short: "scan incidents once and remind missing post-mortems",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, _, err := handler.Bootstrap(configPath, storeKind)
		if err != nil {
			return err
		}
		return app.RemindPostMortems(cmd.Context())
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "reconcile external data into the store",
}

var syncConfluenceCmd = &cobra.Command{
	Use:   "confluence",
	Short: "sync runbook and post-mortem pages from Confluence",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, _, err := handler.Bootstrap(configPath, storeKind)
		if err != nil {
			return err
		}
		if app.Confluence == nil {
			return errDisabled("confluence")
		}
		result, err := app.Confluence.Sync(cmd.Context())
		if err != nil {
			return err
		}
		slog.Info("confluence synced", slog.Int("stale", len(result.Stale)), slog.Bool("deleted", result.DeleteAllowed))
		return nil
	},
}

var syncPagerDutyCmd = &cobra.Command{
	Use:   "pagerduty",
	Short: "sync on-call schedules from PagerDuty",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, _, err := handler.Bootstrap(configPath, storeKind)
		if err != nil {
			return err
		}
		if app.PagerDuty == nil {
			return errDisabled("pagerduty")
		}
		result, err := app.PagerDuty.Sync(cmd.Context())
		if err != nil {
			return err
		}
		slog.Info("pagerduty synced", slog.Int("stale", len(result.Stale)), slog.Bool("deleted", result.DeleteAllowed))
		return nil
	},
}

func errDisabled(feature string) error {
	return fmt.Errorf("%s is disabled in the config", feature)
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// デフォルトはホームディレクトリのfirefighter.toml
	home, err := os.UserHomeDir()
	if err != nil {
		slog.Error("Failed to get user home directory", slog.Any("error", err))
		os.Exit(1)
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", path.Join(home, "firefighter.toml"), "config file path")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "dynamodb", "store backend (dynamodb|memory)")

	syncCmd.AddCommand(syncConfluenceCmd, syncPagerDutyCmd)
	rootCmd.AddCommand(serveCmd, reminderCmd, syncCmd)
}

// loadEnv は.envがあれば読み込み、Slackのトークンが揃っているか確認する
func loadEnv(file string) error {
	if _, err := os.Stat(file); err == nil {
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	for _, env := range []string{"SLACK_BOT_TOKEN", "SLACK_APP_TOKEN"} {
		if os.Getenv(env) == "" {
			return fmt.Errorf("environment variable %s is required but not set", env)
		}
	}
	return nil
}

func serve(ctx context.Context) error {
	slog.Info("Server started")
	return handler.Handle(ctx, configPath, storeKind)
}
