package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/lifeline/internal/poll"
	"github.com/user/lifeline/internal/state"
	"github.com/user/lifeline/internal/telegram"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Telegram conversation daemon",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token not configured (set telegram.token or TELEGRAM_BOT_TOKEN)")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	profiles := state.NewProfileStore(cfg.DataDir)

	intervals := poll.Intervals{
		Guide:      time.Duration(cfg.Poll.GuideSeconds) * time.Second,
		Assignment: time.Duration(cfg.Poll.AssignmentSeconds) * time.Second,
		Messages:   time.Duration(cfg.Poll.MessagesSeconds) * time.Second,
	}

	adapter, err := telegram.New(cfg.Telegram.Token, cfg.Backend.BaseURL, intervals, profiles)
	if err != nil {
		return fmt.Errorf("create telegram adapter: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go adapter.Start(ctx)
	slog.Info("lifeline started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"backend", cfg.Backend.BaseURL,
		"guide_interval_s", cfg.Poll.GuideSeconds,
		"assignment_interval_s", cfg.Poll.AssignmentSeconds,
		"messages_interval_s", cfg.Poll.MessagesSeconds,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	slog.Info("shutting down", "signal", sig)
	return nil
}
