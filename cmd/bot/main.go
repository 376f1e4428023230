package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Xorboo/TeemoBot/internal/bot"
	"github.com/Xorboo/TeemoBot/internal/config"
	"github.com/Xorboo/TeemoBot/internal/storage"
	"github.com/Xorboo/TeemoBot/internal/verify"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "bot",
		Short:        "TeemoBot - League rank roles for Discord",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:          "run",
		Short:        "Connect to Discord and keep ranks in sync",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	})
	cmd.AddCommand(newCodeCommand())
	cmd.AddCommand(newStateCommand())

	return cmd
}

func newCodeCommand() *cobra.Command {
	var salt string

	cmd := &cobra.Command{
		Use:          "code <account-id> <member-id>",
		Short:        "Print the verification code a member has to publish",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if salt == "" {
				var err error
				if salt, err = config.Salt(); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), verify.Code(args[0], salt, args[1]))
			return nil
		},
	}
	cmd.Flags().StringVar(&salt, "salt", "", "verification salt (default $VERIFICATION_SALT)")

	return cmd
}

func newStateCommand() *cobra.Command {
	var statsOnly bool

	cmd := &cobra.Command{
		Use:          "state",
		Short:        "Print the persisted bindings",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			backend, err := bot.NewBackend(cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			store := storage.New(backend, storage.Options{DefaultRegion: cfg.DefaultRegion})
			if err := store.Load(cmd.Context()); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if statsOnly {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(store.Stats())
			}

			data, err := store.Export()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, string(data))
			return err
		},
	}
	cmd.Flags().BoolVar(&statsOnly, "stats", false, "print counters only")

	return cmd
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Set up logging
	setupLogging(cfg.LogLevel)

	slog.Info("Starting TeemoBot", "store", cfg.StoreBackend, "region", cfg.DefaultRegion)

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create and start the bot
	b, err := bot.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	// Start the bot
	if err := b.Start(ctx); err != nil {
		b.Stop()
		return fmt.Errorf("failed to start bot: %w", err)
	}

	slog.Info("Bot is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	cancel()

	// Stop the bot gracefully
	if err := b.Stop(); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}

	slog.Info("Bot stopped")
	return nil
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
