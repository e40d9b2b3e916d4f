package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"fleetwarden/internal/app"
	"fleetwarden/internal/auth"
	"fleetwarden/internal/config"
	"fleetwarden/internal/logging"
	"fleetwarden/internal/sender"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

func newRootCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:           "fleetwarden",
		Short:         "Broadcast dispatch and account warmup service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	var simLatency time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, dispatcher and warmup runner",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
			policy, err := config.LoadPolicy(cfg.PolicyFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			snd := sender.NewSimulated(sender.SimulatedConfig{Latency: simLatency}, log)
			a, err := app.New(ctx, cfg, policy, snd, log, Version)
			if err != nil {
				return err
			}
			log.Info().Str("version", Version).Str("commit", Commit).Msg("fleetwarden starting")
			return a.Run(ctx)
		},
	}
	cmd.Flags().DurationVar(&simLatency, "sim-latency", 200*time.Millisecond, "latency of the built-in simulated platform client")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var operator string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator bearer token signed with MASTER_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			tok, err := auth.CreateToken(operator, app.TokenConfig(cfg))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "admin", "operator name stored in the token subject")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fleetwarden %s (commit: %s)\n", Version, Commit)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
