package main

import (
	"fmt"
	"os"
	"time"

	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/db"
	clog "chatrelay/internal/log"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "chatrelay",
		Short:         "Realtime chat relay: messaging, presence, receipts and call signaling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), tokenCmd())
	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("chatrelay")
	}
}

// loadConfig reads and checks the environment and sets up logging.
func loadConfig() (config.Config, error) {
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			gdb, err := db.Connect(cfg.DatabaseDSN)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			if err := db.Migrate(gdb); err != nil {
				return fmt.Errorf("db migrate: %w", err)
			}
			log.Info().Msg("schema up to date")
			return nil
		},
	}
}

// tokenCmd mints a session token for local testing. Real tokens come from
// the identity service.
func tokenCmd() *cobra.Command {
	var (
		device string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Print a session token for a user (development only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Env != "dev" {
				return fmt.Errorf("token: refusing to mint tokens in %s", cfg.Env)
			}
			tok, err := auth.GenerateAccessToken(args[0], device, cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(os.Stdout, tok)
			return err
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "device id claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
