package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/lojinha/sms-dispatcher/internal/config"
	"github.com/lojinha/sms-dispatcher/internal/db"
	"github.com/lojinha/sms-dispatcher/internal/store"
)

var (
	seedUsername string
	seedPassword string
	seedCredits  int64
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create an initial admin account with starting credits (idempotent)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		dbx, err := db.NewSQLiteConnection(cfg.SQLite.Path, db.SQLiteOpts{
			BusyTimeout: cfg.SQLite.BusyTimeout,
			PingTimeout: cfg.SQLite.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("sqlite open: %w", err)
		}
		defer dbx.Close()

		s := store.New(dbx)
		ctx := context.Background()

		acc, err := s.CreateAccount(ctx, seedUsername, seedPassword, true)
		if errors.Is(err, store.ErrDuplicateUsername) {
			log.Printf(">> admin %q already exists, leaving it alone", seedUsername)
			return nil
		}
		if err != nil {
			return fmt.Errorf("create admin: %w", err)
		}

		if seedCredits > 0 {
			if err := s.AdjustCredits(ctx, acc.ID, seedCredits); err != nil {
				return fmt.Errorf("grant credits: %w", err)
			}
		}

		log.Printf(">> admin %q created with id=%d credits=%d", seedUsername, acc.ID, seedCredits)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedUsername, "username", "admin", "admin username")
	seedCmd.Flags().StringVar(&seedPassword, "password", "", "admin password (required)")
	seedCmd.Flags().Int64Var(&seedCredits, "credits", 100, "starting credit balance")
	_ = seedCmd.MarkFlagRequired("password")
}
