package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	auth "github.com/opsimulator/auth-service"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the configured admin user if missing",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := auth.LoadConfig(configPath, nil)
		if err != nil {
			return err
		}

		db, err := openDB(cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer db.Close()

		logger := auth.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
		repo := auth.NewRepositoryManager(db)

		return auth.SeedAdmin(cmd.Context(), repo, cfg.App.SeedAdmin, logger)
	},
}
