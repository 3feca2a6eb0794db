package main

import (
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	auth "github.com/opsimulator/auth-service"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
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

		goose.SetBaseFS(auth.Migrations)
		if err := goose.SetDialect("postgres"); err != nil {
			return err
		}

		return goose.UpContext(cmd.Context(), db.DB, "migrations")
	},
}
