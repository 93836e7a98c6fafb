package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"storefront-chat/internal/config"
	"storefront-chat/internal/db"
	"storefront-chat/internal/logging"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply the database schema and exit",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			logging.Setup(cfg.Log.Level, cfg.Log.Pretty)
			if cfg.DB.DSN == "" {
				return fmt.Errorf("db.dsn is required")
			}

			ctx, cancel := context.WithTimeout(c.Context, time.Minute)
			defer cancel()

			database, err := db.Connect(ctx, cfg.DB.DSN)
			if err != nil {
				return fmt.Errorf("connect db: %w", err)
			}
			defer database.Close()

			if err := db.Migrate(ctx, database); err != nil {
				return err
			}
			log.Info().Msg("schema is up to date")
			return nil
		},
	}
}
