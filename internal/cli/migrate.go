package cli

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sir_venger/drive_lite/internal/repo"
)

func newMigrateCmd() *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply registry migrations to meta_dsn",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if repo.IsMemoryDSN(cfg.MetaDSN) {
				log.Info().Msg("memory registry selected, skipping migrations")
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if err := repo.ApplyMigrations(ctx, cfg.MetaDSN); err != nil {
				return err
			}
			log.Info().Msg("migrations applied")

			if !seed {
				return nil
			}
			store, err := repo.OpenPostgres(ctx, cfg.MetaDSN)
			if err != nil {
				return err
			}
			defer store.Close()
			for _, root := range repo.FromConfig(cfg.Storages) {
				if err := store.Save(ctx, root); err != nil {
					return err
				}
				log.Info().Str("storage", root.ID).Str("path", root.Path).Msg("storage registered")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "upsert storages from config into the registry")
	return cmd
}
