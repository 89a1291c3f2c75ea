package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"

	"github.com/chainsafe/icco-contributor/pkg/config"
	"github.com/chainsafe/icco-contributor/pkg/migrations/contributordb"
	"github.com/chainsafe/icco-contributor/pkg/pgutil"
	mghelper "github.com/chainsafe/icco-contributor/pkg/pgutil/migrations"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       fmt.Sprintf("migrate <%s>", strings.Join(mghelper.Commands, "|")),
		Short:     "Manage the contributor database schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: mghelper.Commands,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}

			db, err := pgutil.ConnectDB(cmd.Context(), &cfg.Database, zap.NewNop())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			log.Printf("Running migrations for contributor database (%s)...\n", cfg.Database.Database)

			migrator := migrate.NewMigrator(db, contributordb.Migrations)
			return mghelper.RunMigrations(cmd.Context(), migrator, os.Stdout, args[0])
		},
	}
}
