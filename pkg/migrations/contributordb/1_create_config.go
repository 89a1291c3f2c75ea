package contributordb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	"github.com/chainsafe/icco-contributor/pkg/contributor/store/pg"
	mghelper "github.com/chainsafe/icco-contributor/pkg/pgutil/migrations"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating contributor_config table...")
		return mghelper.CreateSchema(ctx, db, &pg.ConfigDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping contributor_config table...")
		return mghelper.DropTables(ctx, db, &pg.ConfigDao{})
	})
}
