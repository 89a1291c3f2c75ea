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
		log.Println("creating contribution_events table...")
		if err := mghelper.CreateSchema(ctx, db, &pg.ContributionEventDao{}); err != nil {
			return err
		}
		if err := mghelper.CreateModelIndexes(ctx, db, &pg.ContributionEventDao{}, "reconciled"); err != nil {
			return err
		}
		return mghelper.CreateModelCompositeIndex(ctx, db, &pg.ContributionEventDao{}, false, "sale_id", "slot", "buyer")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping contribution_events table...")
		return mghelper.DropTables(ctx, db, &pg.ContributionEventDao{})
	})
}
