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
		log.Println("creating slot_totals and contributions tables...")
		if err := mghelper.CreateSchema(ctx, db, &pg.SlotTotalsDao{}, &pg.ContributionDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &pg.ContributionDao{}, "buyer")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping slot_totals and contributions tables...")
		return mghelper.DropTables(ctx, db, &pg.ContributionDao{}, &pg.SlotTotalsDao{})
	})
}
