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
		log.Println("creating consumed_vaas table...")
		if err := mghelper.CreateSchema(ctx, db, &pg.ConsumedVAADao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &pg.ConsumedVAADao{}, "sale_id")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping consumed_vaas table...")
		return mghelper.DropTables(ctx, db, &pg.ConsumedVAADao{})
	})
}
