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
		log.Println("creating sales and sale_assets tables...")
		if err := mghelper.CreateSchema(ctx, db, &pg.SaleDao{}, &pg.SaleAssetDao{}); err != nil {
			return err
		}
		if err := mghelper.CreateModelIndexes(ctx, db, &pg.SaleDao{}, "status"); err != nil {
			return err
		}
		// reverse direction of the asset index
		return mghelper.CreateModelCompositeIndex(ctx, db, &pg.SaleAssetDao{}, true, "sale_id", "chain", "address")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping sales and sale_assets tables...")
		return mghelper.DropTables(ctx, db, &pg.SaleAssetDao{}, &pg.SaleDao{})
	})
}
