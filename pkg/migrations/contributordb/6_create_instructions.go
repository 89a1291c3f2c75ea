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
		log.Println("creating instructions table...")
		if err := mghelper.CreateSchema(ctx, db, &pg.InstructionDao{}); err != nil {
			return err
		}
		if err := mghelper.CreateModelCompositeIndex(ctx, db, &pg.InstructionDao{}, false, "status", "created_at"); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &pg.InstructionDao{}, "sale_id", "event_id")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping instructions table...")
		return mghelper.DropTables(ctx, db, &pg.InstructionDao{})
	})
}
