// Package migrations holds migrations related helpers
package migrations

import (
	"context"
	"fmt"
	"io"
	"log"
	"reflect"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// Commands lists the arguments accepted by RunMigrations.
var Commands = []string{"init", "up", "down", "status"}

// CreateSchema creates schema from models
func CreateSchema(ctx context.Context, db bun.IDB, models ...any) error {
	for _, model := range models {
		log.Println("Creating Table for", reflect.TypeOf(model))
		_, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

// DropTables drops tables from database
func DropTables(ctx context.Context, db bun.IDB, models ...any) error {
	for _, model := range models {
		log.Println("Dropping Table for", reflect.TypeOf(model))
		_, err := db.NewDropTable().
			Model(model).
			IfExists().
			Cascade().
			Exec(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

// CreateModelIndexes creates one index per column on the table associated
// with the model. Index names are generated as idx_<table>_<column>.
func CreateModelIndexes(ctx context.Context, db bun.IDB, model any, columns ...string) error {
	for _, column := range columns {
		if err := createModelIndex(ctx, db, model, false, column); err != nil {
			return err
		}
	}
	return nil
}

// CreateModelCompositeIndex creates a single index spanning columns.
// The index name joins the column names with underscores.
func CreateModelCompositeIndex(ctx context.Context, db bun.IDB, model any, unique bool, columns ...string) error {
	return createModelIndex(ctx, db, model, unique, columns...)
}

func createModelIndex(ctx context.Context, db bun.IDB, model any, unique bool, columns ...string) error {
	indexName, err := modelIndexName(db, model, strings.Join(columns, "_"))
	if err != nil {
		return err
	}
	q := db.NewCreateIndex().
		Model(model).
		Index(indexName).
		Column(columns...).
		IfNotExists()
	if unique {
		q = q.Unique()
	}
	_, err = q.Exec(ctx)
	return err
}

// DropModelIndexes drops indexes created by CreateModelIndexes.
func DropModelIndexes(ctx context.Context, db bun.IDB, model any, columns ...string) error {
	for _, column := range columns {
		indexName, err := modelIndexName(db, model, column)
		if err != nil {
			return err
		}
		if _, err = db.NewDropIndex().
			Model(model).
			Index(indexName).
			IfExists().
			Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ModelIndexName returns the generated index name for model and columns.
func ModelIndexName(db bun.IDB, model any, columns ...string) (string, error) {
	return modelIndexName(db, model, strings.Join(columns, "_"))
}

func modelIndexName(db bun.IDB, model any, column string) (string, error) {
	if model == nil {
		return "", fmt.Errorf("model cannot be nil")
	}
	tableName := db.NewCreateIndex().Model(model).GetTableName()
	if tableName == "" {
		return "", fmt.Errorf("failed to resolve table name for model %T", model)
	}

	indexTableName := strings.NewReplacer(`"`, "", ".", "_").Replace(tableName)
	return fmt.Sprintf("idx_%s_%s", indexTableName, column), nil
}

// RunMigrations runs the migration command named by cmd and reports
// progress to out.
func RunMigrations(ctx context.Context, migrator *migrate.Migrator, out io.Writer, cmd string) error {
	switch cmd {
	case "init":
		if err := migrator.Init(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "migration table created")
		return nil

	case "up":
		return withLock(ctx, migrator, out, func() error {
			group, err := migrator.Migrate(ctx)
			if err != nil {
				return err
			}
			if group.IsZero() {
				fmt.Fprintln(out, "no new migrations to run (database is up to date)")
			} else {
				fmt.Fprintf(out, "migrated to %s\n", group)
			}
			return nil
		})

	case "down":
		return withLock(ctx, migrator, out, func() error {
			group, err := migrator.Rollback(ctx)
			if err != nil {
				return err
			}
			if group.IsZero() {
				fmt.Fprintln(out, "no migrations to rollback")
			} else {
				fmt.Fprintf(out, "rolled back %s\n", group)
			}
			return nil
		})

	case "status":
		ms, err := migrator.MigrationsWithStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "migrations: %s\n", ms)
		fmt.Fprintf(out, "unapplied migrations: %s\n", ms.Unapplied())
		fmt.Fprintf(out, "last migration group: %s\n", ms.LastGroup())
		return nil

	default:
		return fmt.Errorf("unknown command: %s (expected one of %s)", cmd, strings.Join(Commands, ", "))
	}
}

func withLock(ctx context.Context, migrator *migrate.Migrator, out io.Writer, fn func() error) error {
	if err := migrator.Lock(ctx); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		if err := migrator.Unlock(ctx); err != nil {
			fmt.Fprintf(out, "failed to release migration lock: %v\n", err)
		}
	}()
	return fn()
}
