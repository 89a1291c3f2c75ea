// Package contributordb holds all the migrations for the contributor database
package contributordb

import (
	"github.com/uptrace/bun/migrate"
)

// Migrations is the collection of all migrations for the contributor database
var Migrations = migrate.NewMigrations()
