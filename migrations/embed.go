// Package migrations embeds the SQL migrations of the staff persistence
// unit. Importing it registers them with the database package, so units
// configured with auto_schema: create can build their tables on startup.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-orm/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.RegisterMigrations(migrationsFS)
}
