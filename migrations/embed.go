// Package migrations embeds the SQL schema migrations into the binary so
// Cragline can migrate without the .sql files on disk.
package migrations

import (
	"embed"

	"github.com/cragline/cragline-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
