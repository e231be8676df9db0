package migrations

import "embed"

// MigrationsFS embeds the SQL migration files so the binary can run
// them at startup without shipping loose files.
//
//go:embed *.sql
var MigrationsFS embed.FS
