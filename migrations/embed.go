// Package migrations embeds the PostgreSQL schema migrations.
package migrations

import "embed"

// Postgres holds the golang-migrate files for the registry database
//
//go:embed postgres/*.sql
var Postgres embed.FS
