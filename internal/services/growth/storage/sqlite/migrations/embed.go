// Package migrations embeds the growth SQLite schema.
package migrations

import "embed"

// FS holds the growth schema migrations.
//
//go:embed *.sql
var FS embed.FS
