// Package migrations embeds the PostgreSQL schema managed by goose
package migrations

import "embed"

// FS holds the goose migration files
//
//go:embed *.sql
var FS embed.FS
