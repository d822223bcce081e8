package migrations

import "embed"

// FS contains embedded SQLite migrations for storyweave storage.
//
//go:embed *.sql
var FS embed.FS
