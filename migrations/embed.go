// Package migrations embeds the SQL schema shared by the sql document store backends.
package migrations

import "embed"

// FS holds the *.up.sql and *.down.sql files.
//
//go:embed *.sql
var FS embed.FS
