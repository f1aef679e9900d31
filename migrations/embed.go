// Package migrations embeds the capability history schema into the binary.
//
// Pass FS to database.DB.Migrate; the SQL files sit at its root.
package migrations

import "embed"

// FS holds every *.up.sql / *.down.sql migration in this directory.
//
//go:embed *.sql
var FS embed.FS
