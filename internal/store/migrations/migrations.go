// Package migrations embeds the SQL schema migrations for roam.db.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
