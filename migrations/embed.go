// Package migrations embeds the complaint store schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
