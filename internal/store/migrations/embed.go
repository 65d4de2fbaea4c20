// Package migrations embeds the local storage schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
