// Package migrations embeds the ordered SQL schema files.
package migrations

import "embed"

// Files holds every *.sql migration; names sort in apply order.
//
//go:embed *.sql
var Files embed.FS
