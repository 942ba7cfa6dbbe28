// Package migrations embeds the booking-service PostgreSQL schema.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
