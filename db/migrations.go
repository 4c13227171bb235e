// Package db holds the application schema migrations.
package db

import "embed"

// Migrations contains the golang-migrate SQL files under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS
