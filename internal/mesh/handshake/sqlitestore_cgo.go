//go:build cgo

package handshake

import (
	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver, selected when CGO_ENABLED=1
)

const sqliteDriverName = "sqlite3"
