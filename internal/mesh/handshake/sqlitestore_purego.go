//go:build !cgo

package handshake

import (
	_ "modernc.org/sqlite" // pure-Go SQLite driver, the default when cgo is unavailable
)

const sqliteDriverName = "sqlite"
