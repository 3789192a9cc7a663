//go:build !cgo

package store

import (
	_ "modernc.org/sqlite"
)

// driverName selects the SQLite driver registered for this build.
const driverName = "sqlite"
