//go:build cgo

package store

import (
	_ "github.com/mattn/go-sqlite3"
)

// driverName selects the SQLite driver registered for this build.
const driverName = "sqlite3"
