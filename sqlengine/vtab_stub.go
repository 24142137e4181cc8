//go:build !sqlite_vtable

package sqlengine

import (
	"github.com/mattn/go-sqlite3"

	"traceproc/storage"
)

// VTabEnabled reports whether interval_intersect is available in SQL.
const VTabEnabled = false

// registerModules is a no-op: go-sqlite3 only exposes virtual tables under
// the sqlite_vtable build tag. IntersectTables still works.
func registerModules(*sqlite3.SQLiteConn, *storage.Registry) error { return nil }
