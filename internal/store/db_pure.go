//go:build !(sqlite_vec && cgo)

package store

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

// driverName is "sqlite" (modernc.org/sqlite, pure Go) for development
// builds that skip cgo. Vector search falls back to the in-memory cosine
// compatibility shim registered in compat_vec.go.
const driverName = "sqlite"

// HasNativeVectorSearch is false on this build: the distance function the
// Vector Store ranks with is the pure-Go one from compat_vec.go rather than
// sqlite-vec's.
const HasNativeVectorSearch = false

func openDB(path string) (*sql.DB, error) {
	return sql.Open(driverName, path)
}
