//go:build sqlite_vec && cgo

package store

import (
	"database/sql"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// driverName is "sqlite3" (mattn/go-sqlite3, cgo) on a production build with
// the sqlite_vec build tag, which links the sqlite-vec extension. The Vector
// Store's Search uses only its vec_distance_cosine function, as an exact
// scan over every stored vector; no ANN index is used.
const driverName = "sqlite3"

// HasNativeVectorSearch reports whether this build links the sqlite-vec
// extension. Open logs it; the Vector Store does not read it, and runs the
// same ranking query on both builds.
const HasNativeVectorSearch = true

// distanceFuncName is the scalar function the Vector Store's Search query
// ranks candidates with. On this build it's the real sqlite-vec extension
// function; the pure-Go build registers its own equivalent in compat_vec.go.
const distanceFuncName = "vec_distance_cosine"

func init() {
	vec.Auto()
}

func openDB(path string) (*sql.DB, error) {
	return sql.Open(driverName, path)
}
