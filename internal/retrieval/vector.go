package retrieval

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
)

// Embeddings are stored as packed little-endian float32 blobs.

func packVector(v []float32) []byte {
	out := make([]byte, 0, 4*len(v))
	for _, f := range v {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	return out
}

// unpackVector decodes blob, reusing dst's backing array when it is large
// enough.
func unpackVector(dst []float32, blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob of %d bytes is truncated", len(blob))
	}
	dst = slices.Grow(dst[:0], len(blob)/4)
	for off := 0; off < len(blob); off += 4 {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(blob[off:])))
	}
	return dst, nil
}

func magnitude(v []float32) float64 {
	var sq float64
	for _, f := range v {
		sq += float64(f) * float64(f)
	}
	return math.Sqrt(sq)
}

// cosine returns the cosine similarity of q and v given |q|. ok is false
// when the dimensions differ or v is all zeros.
func cosine(q []float32, qMag float64, v []float32) (sim float64, ok bool) {
	if len(q) != len(v) {
		return 0, false
	}
	var dot, vsq float64
	for i, x := range v {
		dot += float64(q[i]) * float64(x)
		vsq += float64(x) * float64(x)
	}
	if vsq == 0 {
		return 0, false
	}
	return dot / (qMag * math.Sqrt(vsq)), true
}

type candidate struct {
	id  string
	sim float64
}

// topK holds the k most similar candidates seen so far, best first.
type topK struct {
	k    int
	best []candidate
}

func (t *topK) offer(id string, sim float64) {
	if len(t.best) == t.k && sim <= t.best[len(t.best)-1].sim {
		return
	}
	at, _ := slices.BinarySearchFunc(t.best, sim, func(c candidate, s float64) int {
		switch {
		case c.sim > s:
			return -1
		case c.sim < s:
			return 1
		}
		return 0
	})
	t.best = slices.Insert(t.best, at, candidate{id, sim})
	if len(t.best) > t.k {
		t.best = t.best[:t.k]
	}
}
