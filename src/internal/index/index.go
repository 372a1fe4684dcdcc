// Package index implements a flat, brute-force nearest-neighbor index
// over fixed-dimension vectors. Distances are squared L2 and comparable
// across searches for the index's lifetime.
//
// The index is vector-only: it knows slots, not identities. It has no
// internal locking; the owning engine serializes access.
package index

import (
	"fmt"
	"sort"
)

// Result is one search hit: the slot the vector was inserted at and its
// squared L2 distance from the query.
type Result struct {
	Slot     int
	Distance float32
}

// Flat holds all vectors in a single contiguous buffer, dim floats per
// slot.
type Flat struct {
	dim     int
	vectors []float32
}

func NewFlat(dim int) *Flat {
	return &Flat{dim: dim}
}

// Insert appends one vector at the next sequential slot.
func (f *Flat) Insert(vec []float32) error {
	if len(vec) != f.dim {
		return fmt.Errorf("insert: vector dimension %d, index dimension %d", len(vec), f.dim)
	}
	f.vectors = append(f.vectors, vec...)
	return nil
}

// Search returns up to k results ordered ascending by distance, ties
// broken by slot order. An empty index or k <= 0 yields no results; k
// larger than the index is clamped, never an error.
func (f *Flat) Search(query []float32, k int) []Result {
	n := f.Size()
	if n == 0 || k <= 0 {
		return nil
	}
	if k > n {
		k = n
	}

	results := make([]Result, n)
	for slot := 0; slot < n; slot++ {
		off := slot * f.dim
		var dist float32
		for i, q := range query {
			d := q - f.vectors[off+i]
			dist += d * d
		}
		results[slot] = Result{Slot: slot, Distance: dist}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	return results[:k]
}

// Reset discards all vectors; the slot count returns to zero.
func (f *Flat) Reset() {
	f.vectors = f.vectors[:0]
}

// Size returns the number of vectors currently held.
func (f *Flat) Size() int {
	return len(f.vectors) / f.dim
}

// Dimension returns the fixed vector dimension.
func (f *Flat) Dimension() int {
	return f.dim
}
