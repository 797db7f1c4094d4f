// Package roster keeps the in-memory snapshot of enrolled face embeddings
// that admission matches against. The snapshot is an immutable slice swapped
// atomically on refresh, so concurrent matchers always observe a consistent
// list and never a partially-updated one.
package roster

import (
	"context"
	"math"
	"sync/atomic"
)

// Member is one enrolled (name, embedding) pair.
type Member struct {
	Name      string
	Embedding []float32
}

// Loader fetches the current enrolled set from storage.
type Loader interface {
	LoadMembers(ctx context.Context) ([]Member, error)
}

// Roster holds the swappable snapshot.
type Roster struct {
	loader   Loader
	snapshot atomic.Pointer[[]Member]
}

// New creates an empty roster backed by loader.
func New(loader Loader) *Roster {
	r := &Roster{loader: loader}
	empty := []Member{}
	r.snapshot.Store(&empty)
	return r
}

// Refresh replaces the snapshot with the current stored set. Called at
// startup and after every enrollment or deletion; infrequent relative to
// reads.
func (r *Roster) Refresh(ctx context.Context) error {
	members, err := r.loader.LoadMembers(ctx)
	if err != nil {
		return err
	}
	if members == nil {
		members = []Member{}
	}
	r.snapshot.Store(&members)
	return nil
}

// Members returns the current snapshot. The returned slice must not be
// mutated.
func (r *Roster) Members() []Member {
	return *r.snapshot.Load()
}

// Len returns the number of enrolled members in the current snapshot.
func (r *Roster) Len() int {
	return len(r.Members())
}

// Match returns the best cosine match for the probe embedding. "Best so far"
// is updated on strict greater-than, so the first member encountered wins
// ties for a given snapshot order; an accepted ambiguity, kept deterministic
// for reproducibility. ok is false when no similarity exceeds threshold, and
// the sub-threshold runner-up identity is never exposed.
func (r *Roster) Match(probe []float32, threshold float64) (name string, similarity float64, ok bool) {
	best := -math.MaxFloat64
	bestName := ""
	for _, m := range r.Members() {
		if s := Cosine(probe, m.Embedding); s > best {
			best = s
			bestName = m.Name
		}
	}
	if bestName == "" || best <= threshold {
		return "", 0, false
	}
	return bestName, best, true
}

// Cosine returns the cosine similarity of two vectors, or 0 for mismatched
// lengths or zero-norm inputs.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
