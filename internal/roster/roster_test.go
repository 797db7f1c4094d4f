package roster

import (
	"context"
	"math"
	"testing"
)

type staticLoader struct {
	members []Member
	err     error
}

func (l *staticLoader) LoadMembers(ctx context.Context) ([]Member, error) {
	return l.members, l.err
}

func TestCosine(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 2}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Cosine(c.a, c.b); math.Abs(got-c.want) > 1e-9 {
				t.Errorf("Cosine = %g, want %g", got, c.want)
			}
		})
	}
}

func TestMatchPicksClosestAboveThreshold(t *testing.T) {
	r := New(&staticLoader{members: []Member{
		{Name: "A", Embedding: []float32{1, 0, 0}},
		{Name: "B", Embedding: []float32{0, 1, 0}},
	}})
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Closer to A than B and above 0.45.
	name, sim, ok := r.Match([]float32{0.9, 0.1, 0}, 0.45)
	if !ok || name != "A" {
		t.Fatalf("Match = (%q, %g, %v), want A", name, sim, ok)
	}
	if sim <= 0.45 {
		t.Errorf("similarity %g not above threshold", sim)
	}
}

func TestMatchBelowThresholdRevealsNothing(t *testing.T) {
	r := New(&staticLoader{members: []Member{
		{Name: "A", Embedding: []float32{1, 0, 0}},
		{Name: "B", Embedding: []float32{0, 1, 0}},
	}})
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Nearly orthogonal to both: best similarity well under 0.45.
	name, sim, ok := r.Match([]float32{0.1, 0.1, 1}, 0.45)
	if ok || name != "" || sim != 0 {
		t.Errorf("Match = (%q, %g, %v), want no disclosure", name, sim, ok)
	}
}

func TestMatchTieBreakFirstWins(t *testing.T) {
	// Identical embeddings: strict > keeps the first member.
	r := New(&staticLoader{members: []Member{
		{Name: "First", Embedding: []float32{1, 1, 0}},
		{Name: "Second", Embedding: []float32{1, 1, 0}},
	}})
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	name, _, ok := r.Match([]float32{1, 1, 0}, 0.45)
	if !ok || name != "First" {
		t.Errorf("tie broke to %q, want First", name)
	}
}

func TestMatchEmptyRoster(t *testing.T) {
	r := New(&staticLoader{})
	if _, _, ok := r.Match([]float32{1, 0}, 0.45); ok {
		t.Error("empty roster produced a match")
	}
}

func TestRefreshSwapsWholeSnapshot(t *testing.T) {
	loader := &staticLoader{members: []Member{{Name: "A", Embedding: []float32{1, 0}}}}
	r := New(loader)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}

	before := r.Members()

	loader.members = []Member{
		{Name: "A", Embedding: []float32{1, 0}},
		{Name: "B", Embedding: []float32{0, 1}},
	}
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(before) != 1 {
		t.Error("previously-read snapshot mutated by refresh")
	}
	if r.Len() != 2 {
		t.Errorf("Len after refresh = %d, want 2", r.Len())
	}
}
