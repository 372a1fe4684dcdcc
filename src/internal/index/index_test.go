package index

import (
	"math"
	"testing"
)

func mustInsert(t *testing.T, f *Flat, vec []float32) {
	t.Helper()
	if err := f.Insert(vec); err != nil {
		t.Fatalf("Insert(%v) failed: %v", vec, err)
	}
}

func TestFlat_InsertWrongDimension(t *testing.T) {
	f := NewFlat(3)
	if err := f.Insert([]float32{1, 2}); err == nil {
		t.Error("expected error inserting 2-dim vector into 3-dim index")
	}
	if f.Size() != 0 {
		t.Errorf("Size = %d after failed insert, want 0", f.Size())
	}
}

func TestFlat_SearchEmpty(t *testing.T) {
	f := NewFlat(2)
	if got := f.Search([]float32{0, 0}, 5); got != nil {
		t.Errorf("Search on empty index = %v, want nil", got)
	}
}

func TestFlat_SearchNonPositiveK(t *testing.T) {
	f := NewFlat(2)
	mustInsert(t, f, []float32{1, 1})

	if got := f.Search([]float32{0, 0}, 0); got != nil {
		t.Errorf("Search with k=0 = %v, want nil", got)
	}
	if got := f.Search([]float32{0, 0}, -3); got != nil {
		t.Errorf("Search with k=-3 = %v, want nil", got)
	}
}

func TestFlat_SearchOrderingAndDistances(t *testing.T) {
	f := NewFlat(2)
	mustInsert(t, f, []float32{3, 4}) // slot 0, dist 25 from origin
	mustInsert(t, f, []float32{0, 1}) // slot 1, dist 1
	mustInsert(t, f, []float32{0, 0}) // slot 2, dist 0

	got := f.Search([]float32{0, 0}, 3)
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}

	wantSlots := []int{2, 1, 0}
	wantDists := []float32{0, 1, 25}
	for i := range got {
		if got[i].Slot != wantSlots[i] {
			t.Errorf("result[%d].Slot = %d, want %d", i, got[i].Slot, wantSlots[i])
		}
		if got[i].Distance != wantDists[i] {
			t.Errorf("result[%d].Distance = %v, want %v", i, got[i].Distance, wantDists[i])
		}
	}
}

func TestFlat_SearchClampsK(t *testing.T) {
	f := NewFlat(1)
	mustInsert(t, f, []float32{1})
	mustInsert(t, f, []float32{2})

	got := f.Search([]float32{0}, 100)
	if len(got) != 2 {
		t.Errorf("got %d results with oversized k, want 2", len(got))
	}
}

func TestFlat_SearchTiesPreserveSlotOrder(t *testing.T) {
	f := NewFlat(1)
	mustInsert(t, f, []float32{1})
	mustInsert(t, f, []float32{-1})
	mustInsert(t, f, []float32{1})

	got := f.Search([]float32{0}, 3)
	wantSlots := []int{0, 1, 2}
	for i := range got {
		if got[i].Slot != wantSlots[i] {
			t.Errorf("result[%d].Slot = %d, want %d (ties keep insertion order)", i, got[i].Slot, wantSlots[i])
		}
	}
}

func TestFlat_ResetAndReuse(t *testing.T) {
	f := NewFlat(2)
	mustInsert(t, f, []float32{1, 2})
	mustInsert(t, f, []float32{3, 4})
	if f.Size() != 2 {
		t.Fatalf("Size = %d, want 2", f.Size())
	}

	f.Reset()
	if f.Size() != 0 {
		t.Errorf("Size after Reset = %d, want 0", f.Size())
	}

	mustInsert(t, f, []float32{5, 6})
	got := f.Search([]float32{5, 6}, 1)
	if len(got) != 1 || got[0].Slot != 0 {
		t.Errorf("after Reset slots restart at 0, got %v", got)
	}
}

func TestFlat_ExactMatchDistance(t *testing.T) {
	f := NewFlat(4)
	vec := []float32{0.5, -0.25, 0.1, 0.9}
	mustInsert(t, f, vec)

	got := f.Search(vec, 1)
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	if math.Abs(float64(got[0].Distance)) > 1e-6 {
		t.Errorf("exact match distance = %v, want ~0", got[0].Distance)
	}
}

func TestFlat_Dimension(t *testing.T) {
	if d := NewFlat(7).Dimension(); d != 7 {
		t.Errorf("Dimension = %d, want 7", d)
	}
}
