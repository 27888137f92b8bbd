package suppression

import (
	"math"
	"testing"
)

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b Box
		want float64
	}{
		{"identical", Box{0, 0, 10, 10}, Box{0, 0, 10, 10}, 1.0},
		{"disjoint", Box{0, 0, 10, 10}, Box{20, 20, 30, 30}, 0.0},
		{"touching edge", Box{0, 0, 10, 10}, Box{10, 0, 20, 10}, 0.0},
		{"half overlap", Box{0, 0, 10, 10}, Box{5, 0, 15, 10}, 50.0 / 150.0},
		{"contained quarter", Box{0, 0, 10, 10}, Box{0, 0, 5, 5}, 0.25},
		{"degenerate", Box{5, 5, 5, 5}, Box{0, 0, 10, 10}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IoU(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("IoU: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNonMaxOverlappingSameClass(t *testing.T) {
	// Two heavily overlapping boxes of the same class: only the
	// higher-confidence one survives.
	cands := []Candidate{
		{Box: Box{0, 0, 100, 100}, Conf: 0.6, Class: 0},
		{Box: Box{5, 5, 105, 105}, Conf: 0.9, Class: 0},
	}

	kept := NonMax(cands, 0.45)
	if len(kept) != 1 {
		t.Fatalf("kept %d candidates, want 1", len(kept))
	}
	if kept[0].Conf != 0.9 {
		t.Errorf("kept conf %v, want 0.9", kept[0].Conf)
	}
}

func TestNonMaxDifferentClassesNotSuppressed(t *testing.T) {
	cands := []Candidate{
		{Box: Box{0, 0, 100, 100}, Conf: 0.9, Class: 0},
		{Box: Box{0, 0, 100, 100}, Conf: 0.6, Class: 1},
	}

	kept := NonMax(cands, 0.45)
	if len(kept) != 2 {
		t.Fatalf("kept %d candidates, want 2", len(kept))
	}
}

func TestNonMaxOrderAndChaining(t *testing.T) {
	// Three boxes: a overlaps b, b overlaps c, but a does not overlap c.
	// Greedy suppression keeps a and c.
	cands := []Candidate{
		{Box: Box{50, 0, 150, 100}, Conf: 0.7, Class: 2}, // b
		{Box: Box{0, 0, 100, 100}, Conf: 0.9, Class: 2},  // a
		{Box: Box{90, 0, 190, 100}, Conf: 0.5, Class: 2}, // c
	}

	kept := NonMax(cands, 0.3)
	if len(kept) != 2 {
		t.Fatalf("kept %d candidates, want 2", len(kept))
	}
	if kept[0].Conf != 0.9 || kept[1].Conf != 0.5 {
		t.Errorf("kept order (%v, %v), want (0.9, 0.5)", kept[0].Conf, kept[1].Conf)
	}
}

func TestNonMaxEmptyAndInputUntouched(t *testing.T) {
	if kept := NonMax(nil, 0.45); kept != nil {
		t.Errorf("NonMax(nil) = %v, want nil", kept)
	}

	cands := []Candidate{
		{Box: Box{0, 0, 10, 10}, Conf: 0.2, Class: 0},
		{Box: Box{0, 0, 10, 10}, Conf: 0.8, Class: 0},
	}
	NonMax(cands, 0.45)
	if cands[0].Conf != 0.2 || cands[1].Conf != 0.8 {
		t.Error("NonMax reordered its input slice")
	}
}
