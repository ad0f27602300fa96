package indexer

import (
	"testing"

	"github.com/google/uuid"
)

func TestPointID(t *testing.T) {
	a := PointID("reports/q1.pdf", 2, 0)
	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("PointID() = %q is not a UUID: %v", a, err)
	}
	if a != PointID("reports/q1.pdf", 2, 0) {
		t.Error("PointID() is not stable")
	}

	others := []string{
		PointID("reports/q1.pdf", 2, 1),
		PointID("reports/q1.pdf", 3, 0),
		PointID("reports/q2.pdf", 2, 0),
		PointID("reports/q1.pdf", 20, 0),
	}
	for _, o := range others {
		if o == a {
			t.Errorf("PointID collision for %q", o)
		}
	}

	if PointID("x", 1, 23) == PointID("x", 12, 3) {
		t.Error("PointID does not separate page and chunk index")
	}
}
