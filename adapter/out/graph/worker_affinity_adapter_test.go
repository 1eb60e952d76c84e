package graph

import (
	"reflect"
	"testing"
)

func TestSubjectParams(t *testing.T) {
	got := subjectParams(map[string]float64{"physics": 0.5, "": 0.1, "chemistry": 0.3, "biology": 0.2})
	want := []any{
		map[string]any{"name": "biology", "weight": 0.2},
		map[string]any{"name": "chemistry", "weight": 0.3},
		map[string]any{"name": "physics", "weight": 0.5},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("subjectParams() = %v, want %v", got, want)
	}

	if got := subjectParams(nil); len(got) != 0 {
		t.Errorf("expected no subjects, got %v", got)
	}
}
