package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/qualys/accessgraph/internal/models"
)

func TestEdgeLabelFilter(t *testing.T) {
	tests := []struct {
		name   string
		labels []models.EdgeLabel
		want   string
	}{
		{"single", []models.EdgeLabel{models.EdgeMemberOf}, "MEMBER_OF"},
		{"multiple", []models.EdgeLabel{models.EdgeMemberOf, models.EdgeHasAccount}, "MEMBER_OF|HAS_ACCOUNT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := edgeLabelFilter(tt.labels); got != tt.want {
				t.Errorf("edgeLabelFilter() = %q, want %q", got, tt.want)
			}
		})
	}
}

// The guards fire before any session is opened, so a zero-value store is
// enough to exercise them.
func TestTraverseFrom_RequiresEdgeLabels(t *testing.T) {
	s := &Neo4jStore{}

	_, err := s.TraverseFrom(context.Background(), "u-1", nil, 3)
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("TraverseFrom with no labels: err = %v, want ValidationError", err)
	}
}

func TestOutEdges_RequiresEdgeLabels(t *testing.T) {
	s := &Neo4jStore{}

	_, err := s.OutEdges(context.Background(), "u-1")
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("OutEdges with no labels: err = %v, want ValidationError", err)
	}
}
