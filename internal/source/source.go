// Package source produces the vertex/edge record collections the importer
// consumes. The importer treats a Producer as opaque: records arrive the
// same way whether they come from local files or object storage.
package source

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/qualys/accessgraph/internal/models"
)

type Producer interface {
	Records(ctx context.Context) ([]models.Vertex, []models.Edge, error)
}

// Collector output comes in two shapes: a bare JSON array, or an object
// wrapping the array under a named key. Both are accepted.
func decodeVertices(data []byte) ([]models.Vertex, error) {
	var list []models.Vertex
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Vertices []models.Vertex `json:"vertices"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decoding vertices: %w", err)
	}
	return wrapped.Vertices, nil
}

func decodeEdges(data []byte) ([]models.Edge, error) {
	var list []models.Edge
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Edges []models.Edge `json:"edges"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decoding edges: %w", err)
	}
	return wrapped.Edges, nil
}
