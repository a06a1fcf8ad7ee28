// Package graph is the adapter between the access-graph core and the
// underlying graph database. The Store interface is what the importer and
// analyzer program against; Neo4j is the production implementation.
package graph

import (
	"context"

	"github.com/qualys/accessgraph/internal/models"
)

// Store is the graph-store contract. Batch upserts replace by key (vertex id,
// edge (from, to, label)); the store is the sole arbiter of write isolation.
type Store interface {
	UpsertVertices(ctx context.Context, batch []models.Vertex) error
	UpsertEdges(ctx context.Context, batch []models.Edge) error
	ClearAll(ctx context.Context) error

	VertexByID(ctx context.Context, id string) (*models.Vertex, error)
	VerticesByLabel(ctx context.Context, label models.VertexLabel) ([]models.Vertex, error)
	OutEdges(ctx context.Context, fromID string, labels ...models.EdgeLabel) ([]models.Edge, error)
	TraverseFrom(ctx context.Context, vertexID string, edgeLabels []models.EdgeLabel, maxDepth int) ([]models.Vertex, error)
}
