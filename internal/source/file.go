package source

import (
	"context"
	"fmt"
	"os"

	"github.com/qualys/accessgraph/internal/models"
)

// FileSource reads vertices and edges from local JSON files.
type FileSource struct {
	VerticesPath string
	EdgesPath    string
}

var _ Producer = (*FileSource)(nil)

func NewFileSource(verticesPath, edgesPath string) *FileSource {
	return &FileSource{VerticesPath: verticesPath, EdgesPath: edgesPath}
}

func (f *FileSource) Records(ctx context.Context) ([]models.Vertex, []models.Edge, error) {
	vertexData, err := os.ReadFile(f.VerticesPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", f.VerticesPath, err)
	}
	edgeData, err := os.ReadFile(f.EdgesPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", f.EdgesPath, err)
	}

	vertices, err := decodeVertices(vertexData)
	if err != nil {
		return nil, nil, err
	}
	edges, err := decodeEdges(edgeData)
	if err != nil {
		return nil, nil, err
	}
	return vertices, edges, nil
}
