package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/qualys/accessgraph/internal/models"
)

const bareVertices = `[
  {"id": "u-1", "label": "User", "properties": {"userId": "u-1", "userName": "alice", "email": "alice@example.com"}},
  {"id": "a-1", "label": "Account", "properties": {"accountId": "a-1", "accountName": "main", "environmentTag": "prod"}}
]`

const wrappedVertices = `{"vertices": [
  {"id": "u-1", "label": "User", "properties": {"userId": "u-1", "userName": "alice", "email": "alice@example.com"}}
]}`

const bareEdges = `[
  {"from": "u-1", "to": "a-1", "label": "HAS_ACCOUNT", "properties": {"timestamp": "2026-01-01T00:00:00Z"}}
]`

const wrappedEdges = `{"edges": [
  {"from": "u-1", "to": "a-1", "label": "HAS_ACCOUNT"}
]}`

func TestDecodeVertices(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		count   int
		wantErr bool
	}{
		{"bare array", bareVertices, 2, false},
		{"wrapped object", wrappedVertices, 1, false},
		{"empty array", `[]`, 0, false},
		{"empty object", `{}`, 0, false},
		{"garbage", `not json`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vertices, err := decodeVertices([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeVertices() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(vertices) != tt.count {
				t.Errorf("decoded %d vertices, want %d", len(vertices), tt.count)
			}
		})
	}
}

func TestDecodeEdges(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		count   int
		wantErr bool
	}{
		{"bare array", bareEdges, 1, false},
		{"wrapped object", wrappedEdges, 1, false},
		{"empty array", `[]`, 0, false},
		{"garbage", `{`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edges, err := decodeEdges([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeEdges() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(edges) != tt.count {
				t.Errorf("decoded %d edges, want %d", len(edges), tt.count)
			}
		})
	}
}

func TestFileSource_Records(t *testing.T) {
	dir := t.TempDir()
	verticesPath := filepath.Join(dir, "vertices.json")
	edgesPath := filepath.Join(dir, "edges.json")

	if err := os.WriteFile(verticesPath, []byte(bareVertices), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(edgesPath, []byte(bareEdges), 0644); err != nil {
		t.Fatal(err)
	}

	src := NewFileSource(verticesPath, edgesPath)
	vertices, edges, err := src.Records(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(vertices) != 2 {
		t.Errorf("vertices = %d, want 2", len(vertices))
	}
	if vertices[0].Label != models.LabelUser {
		t.Errorf("vertices[0].Label = %q, want User", vertices[0].Label)
	}
	if vertices[0].Properties[models.PropEmail] != "alice@example.com" {
		t.Errorf("email = %q, want alice@example.com", vertices[0].Properties[models.PropEmail])
	}

	if len(edges) != 1 {
		t.Fatalf("edges = %d, want 1", len(edges))
	}
	if edges[0].Label != models.EdgeHasAccount {
		t.Errorf("edges[0].Label = %q, want HAS_ACCOUNT", edges[0].Label)
	}
}

func TestFileSource_MissingFile(t *testing.T) {
	src := NewFileSource("/nonexistent/vertices.json", "/nonexistent/edges.json")
	if _, _, err := src.Records(context.Background()); err == nil {
		t.Error("expected error for missing input files")
	}
}
