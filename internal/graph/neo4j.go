package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/qualys/accessgraph/internal/models"
)

type Config struct {
	URI      string
	Username string
	Password string
	// Timeout bounds each store call, not the whole pipeline run.
	Timeout time.Duration
}

type Neo4jStore struct {
	driver  neo4j.DriverWithContext
	timeout time.Duration
}

var _ Store = (*Neo4jStore)(nil)

func New(cfg Config) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verifying neo4j connectivity: %w", err)
	}

	s := &Neo4jStore{driver: driver, timeout: cfg.Timeout}

	if err := s.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return s, nil
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Neo4jStore) createIndexes(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS FOR (n:User) ON (n.id)",
		"CREATE INDEX IF NOT EXISTS FOR (n:Group) ON (n.id)",
		"CREATE INDEX IF NOT EXISTS FOR (n:Account) ON (n.id)",
		"CREATE INDEX IF NOT EXISTS FOR (n:PermissionSet) ON (n.id)",
		"CREATE INDEX IF NOT EXISTS FOR (n:User) ON (n.email)",
	}

	for _, idx := range indexes {
		if _, err := session.Run(ctx, idx, nil); err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}

	return nil
}

// wrapStoreErr classifies driver failures so the importer can tell retryable
// connectivity problems apart from data errors.
func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if neo4j.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) {
		return &models.TransientStoreError{Op: op, Err: err}
	}
	var endpoint *models.EndpointNotFoundError
	if errors.As(err, &endpoint) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func vertexRows(batch []models.Vertex) map[models.VertexLabel][]map[string]any {
	rows := make(map[models.VertexLabel][]map[string]any)
	for _, v := range batch {
		props := make(map[string]any, len(v.Properties))
		for k, val := range v.Properties {
			props[k] = val
		}
		rows[v.Label] = append(rows[v.Label], map[string]any{
			"id":    v.ID,
			"props": props,
		})
	}
	return rows
}

// UpsertVertices commits one batch in a single transaction. SET n = row.props
// replaces the property map rather than merging it, so re-imports converge.
func (s *Neo4jStore) UpsertVertices(ctx context.Context, batch []models.Vertex) error {
	if len(batch) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for label, rows := range vertexRows(batch) {
			// Labels come from the validated enum, safe to interpolate.
			query := fmt.Sprintf(`
				UNWIND $rows AS row
				MERGE (n:%s {id: row.id})
				SET n = row.props, n.id = row.id
			`, label)
			if _, err := tx.Run(ctx, query, map[string]any{"rows": rows}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})

	return wrapStoreErr("upserting vertices", err)
}

// UpsertEdges commits one batch in a single transaction and fails the whole
// batch if any edge references an endpoint absent from the store.
func (s *Neo4jStore) UpsertEdges(ctx context.Context, batch []models.Edge) error {
	if len(batch) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	byLabel := make(map[models.EdgeLabel][]map[string]any)
	for _, e := range batch {
		props := make(map[string]any, len(e.Properties))
		for k, val := range e.Properties {
			props[k] = val
		}
		byLabel[e.Label] = append(byLabel[e.Label], map[string]any{
			"from":  e.From,
			"to":    e.To,
			"props": props,
		})
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for label, rows := range byLabel {
			query := fmt.Sprintf(`
				UNWIND $rows AS row
				MATCH (a {id: row.from})
				MATCH (b {id: row.to})
				MERGE (a)-[r:%s]->(b)
				SET r = row.props
				RETURN count(r) AS committed
			`, label)
			result, err := tx.Run(ctx, query, map[string]any{"rows": rows})
			if err != nil {
				return nil, err
			}
			record, err := result.Single(ctx)
			if err != nil {
				return nil, err
			}
			committed, _ := record.Get("committed")
			if n, ok := committed.(int64); ok && int(n) != len(rows) {
				// Returning the error rolls the transaction back, so the
				// batch stays atomic from the caller's perspective.
				return nil, &models.EndpointNotFoundError{
					Label:    label,
					Missing:  len(rows) - int(n),
					BatchLen: len(rows),
				}
			}
		}
		return nil, nil
	})

	return wrapStoreErr("upserting edges", err)
}

// ClearAll removes every vertex and edge and verifies the store is empty,
// so nothing stale survives into a fresh load. Idempotent.
func (s *Neo4jStore) ClearAll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, "MATCH (n) DETACH DELETE n", nil); err != nil {
			return nil, err
		}
		result, err := tx.Run(ctx, "MATCH (n) RETURN count(n) AS remaining", nil)
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		remaining, _ := record.Get("remaining")
		if n, ok := remaining.(int64); ok && n != 0 {
			return nil, fmt.Errorf("%d vertices remain after clear", n)
		}
		return nil, nil
	})

	return wrapStoreErr("clearing graph", err)
}

func decodeVertex(node dbtype.Node) models.Vertex {
	v := models.Vertex{Properties: make(map[string]string, len(node.Props))}
	if len(node.Labels) > 0 {
		v.Label = models.VertexLabel(node.Labels[0])
	}
	for k, raw := range node.Props {
		val, ok := raw.(string)
		if !ok {
			val = fmt.Sprintf("%v", raw)
		}
		if k == "id" {
			v.ID = val
			continue
		}
		v.Properties[k] = val
	}
	return v
}

func (s *Neo4jStore) VertexByID(ctx context.Context, id string) (*models.Vertex, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, "MATCH (n {id: $id}) RETURN n LIMIT 1", map[string]any{"id": id})
	if err != nil {
		return nil, wrapStoreErr("fetching vertex", err)
	}

	if result.Next(ctx) {
		raw, _ := result.Record().Get("n")
		if node, ok := raw.(dbtype.Node); ok {
			v := decodeVertex(node)
			return &v, nil
		}
	}
	return nil, wrapStoreErr("fetching vertex", result.Err())
}

func (s *Neo4jStore) VerticesByLabel(ctx context.Context, label models.VertexLabel) ([]models.Vertex, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := fmt.Sprintf("MATCH (n:%s) RETURN n ORDER BY n.id", label)
	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return nil, wrapStoreErr("listing vertices", err)
	}

	var vertices []models.Vertex
	for result.Next(ctx) {
		raw, _ := result.Record().Get("n")
		if node, ok := raw.(dbtype.Node); ok {
			vertices = append(vertices, decodeVertex(node))
		}
	}
	if err := result.Err(); err != nil {
		return nil, wrapStoreErr("listing vertices", err)
	}
	return vertices, nil
}

func edgeLabelFilter(labels []models.EdgeLabel) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = string(l)
	}
	return strings.Join(parts, "|")
}

func (s *Neo4jStore) OutEdges(ctx context.Context, fromID string, labels ...models.EdgeLabel) ([]models.Edge, error) {
	// An empty label list would render the relationship pattern as `[r:]`.
	if len(labels) == 0 {
		return nil, &models.ValidationError{Msg: "at least one edge label is required"}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		MATCH (a {id: $id})-[r:%s]->(b)
		RETURN type(r) AS label, b.id AS to, properties(r) AS props
	`, edgeLabelFilter(labels))

	result, err := session.Run(ctx, query, map[string]any{"id": fromID})
	if err != nil {
		return nil, wrapStoreErr("listing edges", err)
	}

	var edges []models.Edge
	for result.Next(ctx) {
		record := result.Record()
		label, _ := record.Get("label")
		to, _ := record.Get("to")
		props, _ := record.Get("props")

		edge := models.Edge{
			From:       fromID,
			Properties: make(map[string]string),
		}
		if l, ok := label.(string); ok {
			edge.Label = models.EdgeLabel(l)
		}
		if toID, ok := to.(string); ok {
			edge.To = toID
		}
		if propMap, ok := props.(map[string]any); ok {
			for k, raw := range propMap {
				if val, ok := raw.(string); ok {
					edge.Properties[k] = val
				}
			}
		}
		edges = append(edges, edge)
	}
	if err := result.Err(); err != nil {
		return nil, wrapStoreErr("listing edges", err)
	}
	return edges, nil
}

// TraverseFrom returns the distinct vertices reachable over the given edge
// labels within maxDepth hops. maxDepth <= 0 means unbounded.
func (s *Neo4jStore) TraverseFrom(ctx context.Context, vertexID string, edgeLabels []models.EdgeLabel, maxDepth int) ([]models.Vertex, error) {
	// An empty label list would render the relationship pattern as `[:*1..]`.
	if len(edgeLabels) == 0 {
		return nil, &models.ValidationError{Msg: "at least one edge label is required"}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	depth := ""
	if maxDepth > 0 {
		depth = fmt.Sprintf("%d", maxDepth)
	}
	query := fmt.Sprintf(`
		MATCH (s {id: $id})-[:%s*1..%s]->(v)
		RETURN DISTINCT v
	`, edgeLabelFilter(edgeLabels), depth)

	result, err := session.Run(ctx, query, map[string]any{"id": vertexID})
	if err != nil {
		return nil, wrapStoreErr("traversing", err)
	}

	var vertices []models.Vertex
	for result.Next(ctx) {
		raw, _ := result.Record().Get("v")
		if node, ok := raw.(dbtype.Node); ok {
			vertices = append(vertices, decodeVertex(node))
		}
	}
	if err := result.Err(); err != nil {
		return nil, wrapStoreErr("traversing", err)
	}
	return vertices, nil
}
