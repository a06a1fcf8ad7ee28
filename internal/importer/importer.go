// Package importer commits collector output into the graph store.
//
// Within one ImportBatch call every vertex batch is committed before any edge
// batch, so edge endpoint validation never races a vertex that is still in
// flight. Independent ImportBatch calls may run concurrently; the store
// arbitrates write isolation.
package importer

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/qualys/accessgraph/internal/graph"
	"github.com/qualys/accessgraph/internal/models"
)

const (
	DefaultBatchSize   = 100
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 200 * time.Millisecond
	DefaultBackoffMax  = 5 * time.Second
)

type Config struct {
	BatchSize   int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (c *Config) applyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = DefaultBackoffMax
	}
}

func (c Config) Validate() error {
	if c.BatchSize < 0 {
		return &models.ConfigurationError{Field: "importer.batch_size", Msg: "must not be negative"}
	}
	if c.MaxAttempts < 0 {
		return &models.ConfigurationError{Field: "importer.max_attempts", Msg: "must not be negative"}
	}
	if c.BackoffBase < 0 {
		return &models.ConfigurationError{Field: "importer.backoff_base", Msg: "must not be negative"}
	}
	if c.BackoffMax < 0 {
		return &models.ConfigurationError{Field: "importer.backoff_max", Msg: "must not be negative"}
	}
	return nil
}

type Importer struct {
	store graph.Store
	cfg   Config
}

func New(store graph.Store, cfg Config) (*Importer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &Importer{store: store, cfg: cfg}, nil
}

// Reset deletes all vertices and edges. Safe on an empty store. Transient
// failures are retried up to the bound and then surfaced; a reset that fails
// midway must never be treated as applied.
func (im *Importer) Reset(ctx context.Context) error {
	log.Printf("[importer] resetting graph store")
	if err := im.commitWithRetry(ctx, "reset", func() error {
		return im.store.ClearAll(ctx)
	}); err != nil {
		return fmt.Errorf("resetting graph store: %w", err)
	}
	return nil
}

// ImportBatch validates, partitions, and commits vertices then edges. The
// result always reports exactly how much was committed, and on failure the
// zero-based index of the failing batch (vertex batches first, then edge
// batches) so the caller can resume instead of replaying everything.
func (im *Importer) ImportBatch(ctx context.Context, vertices []models.Vertex, edges []models.Edge) models.ImportResult {
	var result models.ImportResult

	for _, v := range vertices {
		if err := v.Validate(); err != nil {
			return fail(result, nil, err)
		}
	}
	for _, e := range edges {
		if err := e.Validate(); err != nil {
			return fail(result, nil, err)
		}
	}

	vertexBatches := partitionVertices(vertices, im.cfg.BatchSize)
	edgeBatches := partitionEdges(edges, im.cfg.BatchSize)
	log.Printf("[importer] importing %d vertices in %d batches, %d edges in %d batches",
		len(vertices), len(vertexBatches), len(edges), len(edgeBatches))

	for i, batch := range vertexBatches {
		batch := batch
		err := im.commitWithRetry(ctx, fmt.Sprintf("vertex batch %d", i), func() error {
			return im.store.UpsertVertices(ctx, batch)
		})
		if err != nil {
			idx := i
			return fail(result, &idx, err)
		}
		result.VerticesCommitted += len(batch)
	}

	for j, batch := range edgeBatches {
		batch := batch
		err := im.commitWithRetry(ctx, fmt.Sprintf("edge batch %d", j), func() error {
			return im.store.UpsertEdges(ctx, batch)
		})
		if err != nil {
			idx := len(vertexBatches) + j
			return fail(result, &idx, err)
		}
		result.EdgesCommitted += len(batch)
	}

	return result
}

func fail(result models.ImportResult, batchIndex *int, err error) models.ImportResult {
	result.FailedBatchIndex = batchIndex
	result.Err = err
	result.ErrorKind = models.KindOf(err)
	return result
}

// commitWithRetry retries transient store failures with exponential backoff
// and jitter. Non-transient errors and context cancellation surface
// immediately.
func (im *Importer) commitWithRetry(ctx context.Context, op string, commit func() error) error {
	var lastErr error
	for attempt := 1; attempt <= im.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = commit()
		if lastErr == nil {
			return nil
		}
		if !models.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == im.cfg.MaxAttempts {
			break
		}

		delay := im.backoff(attempt)
		log.Printf("[importer] %s failed (attempt %d/%d), retrying in %s: %v",
			op, attempt, im.cfg.MaxAttempts, delay, lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (im *Importer) backoff(attempt int) time.Duration {
	// The shift overflows int64 for high attempt counts; anything past the
	// cap collapses to BackoffMax.
	delay := im.cfg.BackoffMax
	if shift := uint(attempt - 1); shift < 63 {
		if d := im.cfg.BackoffBase << shift; d > 0 && d < delay {
			delay = d
		}
	}
	// Full jitter keeps concurrent shard imports from retrying in lockstep.
	return time.Duration(rand.Int63n(int64(delay)) + 1)
}

func partitionVertices(records []models.Vertex, size int) [][]models.Vertex {
	var batches [][]models.Vertex
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}

func partitionEdges(records []models.Edge, size int) [][]models.Edge {
	var batches [][]models.Edge
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}
