// Package searchindex projects memories into a vector index for similarity
// search at retrieval time.
package searchindex

import (
	"context"
	"time"
)

// MemoryDoc is the indexed projection of a memory.
type MemoryDoc struct {
	MemoryID     string
	OwnerID      string
	Content      string
	Sentiment    float64
	CreationTime time.Time
}

// Hit is one similarity-search result.
type Hit struct {
	MemoryID     string
	Content      string
	Similarity   float64
	Sentiment    float64
	CreationTime time.Time
}

// Index abstracts the vector store. Upserts are idempotent per MemoryID so
// at-least-once delivery from the outbox is safe.
type Index interface {
	// Upsert writes or replaces the document under its MemoryID.
	Upsert(ctx context.Context, doc MemoryDoc, vec []float32) error

	// Search returns up to topK nearest documents for the owner.
	Search(ctx context.Context, ownerID string, vec []float32, topK int) ([]Hit, error)

	// Exists reports whether the memory is indexed (auditor probe).
	Exists(ctx context.Context, memoryID string) (bool, error)

	// SampleMemoryIDs returns up to n indexed ids for orphan detection.
	SampleMemoryIDs(ctx context.Context, n int) ([]string, error)

	// Delete removes one document.
	Delete(ctx context.Context, memoryID string) error

	Ping(ctx context.Context) error
}
