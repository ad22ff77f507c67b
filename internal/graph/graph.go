// Package graph projects memories, entities, and weighted relations into a
// graph store for multi-hop expansion at retrieval time.
package graph

import (
	"context"
	"time"

	"github.com/engram-io/engram/internal/model"
)

// MemoryNode is the graph projection of a memory row.
type MemoryNode struct {
	MemoryID     string
	OwnerID      string
	Content      string
	Sentiment    float64
	CreationTime time.Time
}

// RelationEdge is one weighted entity-to-entity relation.
type RelationEdge struct {
	OwnerID   string
	Subject   string
	Relation  string
	Object    string
	Weight    float64
	Sentiment float64
}

// LinkedMemory is a memory reached through graph expansion.
type LinkedMemory struct {
	MemoryID    string
	Weight      float64
	HopDistance int
}

// Expansion is everything graph traversal yields for one query.
type Expansion struct {
	Memories []LinkedMemory
	Facts    []model.GraphFact
}

// Store is the graph projection. All writes are idempotent upserts so
// at-least-once delivery from the outbox is safe.
type Store interface {
	// UpsertMemory creates or refreshes the memory node.
	UpsertMemory(ctx context.Context, node MemoryNode) error

	// UpsertEntity creates or refreshes an entity node scoped to an owner.
	UpsertEntity(ctx context.Context, ownerID, name, kind string) error

	// LinkMention connects a memory to an entity it mentions.
	LinkMention(ctx context.Context, memoryID, ownerID, entity string) error

	// UpsertRelation merges the edge and keeps the higher weight on conflict.
	UpsertRelation(ctx context.Context, edge RelationEdge) error

	// HasMemory reports whether the memory node exists (auditor probe).
	HasMemory(ctx context.Context, memoryID string) (bool, error)

	// SampleMemoryIDs returns up to n memory ids for orphan detection.
	SampleMemoryIDs(ctx context.Context, n int) ([]string, error)

	// Expand walks up to maxHops from the entities mentioned in seed
	// memories, returning linked memories and the facts along the way.
	Expand(ctx context.Context, ownerID string, seedMemoryIDs []string, maxHops, limit int) (*Expansion, error)

	// ExpandFromEntities walks up to maxHops starting directly at named
	// entities (query-time entry point, no seed memories needed).
	ExpandFromEntities(ctx context.Context, ownerID string, entities []string, maxHops, limit int) (*Expansion, error)

	// RecentEntities returns up to n entity names for the owner, most
	// recently mentioned first, for mention resolution during extraction.
	RecentEntities(ctx context.Context, ownerID string, n int) ([]string, error)

	// DeleteMemory detaches and removes the memory node.
	DeleteMemory(ctx context.Context, memoryID string) error

	// PruneEntities removes the owner's entities that no surviving memory
	// mentions. Called after erasure so extracted facts do not outlive
	// their sources.
	PruneEntities(ctx context.Context, ownerID string) error

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
