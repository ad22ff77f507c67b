package model

import (
	"fmt"
	"time"
)

// MemoryStatus is the lifecycle state of a Memory in the system of record.
type MemoryStatus string

const (
	MemoryStatusPending   MemoryStatus = "pending"
	MemoryStatusCommitted MemoryStatus = "committed"
	MemoryStatusDeleted   MemoryStatus = "deleted"
)

// Memory is one fact derived from a message. The relational store owns it;
// the graph and vector stores hold projections keyed by the same MemoryID.
type Memory struct {
	MemoryID       string       `json:"memoryId"`
	OwnerID        string       `json:"ownerId"`
	Content        string       `json:"content"`
	Embedding      []float32    `json:"embedding,omitempty"`
	Sentiment      float64      `json:"sentiment"`
	Status         MemoryStatus `json:"status"`
	IdempotencyKey string       `json:"-"`
	CreationTime   time.Time    `json:"creationTime"`
	ObservedTime   time.Time    `json:"observedTime"`
	CommitTime     *time.Time   `json:"commitTime,omitempty"`
}

// EventStatus is the fan-out state of an OutboxEvent. Transitions are
// monotonic: pending -> processing -> {done | pending(retry) | failed -> dlq}.
type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusDone       EventStatus = "done"
	EventStatusFailed     EventStatus = "failed"
	EventStatusDLQ        EventStatus = "dlq"
)

// EventOp names the idempotent operation an outbox event carries.
type EventOp string

const (
	OpUpsertMemory EventOp = "upsert_memory"
	OpRepairGraph  EventOp = "repair_graph"
	OpRepairVector EventOp = "repair_vector"
)

// EventPayload is the typed outbox payload. It is validated on decode;
// a payload that fails validation is malformed, not silently skipped.
type EventPayload struct {
	OwnerID      string    `json:"ownerId"`
	Content      string    `json:"content,omitempty"`
	Embedding    []float32 `json:"embedding,omitempty"`
	Sentiment    float64   `json:"sentiment"`
	ObservedTime time.Time `json:"observedTime"`
}

// Validate checks the payload against the requirements of op.
func (p *EventPayload) Validate(op EventOp) error {
	if p.OwnerID == "" {
		return fmt.Errorf("%w: missing ownerId for op %s", ErrMalformedPayload, op)
	}
	switch op {
	case OpUpsertMemory, OpRepairGraph, OpRepairVector:
		if p.Content == "" {
			return fmt.Errorf("%w: missing content for op %s", ErrMalformedPayload, op)
		}
	default:
		return fmt.Errorf("%w: unknown op %q", ErrMalformedPayload, op)
	}
	return nil
}

// OutboxEvent records one write intent. Rows are append-only: statuses move
// forward but events are never deleted.
type OutboxEvent struct {
	EventID         string       `json:"eventId"`
	MemoryID        string       `json:"memoryId"`
	Op              EventOp      `json:"op"`
	Payload         EventPayload `json:"payload"`
	Status          EventStatus  `json:"status"`
	RetryCount      int          `json:"retryCount"`
	Error           *string      `json:"error,omitempty"`
	CreationTime    time.Time    `json:"creationTime"`
	ProcessedTime   *time.Time   `json:"processedTime,omitempty"`
	NextAttemptTime time.Time    `json:"nextAttemptTime"`
}

// DeletionType distinguishes owner-wide erasure from a selected set of ids.
type DeletionType string

const (
	DeletionFull      DeletionType = "full"
	DeletionSelective DeletionType = "selective"
)

// AuditStatus tracks a deletion audit from request to signed completion.
type AuditStatus string

const (
	AuditStatusPending   AuditStatus = "pending"
	AuditStatusCompleted AuditStatus = "completed"
)

// DeletionAudit is the cryptographic proof of an erasure request.
// PayloadHash is set at request time; Signature only after physical deletion.
type DeletionAudit struct {
	AuditID       string       `json:"auditId"`
	OwnerID       string       `json:"ownerId"`
	DeletionType  DeletionType `json:"deletionType"`
	AffectedIDs   []string     `json:"affectedIds"`
	AffectedCount int          `json:"affectedCount"`
	PayloadHash   string       `json:"payloadHash"`
	Signature     string       `json:"signature,omitempty"`
	Status        AuditStatus  `json:"status"`
	RequestedTime time.Time    `json:"requestedTime"`
	CompletedTime *time.Time   `json:"completedTime,omitempty"`
}

// RetrievedItem is one hybrid-retrieval candidate with its score breakdown.
// Transient: produced per query, never persisted.
type RetrievedItem struct {
	MemoryID          string    `json:"memoryId"`
	Content           string    `json:"content"`
	Similarity        float64   `json:"similarity"`
	EdgeWeight        float64   `json:"edgeWeight"`
	RelationshipBonus float64   `json:"relationshipBonus"`
	Recency           float64   `json:"recency"`
	Score             float64   `json:"score"`
	Sentiment         float64   `json:"sentiment"`
	CreationTime      time.Time `json:"creationTime"`
}

// GraphFact is a structured fact surfaced by graph expansion. Facts are a
// separate evidence category and are never merged into memory scores.
type GraphFact struct {
	Subject     string  `json:"subject"`
	Relation    string  `json:"relation"`
	Object      string  `json:"object"`
	Weight      float64 `json:"weight"`
	HopDistance int     `json:"hopDistance"`
}

// RetrievalResult is the full read-path answer for one query.
type RetrievalResult struct {
	Items      []RetrievedItem `json:"items"`
	GraphFacts []GraphFact     `json:"graphFacts"`
}
