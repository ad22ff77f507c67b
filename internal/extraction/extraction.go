// Package extraction turns free-text memory content into graph-ready
// entities and relations, with a critic gate in front of the graph store.
package extraction

import "context"

// Entity is a named node candidate.
type Entity struct {
	Name     string  `json:"name"`
	Kind     string  `json:"kind"`
	Salience float64 `json:"salience"`
}

// Relation is a weighted subject-relation-object triple. Sentiment carries
// the affective polarity of the statement, in [-1, 1].
type Relation struct {
	Subject   string  `json:"subject"`
	Relation  string  `json:"relation"`
	Object    string  `json:"object"`
	Weight    float64 `json:"weight"`
	Sentiment float64 `json:"sentiment"`
}

// Result is one extraction pass over a memory's content.
type Result struct {
	Entities   []Entity   `json:"entities"`
	Relations  []Relation `json:"relations"`
	Confidence float64    `json:"confidence"`
}

// Extractor produces structured facts from text. knownEntities carries
// recently-seen entity names for the owner so the extractor can resolve
// mentions against existing identities instead of minting near-duplicates.
type Extractor interface {
	ExtractFacts(ctx context.Context, text, ownerID string, knownEntities []string) (*Result, error)
}
