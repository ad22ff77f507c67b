package retrieval

import (
	"math"
	"sort"
	"time"

	"github.com/engram-io/engram/internal/model"
)

// Scoring weights. Similarity dominates, graph signals refine, recency
// breaks near-ties. The weights sum to 1 so scores stay comparable across
// queries.
const (
	weightSimilarity   = 0.4
	weightEdge         = 0.3
	weightRelationship = 0.2
	weightRecency      = 0.1

	recencyHalfLifeDays = 30.0

	boostWindow = 7 * 24 * time.Hour
	boostFactor = 1.15
)

// recencyScore decays exponentially with age: 1.0 now, ~0.37 at thirty
// days, ~0.14 at sixty.
func recencyScore(creationTime, now time.Time) float64 {
	days := now.Sub(creationTime).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Exp(-days / recencyHalfLifeDays)
}

// scoreItem fills the derived sub-scores and the combined score. The
// caller-supplied relationship score only applies to positively-toned
// memories; negative associations should not be amplified by relationship
// strength. The result is exactly the weighted sum of the four components.
func scoreItem(item *model.RetrievedItem, relationshipScore float64, now time.Time) {
	item.Recency = recencyScore(item.CreationTime, now)

	rel := math.Max(0, relationshipScore)
	if item.Sentiment <= 0 {
		rel = 0
	}
	item.RelationshipBonus = rel

	item.Score = weightSimilarity*item.Similarity +
		weightEdge*item.EdgeWeight +
		weightRelationship*rel +
		weightRecency*item.Recency
}

// rerank scores every candidate and orders them deterministically:
// score desc, then creation time desc, then memory id asc. Equal inputs
// always produce the same ordering.
func rerank(items []model.RetrievedItem, relationshipScore float64, now time.Time) []model.RetrievedItem {
	for i := range items {
		scoreItem(&items[i], relationshipScore, now)
	}
	sortItems(items)
	return items
}

// unifiedRerank is the opt-in variant that multiplies the score of memories
// younger than seven days by 1.15 before ordering. The plain rerank keeps
// scores as pure weighted sums.
func unifiedRerank(items []model.RetrievedItem, relationshipScore float64, now time.Time) []model.RetrievedItem {
	for i := range items {
		scoreItem(&items[i], relationshipScore, now)
		if now.Sub(items[i].CreationTime) <= boostWindow {
			items[i].Score *= boostFactor
		}
	}
	sortItems(items)
	return items
}

func sortItems(items []model.RetrievedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if !items[i].CreationTime.Equal(items[j].CreationTime) {
			return items[i].CreationTime.After(items[j].CreationTime)
		}
		return items[i].MemoryID < items[j].MemoryID
	})
}

// sortFacts orders graph facts by hop distance ascending, then weight
// descending. Facts stay a separate evidence category from memories.
func sortFacts(facts []model.GraphFact) []model.GraphFact {
	sort.SliceStable(facts, func(i, j int) bool {
		if facts[i].HopDistance != facts[j].HopDistance {
			return facts[i].HopDistance < facts[j].HopDistance
		}
		return facts[i].Weight > facts[j].Weight
	})
	return facts
}
