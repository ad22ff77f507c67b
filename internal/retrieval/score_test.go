package retrieval

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/engram-io/engram/internal/model"
)

func TestScoreDecomposition(t *testing.T) {
	now := time.Now().UTC()
	item := model.RetrievedItem{
		Similarity:   0.8,
		EdgeWeight:   0.6,
		Sentiment:    0.7,
		CreationTime: now.AddDate(0, 0, -30),
	}
	scoreItem(&item, 0.5, now)

	wantRecency := math.Exp(-1)
	require.InDelta(t, wantRecency, item.Recency, 1e-6)
	require.InDelta(t, 0.5, item.RelationshipBonus, 1e-9)
	want := 0.4*0.8 + 0.3*0.6 + 0.2*0.5 + 0.1*wantRecency
	require.InDelta(t, want, item.Score, 1e-9)
}

func TestScoreIsPureWeightedSumForFreshItems(t *testing.T) {
	now := time.Now().UTC()
	item := model.RetrievedItem{
		Similarity:   0.8,
		EdgeWeight:   0.6,
		Sentiment:    0.7,
		CreationTime: now.AddDate(0, 0, -3),
	}
	scoreItem(&item, 0.5, now)

	// No recency multiplier in the base score, however young the memory.
	want := 0.4*0.8 + 0.3*0.6 + 0.2*0.5 + 0.1*item.Recency
	require.InDelta(t, want, item.Score, 1e-9)
}

func TestRelationshipScoreRequiresPositiveSentiment(t *testing.T) {
	now := time.Now().UTC()
	for _, sentiment := range []float64{0, -0.5} {
		item := model.RetrievedItem{
			Similarity:   0.5,
			Sentiment:    sentiment,
			CreationTime: now.AddDate(0, 0, -60),
		}
		scoreItem(&item, 0.9, now)
		require.Zero(t, item.RelationshipBonus, "sentiment %v", sentiment)
		want := 0.4*0.5 + 0.1*item.Recency
		require.InDelta(t, want, item.Score, 1e-9)
	}
}

func TestNegativeRelationshipScoreClampsToZero(t *testing.T) {
	now := time.Now().UTC()
	item := model.RetrievedItem{
		Similarity:   0.5,
		Sentiment:    0.8,
		CreationTime: now.AddDate(0, 0, -60),
	}
	scoreItem(&item, -0.4, now)
	require.Zero(t, item.RelationshipBonus)
	require.InDelta(t, 0.4*0.5+0.1*item.Recency, item.Score, 1e-9)
}

func TestUnifiedRerankBoostsRecentMemories(t *testing.T) {
	now := time.Now().UTC()
	items := []model.RetrievedItem{
		{MemoryID: "fresh", Similarity: 0.5, CreationTime: now.AddDate(0, 0, -3)},
		{MemoryID: "old", Similarity: 0.5, CreationTime: now.AddDate(0, 0, -10)},
	}
	out := unifiedRerank(items, 0, now)

	require.Equal(t, "fresh", out[0].MemoryID)
	base := 0.4*0.5 + 0.1*out[0].Recency
	require.InDelta(t, base*1.15, out[0].Score, 1e-9)
	require.InDelta(t, 0.4*0.5+0.1*out[1].Recency, out[1].Score, 1e-9)
}

func TestRecencyNeverNegativeAge(t *testing.T) {
	now := time.Now().UTC()
	// Clock skew can put creation marginally in the future.
	require.InDelta(t, 1.0, recencyScore(now.Add(time.Minute), now), 1e-9)
	require.InDelta(t, 1.0, recencyScore(now, now), 1e-9)
}

func TestRerankIsDeterministic(t *testing.T) {
	now := time.Now().UTC()
	older := now.AddDate(0, 0, -40)
	newer := now.AddDate(0, 0, -20)
	mk := func() []model.RetrievedItem {
		return []model.RetrievedItem{
			{MemoryID: "b", Similarity: 0.5, CreationTime: older},
			{MemoryID: "a", Similarity: 0.5, CreationTime: older},
			{MemoryID: "c", Similarity: 0.9, CreationTime: older},
			{MemoryID: "d", Similarity: 0.5, CreationTime: newer},
		}
	}

	first := rerank(mk(), 0, now)
	second := rerank(mk(), 0, now)
	require.Equal(t, first, second)

	// Highest score first, then fresher creation, then id ascending.
	require.Equal(t, "c", first[0].MemoryID)
	require.Equal(t, "d", first[1].MemoryID)
	require.Equal(t, "a", first[2].MemoryID)
	require.Equal(t, "b", first[3].MemoryID)
}

func TestSortFacts(t *testing.T) {
	facts := []model.GraphFact{
		{Subject: "x", Weight: 0.9, HopDistance: 2},
		{Subject: "y", Weight: 0.4, HopDistance: 1},
		{Subject: "z", Weight: 0.8, HopDistance: 1},
	}
	sorted := sortFacts(facts)
	require.Equal(t, "z", sorted[0].Subject)
	require.Equal(t, "y", sorted[1].Subject)
	require.Equal(t, "x", sorted[2].Subject)
}
