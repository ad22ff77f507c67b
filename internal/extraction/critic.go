package extraction

import (
	"strings"

	"github.com/rs/zerolog"
)

// Critic reviews extraction output before it reaches the graph store.
// Low-confidence results are dropped whole; individual relations with
// missing endpoints or out-of-range weights are pruned.
type Critic struct {
	MinConfidence float64
	log           zerolog.Logger
}

func NewCritic(minConfidence float64, log zerolog.Logger) *Critic {
	return &Critic{MinConfidence: minConfidence, log: log.With().Str("component", "critic").Logger()}
}

// Review returns the accepted subset of r, or nil when the whole result is
// rejected. A nil result means the memory is stored without graph facts.
func (c *Critic) Review(r *Result) *Result {
	if r == nil {
		return nil
	}
	if r.Confidence < c.MinConfidence {
		c.log.Debug().Float64("confidence", r.Confidence).Msg("extraction rejected")
		return nil
	}

	out := &Result{Confidence: r.Confidence}
	seen := make(map[string]bool)
	for _, e := range r.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		e.Name = name
		out.Entities = append(out.Entities, e)
	}
	for _, rel := range r.Relations {
		if strings.TrimSpace(rel.Subject) == "" || strings.TrimSpace(rel.Object) == "" ||
			strings.TrimSpace(rel.Relation) == "" {
			continue
		}
		if rel.Weight < 0 || rel.Weight > 1 {
			continue
		}
		if rel.Sentiment < -1 || rel.Sentiment > 1 {
			rel.Sentiment = clamp(rel.Sentiment, -1, 1)
		}
		out.Relations = append(out.Relations, rel)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
