package embeddings

import (
	"context"

	"github.com/rs/zerolog"
)

// FallbackProvider degrades embedding failures to a zero vector of the
// configured dimension. The memory is still persisted and indexed; it will
// not be findable by similarity until re-embedded, which is acceptable for a
// write path that must not drop facts.
type FallbackProvider struct {
	inner Provider
	dim   int
	log   zerolog.Logger
}

func NewFallbackProvider(inner Provider, dim int, log zerolog.Logger) *FallbackProvider {
	return &FallbackProvider{inner: inner, dim: dim, log: log.With().Str("component", "embeddings").Logger()}
}

func (f *FallbackProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := f.inner.Embed(ctx, text)
	if err == nil && len(vec) > 0 {
		return vec, nil
	}
	if err != nil {
		f.log.Warn().Err(err).Msg("embedding failed, using zero vector")
	}
	return make([]float32, f.dim), nil
}
