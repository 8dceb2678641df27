package ask

import (
	"context"

	"ragdex/internal/domain"
)

// Embedder vectorizes the query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Index searches the chunk index and exposes the corpus version the query
// cache is keyed against.
type Index interface {
	Search(ctx context.Context, vector []float32, k int) ([]domain.Match, error)
	Version(ctx context.Context) (int64, error)
}

// QueryCache stores full answers keyed by normalized query and corpus version.
type QueryCache interface {
	Get(query string, version int64) (string, bool)
	Put(query, answer string, version int64, chunkIDs []string)
}

// Generator produces the streamed answer from query and retrieved context.
type Generator interface {
	Generate(ctx context.Context, query, contextText string) (domain.GenerationStream, error)
}

// TokenCounter measures text size for the context token budget.
type TokenCounter interface {
	Count(text string) int
}
