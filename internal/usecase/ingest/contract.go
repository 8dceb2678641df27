package ingest

import (
	"context"

	"ragdex/internal/domain"
)

// Extractor turns a source file into plain text.
type Extractor interface {
	Supported(path string) bool
	Text(path string) (string, error)
}

// Index is the vector index the pipeline writes to.
type Index interface {
	Exists(ctx context.Context, fingerprint string) (bool, error)
	Upsert(ctx context.Context, entries []domain.IndexEntry) error
	DeleteSource(ctx context.Context, source string) (int, error)
	Flush(ctx context.Context) (int, error)
	Sources(ctx context.Context) ([]domain.SourceInfo, error)
}

// Embedder vectorizes chunk texts.
type Embedder interface {
	BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error)
}
