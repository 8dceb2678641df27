package domain

import "errors"

var (
	// ErrInvalidSource signals a missing or unreadable ingestion path.
	ErrInvalidSource = errors.New("invalid source path")
	// ErrExtraction signals a per-file text extraction failure.
	ErrExtraction = errors.New("extraction failed")
	// ErrEmbeddingProvider signals an embedding provider failure.
	ErrEmbeddingProvider = errors.New("embedding provider error")
	// ErrIndexUnavailable signals an unreachable vector index backing store.
	ErrIndexUnavailable = errors.New("vector index unavailable")
	// ErrGenerationProvider signals a generation model failure.
	ErrGenerationProvider = errors.New("generation provider error")
	// ErrThreadNotFound signals a missing conversation thread.
	ErrThreadNotFound = errors.New("thread not found")
)
