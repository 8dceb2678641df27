package health

import "context"

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// IndexChecker verifies the vector index exists and is reachable.
type IndexChecker interface {
	EnsureIndex(ctx context.Context) error
}
