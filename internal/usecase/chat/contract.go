package chat

import (
	"context"

	"ragdex/internal/domain"
)

// Asker answers a single query with a fragment stream.
type Asker interface {
	Ask(ctx context.Context, query string) (domain.GenerationStream, error)
}

// Threads is the thread registry the conversation flows through.
type Threads interface {
	EnsureAppend(id, title string, msg domain.Message) domain.Thread
	Get(id string) (domain.Thread, error)
	List() []domain.Thread
	Delete(id string) error
	Append(id string, msg domain.Message) error
	AppendContent(id, fragment string) error
	SetResponseTime(id string, seconds float64) error
	PruneEmptyAndCreate(title string) (domain.Thread, int)
}
