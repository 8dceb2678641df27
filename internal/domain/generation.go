package domain

import "context"

// Generator produces a streamed answer for a query grounded in retrieved
// context. The returned stream yields output fragments as the model
// produces them.
type Generator interface {
	Generate(ctx context.Context, query, contextText string) (GenerationStream, error)
}

// GenerationStream is a pull-based sequence of answer fragments.
// Recv returns io.EOF when generation is complete.
type GenerationStream interface {
	Recv() (string, error)
	Close() error
}
