package ask

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"ragdex/internal/domain"
	logpkg "ragdex/internal/logger"
)

// contextSeparator joins retrieved chunks in the generation prompt.
const contextSeparator = "\n\n"

// Service answers queries: cache lookup, query embedding, similarity search,
// context assembly under a token budget, streamed generation.
type Service struct {
	embedder  Embedder
	index     Index
	cache     QueryCache
	generator Generator

	topK             int
	maxContextTokens int

	tokens TokenCounter
	logger *zap.Logger
}

// New creates the ask service.
func New(
	embedder Embedder,
	index Index,
	cache QueryCache,
	generator Generator,
	tokens TokenCounter,
	topK, maxContextTokens int,
	logger *zap.Logger,
) *Service {
	return &Service{
		embedder:         embedder,
		index:            index,
		cache:            cache,
		generator:        generator,
		topK:             topK,
		maxContextTokens: maxContextTokens,
		tokens:           tokens,
		logger:           logger,
	}
}

// Ask returns a stream of answer fragments for the query. A cache hit skips
// embedding, search and generation entirely. Generation runs detached from
// the request context: a disconnected client does not abort it, and the
// finished answer is still cached.
func (s *Service) Ask(ctx context.Context, query string) (*Stream, error) {
	version, err := s.index.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("corpus version: %w", err)
	}

	if answer, ok := s.cache.Get(query, version); ok {
		logpkg.FromContext(ctx).Debug("Query cache hit", zap.Int64("version", version))
		return newCachedStream(answer), nil
	}

	emb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err := s.index.Search(ctx, emb.Embedding, s.topK)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	contextText := s.buildContext(matches)

	provider, err := s.generator.Generate(context.WithoutCancel(ctx), query, contextText)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	chunkIDs := make([]string, len(matches))
	for i, m := range matches {
		chunkIDs[i] = m.Fingerprint
	}

	st := newStream()
	go s.forward(provider, query, version, chunkIDs, st)
	return st, nil
}

// forward pumps provider fragments into the consumer stream. It drains the
// provider to completion even when the consumer is gone, so the answer still
// reaches the query cache. Failed generations are never cached.
func (s *Service) forward(
	provider domain.GenerationStream, query string, version int64, chunkIDs []string, st *Stream,
) {
	defer provider.Close()
	defer close(st.items)

	var full strings.Builder
	for {
		frag, err := provider.Recv()
		if errors.Is(err, io.EOF) {
			s.cache.Put(query, full.String(), version, chunkIDs)
			st.send(item{err: io.EOF})
			return
		}
		if err != nil {
			s.logger.Warn("Generation stream failed", zap.Error(err))
			st.send(item{err: err})
			return
		}
		full.WriteString(frag)
		st.send(item{frag: frag})
	}
}

// buildContext concatenates match texts in rank order, stopping before the
// token budget is exceeded. The top match is always included.
func (s *Service) buildContext(matches []domain.Match) string {
	var b strings.Builder
	used := 0
	for i, m := range matches {
		tokens := s.tokens.Count(m.Text)
		if i > 0 && used+tokens > s.maxContextTokens {
			break
		}
		if b.Len() > 0 {
			b.WriteString(contextSeparator)
		}
		b.WriteString(m.Text)
		used += tokens
	}
	return b.String()
}
