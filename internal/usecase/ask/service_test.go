package ask

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"ragdex/internal/domain"
)

type mockEmbedder struct {
	calls int
	err   error
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.calls++
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: []float32{0.1, 0.2}}, nil
}

type mockIndex struct {
	version    int64
	versionErr error
	matches    []domain.Match
	searchErr  error
	searches   int
}

func (m *mockIndex) Search(_ context.Context, _ []float32, _ int) ([]domain.Match, error) {
	m.searches++
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.matches, nil
}

func (m *mockIndex) Version(_ context.Context) (int64, error) {
	return m.version, m.versionErr
}

type mockCache struct {
	entries   map[string]string
	version   int64
	puts      int
	lastChunk []string
}

func (m *mockCache) Get(query string, version int64) (string, bool) {
	if version != m.version {
		return "", false
	}
	a, ok := m.entries[query]
	return a, ok
}

func (m *mockCache) Put(query, answer string, version int64, chunkIDs []string) {
	if m.entries == nil {
		m.entries = map[string]string{}
	}
	m.entries[query] = answer
	m.version = version
	m.lastChunk = chunkIDs
	m.puts++
}

// mockGenStream yields fixed fragments, optionally ending in an error.
type mockGenStream struct {
	frags    []string
	finalErr error
	pos      int
	closed   bool
}

func (m *mockGenStream) Recv() (string, error) {
	if m.pos >= len(m.frags) {
		if m.finalErr != nil {
			return "", m.finalErr
		}
		return "", io.EOF
	}
	frag := m.frags[m.pos]
	m.pos++
	return frag, nil
}

func (m *mockGenStream) Close() error {
	m.closed = true
	return nil
}

type mockGenerator struct {
	stream     *mockGenStream
	err        error
	calls      int
	gotQuery   string
	gotContext string
}

func (m *mockGenerator) Generate(_ context.Context, query, contextText string) (domain.GenerationStream, error) {
	m.calls++
	m.gotQuery = query
	m.gotContext = contextText
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

// wordCounter counts whitespace-separated words as tokens.
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func newTestService(emb *mockEmbedder, idx *mockIndex, cache *mockCache, gen *mockGenerator, budget int) *Service {
	return New(emb, idx, cache, gen, wordCounter{}, 10, budget, zap.NewNop())
}

func drain(t *testing.T, st *Stream) string {
	t.Helper()
	var b strings.Builder
	for {
		frag, err := st.Recv()
		if errors.Is(err, io.EOF) {
			return b.String()
		}
		if err != nil {
			t.Fatalf("unexpected stream error: %v", err)
		}
		b.WriteString(frag)
	}
}

func TestAsk_FullPipeline(t *testing.T) {
	emb := &mockEmbedder{}
	idx := &mockIndex{version: 1, matches: []domain.Match{
		{Text: "first chunk", Score: 0.9},
		{Text: "second chunk", Score: 0.8},
	}}
	cache := &mockCache{version: 1}
	gen := &mockGenerator{stream: &mockGenStream{frags: []string{"Hello", " world"}}}

	svc := newTestService(emb, idx, cache, gen, 100)
	st, err := svc.Ask(context.Background(), "what is up?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	answer := drain(t, st)
	if answer != "Hello world" {
		t.Errorf("unexpected answer %q", answer)
	}
	if gen.gotQuery != "what is up?" {
		t.Errorf("generator got query %q", gen.gotQuery)
	}
	if gen.gotContext != "first chunk\n\nsecond chunk" {
		t.Errorf("unexpected context %q", gen.gotContext)
	}
	if st.Cached() {
		t.Error("live answer must not report cached")
	}
}

func TestAsk_CacheHitSkipsEverything(t *testing.T) {
	emb := &mockEmbedder{}
	idx := &mockIndex{version: 2}
	cache := &mockCache{version: 2, entries: map[string]string{"q": "cached answer"}}
	gen := &mockGenerator{}

	svc := newTestService(emb, idx, cache, gen, 100)
	st, err := svc.Ask(context.Background(), "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	answer := drain(t, st)
	if answer != "cached answer" {
		t.Errorf("unexpected answer %q", answer)
	}
	if !st.Cached() {
		t.Error("expected cached stream")
	}
	if emb.calls != 0 || idx.searches != 0 || gen.calls != 0 {
		t.Errorf("cache hit must not embed/search/generate: %d/%d/%d",
			emb.calls, idx.searches, gen.calls)
	}
}

func TestAsk_SuccessfulAnswerIsCached(t *testing.T) {
	emb := &mockEmbedder{}
	idx := &mockIndex{version: 5, matches: []domain.Match{{Fingerprint: "fp-1", Text: "ctx"}}}
	cache := &mockCache{version: 5}
	gen := &mockGenerator{stream: &mockGenStream{frags: []string{"full ", "answer"}}}

	svc := newTestService(emb, idx, cache, gen, 100)
	st, err := svc.Ask(context.Background(), "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	drain(t, st)

	answer, ok := cache.Get("q", 5)
	if !ok || answer != "full answer" {
		t.Errorf("expected cached answer, got %q ok=%v", answer, ok)
	}
	if len(cache.lastChunk) != 1 || cache.lastChunk[0] != "fp-1" {
		t.Errorf("expected grounding chunk IDs recorded, got %v", cache.lastChunk)
	}
}

func TestAsk_FailedGenerationNotCached(t *testing.T) {
	emb := &mockEmbedder{}
	idx := &mockIndex{version: 1, matches: []domain.Match{{Text: "ctx"}}}
	cache := &mockCache{version: 1}
	gen := &mockGenerator{stream: &mockGenStream{
		frags:    []string{"partial"},
		finalErr: domain.ErrGenerationProvider,
	}}

	svc := newTestService(emb, idx, cache, gen, 100)
	st, err := svc.Ask(context.Background(), "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sawErr error
	for {
		_, err := st.Recv()
		if err != nil {
			sawErr = err
			break
		}
	}
	if !errors.Is(sawErr, domain.ErrGenerationProvider) {
		t.Fatalf("expected generation error, got %v", sawErr)
	}
	if cache.puts != 0 {
		t.Error("failed generation must not be cached")
	}
}

func TestAsk_EmptyContextStillGenerates(t *testing.T) {
	emb := &mockEmbedder{}
	idx := &mockIndex{version: 1, matches: nil}
	cache := &mockCache{version: 1}
	gen := &mockGenerator{stream: &mockGenStream{frags: []string{"no sources answer"}}}

	svc := newTestService(emb, idx, cache, gen, 100)
	st, err := svc.Ask(context.Background(), "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	answer := drain(t, st)

	if answer != "no sources answer" {
		t.Errorf("unexpected answer %q", answer)
	}
	if gen.gotContext != "" {
		t.Errorf("expected empty context, got %q", gen.gotContext)
	}
	if cache.puts != 1 {
		t.Error("answer over empty context must still be cached")
	}
}

func TestAsk_EmbedErrorPropagates(t *testing.T) {
	emb := &mockEmbedder{err: domain.ErrEmbeddingProvider}
	idx := &mockIndex{version: 1}
	svc := newTestService(emb, idx, &mockCache{version: 1}, &mockGenerator{}, 100)

	_, err := svc.Ask(context.Background(), "q")
	if !errors.Is(err, domain.ErrEmbeddingProvider) {
		t.Fatalf("expected ErrEmbeddingProvider, got %v", err)
	}
}

func TestAsk_SearchErrorPropagates(t *testing.T) {
	idx := &mockIndex{version: 1, searchErr: domain.ErrIndexUnavailable}
	svc := newTestService(&mockEmbedder{}, idx, &mockCache{version: 1}, &mockGenerator{}, 100)

	_, err := svc.Ask(context.Background(), "q")
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
}

func TestAsk_ClientCloseStillCaches(t *testing.T) {
	emb := &mockEmbedder{}
	idx := &mockIndex{version: 1, matches: []domain.Match{{Text: "ctx"}}}
	cache := &mockCache{version: 1}
	gen := &mockGenerator{stream: &mockGenStream{frags: []string{"part1", "part2", "part3"}}}

	svc := newTestService(emb, idx, cache, gen, 100)
	st, err := svc.Ask(context.Background(), "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// read one fragment, then walk away
	if _, err := st.Recv(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st.Close()

	// producer finishes in the background and writes the cache
	deadline := time.After(2 * time.Second)
	for cache.puts == 0 {
		select {
		case <-deadline:
			t.Fatal("cache was not written after client close")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	answer, _ := cache.Get("q", 1)
	if answer != "part1part2part3" {
		t.Errorf("expected complete answer cached, got %q", answer)
	}
}

func TestBuildContext_TokenBudget(t *testing.T) {
	svc := newTestService(&mockEmbedder{}, &mockIndex{}, &mockCache{}, &mockGenerator{}, 5)

	matches := []domain.Match{
		{Text: "one two three"},      // 3 tokens
		{Text: "four five"},          // 2 tokens, total 5: fits
		{Text: "six seven eight"},    // would exceed
		{Text: "never reached text"}, // rank order stops at first overflow
	}
	got := svc.buildContext(matches)
	want := "one two three\n\nfour five"
	if got != want {
		t.Errorf("buildContext = %q, want %q", got, want)
	}
}

func TestBuildContext_TopMatchAlwaysIncluded(t *testing.T) {
	svc := newTestService(&mockEmbedder{}, &mockIndex{}, &mockCache{}, &mockGenerator{}, 2)

	matches := []domain.Match{{Text: "way more tokens than the budget allows"}}
	if got := svc.buildContext(matches); got != matches[0].Text {
		t.Errorf("top match must always be included, got %q", got)
	}
}
