package index

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"ragdex/internal/db"
	"ragdex/internal/domain"
)

const (
	chunkKeyPrefix = domain.KeyPrefix + "chunk:"
	versionKey     = domain.KeyPrefix + "chunks:version"
	insCounterKey  = domain.KeyPrefix + "chunks:ins"
	indexName      = domain.KeyPrefix + "chunks:idx"

	fieldVector  = "__vector"
	fieldContent = "__content"
	fieldScore   = "__vector_score"
	fieldSource  = "source"
	fieldSeq     = "seq"
	fieldIns     = "ins"

	// listPageSize bounds FT.SEARCH pages when walking all chunks.
	listPageSize = 1000
)

// store is the consumer interface for the vector index (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Incr(ctx context.Context, key string) (int64, error)
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	Exists(ctx context.Context, key string) (bool, error)
	DelMulti(ctx context.Context, keys []string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchList(ctx context.Context, index, query string, offset, limit int, fields []string) (*db.SearchResult, error)
}

// Repo stores document chunks as hashes under a single FT vector index.
// Chunk identity is the content fingerprint, so identical content maps to the
// same key regardless of which ingestion run wrote it.
type Repo struct {
	store       store
	dim         int
	m           int
	efConstruct int
}

// New creates a vector index repository. dim, m and efConstruct parameterize
// the HNSW index created by EnsureIndex.
func New(s store, dim, m, efConstruct int) *Repo {
	return &Repo{store: s, dim: dim, m: m, efConstruct: efConstruct}
}

// EnsureIndex creates the FT index if it does not exist yet. Safe to call on
// every startup.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, indexName)
	if err != nil {
		return fmt.Errorf("check index %s: %w: %w", indexName, domain.ErrIndexUnavailable, err)
	}
	if exists {
		return nil
	}

	def := db.NewIndex(indexName).
		Prefix(chunkKeyPrefix).
		Tag(fieldSource).
		Numeric(fieldSeq).
		Numeric(fieldIns).
		VectorHNSW(fieldVector, r.dim, db.DistanceCosine, r.m, r.efConstruct).
		MustBuild()

	if err := r.store.CreateIndex(ctx, def); err != nil {
		return fmt.Errorf("create index %s: %w: %w", indexName, domain.ErrIndexUnavailable, err)
	}
	return nil
}

// Exists reports whether a chunk with this fingerprint is already indexed.
func (r *Repo) Exists(ctx context.Context, fingerprint string) (bool, error) {
	ok, err := r.store.Exists(ctx, chunkKey(fingerprint))
	if err != nil {
		return false, fmt.Errorf("check chunk %s: %w: %w", fingerprint, domain.ErrIndexUnavailable, err)
	}
	return ok, nil
}

// Upsert writes all entries in one pipelined batch and bumps the corpus
// version once. Each entry gets a monotonic insertion number used as the
// deterministic tie-breaker in search ordering.
func (r *Repo) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	items := make([]db.HashSetItem, 0, len(entries))
	for _, e := range entries {
		ins, err := r.store.Incr(ctx, insCounterKey)
		if err != nil {
			return fmt.Errorf("next insertion number: %w: %w", domain.ErrIndexUnavailable, err)
		}
		items = append(items, db.HashSetItem{
			Key: chunkKey(e.Fingerprint),
			Fields: map[string]string{
				fieldVector:  string(vectorToBytes(e.Vector)),
				fieldContent: e.Text,
				fieldSource:  e.Source,
				fieldSeq:     strconv.Itoa(e.Seq),
				fieldIns:     strconv.FormatInt(ins, 10),
			},
		})
	}

	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("upsert %d chunks: %w: %w", len(items), domain.ErrIndexUnavailable, err)
	}

	if _, err := r.store.Incr(ctx, versionKey); err != nil {
		return fmt.Errorf("bump corpus version: %w: %w", domain.ErrIndexUnavailable, err)
	}
	return nil
}

// Search returns the k nearest chunks for the query vector, ordered by
// descending similarity with ties broken by ascending insertion number.
func (r *Repo) Search(ctx context.Context, vector []float32, k int) ([]domain.Match, error) {
	res, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    indexName,
		Vector:       vector,
		K:            k,
		// fieldScore must be requested explicitly or RediSearch omits it
		// and every hit comes back with score 0.
		ReturnFields: []string{fieldContent, fieldScore, fieldSource, fieldSeq, fieldIns},
	})
	if err != nil {
		return nil, fmt.Errorf("knn search: %w: %w", domain.ErrIndexUnavailable, err)
	}

	type ordered struct {
		match domain.Match
		ins   int64
	}
	hits := make([]ordered, 0, len(res.Entries))
	for _, e := range res.Entries {
		seq, _ := strconv.Atoi(e.Fields[fieldSeq])
		ins, _ := strconv.ParseInt(e.Fields[fieldIns], 10, 64)
		hits = append(hits, ordered{
			match: domain.Match{
				Fingerprint: strings.TrimPrefix(e.Key, chunkKeyPrefix),
				Source:      e.Fields[fieldSource],
				Seq:         seq,
				Text:        e.Fields[fieldContent],
				Score:       e.Score,
			},
			ins: ins,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].match.Score != hits[j].match.Score {
			return hits[i].match.Score > hits[j].match.Score
		}
		return hits[i].ins < hits[j].ins
	})

	matches := make([]domain.Match, len(hits))
	for i, h := range hits {
		matches[i] = h.match
	}
	return matches, nil
}

// DeleteSource removes all chunks of one source document and bumps the corpus
// version if anything was deleted. Returns the number of chunks removed.
func (r *Repo) DeleteSource(ctx context.Context, source string) (int, error) {
	query := fmt.Sprintf("@%s:{%s}", fieldSource, escapeTag(source))

	var keys []string
	offset := 0
	for {
		res, err := r.store.SearchList(ctx, indexName, query, offset, listPageSize, []string{fieldSeq})
		if err != nil {
			return 0, fmt.Errorf("find chunks of %s: %w: %w", source, domain.ErrIndexUnavailable, err)
		}
		for _, e := range res.Entries {
			keys = append(keys, e.Key)
		}
		if len(res.Entries) < listPageSize {
			break
		}
		offset += listPageSize
	}

	if len(keys) == 0 {
		return 0, nil
	}

	if err := r.store.DelMulti(ctx, keys); err != nil {
		return 0, fmt.Errorf("delete %d chunks of %s: %w: %w", len(keys), source, domain.ErrIndexUnavailable, err)
	}
	if _, err := r.store.Incr(ctx, versionKey); err != nil {
		return 0, fmt.Errorf("bump corpus version: %w: %w", domain.ErrIndexUnavailable, err)
	}
	return len(keys), nil
}

// Flush removes every indexed chunk and bumps the corpus version. Returns the
// number of chunks removed.
func (r *Repo) Flush(ctx context.Context) (int, error) {
	keys, err := r.store.Scan(ctx, chunkKeyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("scan chunks: %w: %w", domain.ErrIndexUnavailable, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	if err := r.store.DelMulti(ctx, keys); err != nil {
		return 0, fmt.Errorf("flush %d chunks: %w: %w", len(keys), domain.ErrIndexUnavailable, err)
	}
	if _, err := r.store.Incr(ctx, versionKey); err != nil {
		return 0, fmt.Errorf("bump corpus version: %w: %w", domain.ErrIndexUnavailable, err)
	}
	return len(keys), nil
}

// Sources lists every indexed source with its chunk count, sorted by source.
func (r *Repo) Sources(ctx context.Context) ([]domain.SourceInfo, error) {
	counts := map[string]int{}
	offset := 0
	for {
		res, err := r.store.SearchList(ctx, indexName, "*", offset, listPageSize, []string{fieldSource})
		if err != nil {
			return nil, fmt.Errorf("list chunks: %w: %w", domain.ErrIndexUnavailable, err)
		}
		for _, e := range res.Entries {
			counts[e.Fields[fieldSource]]++
		}
		if len(res.Entries) < listPageSize {
			break
		}
		offset += listPageSize
	}

	sources := make([]domain.SourceInfo, 0, len(counts))
	for src, n := range counts {
		sources = append(sources, domain.SourceInfo{Source: src, Chunks: n})
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Source < sources[j].Source })
	return sources, nil
}

// Version returns the current corpus version. A missing counter means no
// write has ever happened, reported as version 0.
func (r *Repo) Version(ctx context.Context) (int64, error) {
	data, err := r.store.Get(ctx, versionKey)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("read corpus version: %w: %w", domain.ErrIndexUnavailable, err)
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse corpus version %q: %w", string(data), err)
	}
	return v, nil
}

func chunkKey(fingerprint string) string {
	return chunkKeyPrefix + fingerprint
}

func vectorToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// escapeTag escapes FT tag query syntax so arbitrary file paths can be used
// inside {...} filters.
func escapeTag(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ',', '.', '<', '>', '{', '}', '[', ']', '"', '\'', ':', ';',
			'!', '@', '#', '$', '%', '^', '&', '*', '(', ')', '-', '+',
			'=', '~', '/', '\\', '|', ' ':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
