package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"ragdex/internal/domain"
)

// SkippedFile records one file the pipeline could not process.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report summarizes one ingestion run.
type Report struct {
	Files          int           `json:"files"`
	FilesSkipped   int           `json:"files_skipped"`
	ChunksIndexed  int           `json:"chunks_indexed"`
	ChunksExisting int           `json:"chunks_existing"`
	Skipped        []SkippedFile `json:"skipped,omitempty"`
}

// Service runs the ingestion pipeline: extract, chunk, embed, index.
// A run embeds every new chunk before writing anything, so a mid-run
// embedding failure leaves the index untouched.
type Service struct {
	extractor Extractor
	embedder  Embedder
	index     Index

	chunkSize    int
	chunkOverlap int

	filesTotal  *prometheus.CounterVec
	chunksTotal prometheus.Counter
	logger      *zap.Logger
}

// New creates an ingestion service.
func New(
	extractor Extractor,
	embedder Embedder,
	index Index,
	chunkSize, chunkOverlap int,
	filesTotal *prometheus.CounterVec,
	chunksTotal prometheus.Counter,
	logger *zap.Logger,
) *Service {
	return &Service{
		extractor:    extractor,
		embedder:     embedder,
		index:        index,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		filesTotal:   filesTotal,
		chunksTotal:  chunksTotal,
		logger:       logger,
	}
}

// Ingest processes a file or directory. Directories are walked recursively;
// files that cannot be extracted are skipped and reported, they never abort
// the run. A path that does not exist is an invalid source.
func (s *Service) Ingest(ctx context.Context, path string) (Report, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Report{}, fmt.Errorf("stat %s: %w", path, domain.ErrInvalidSource)
	}

	files, err := s.collectFiles(path, info)
	if err != nil {
		return Report{}, err
	}

	var report Report
	var pending []domain.DocumentChunk
	seen := map[string]bool{}

	for _, file := range files {
		text, err := s.extractor.Text(file)
		if err != nil {
			s.logger.Warn("Skipping file", zap.String("path", file), zap.Error(err))
			report.FilesSkipped++
			report.Skipped = append(report.Skipped, SkippedFile{Path: file, Reason: err.Error()})
			s.incFile("skipped")
			continue
		}

		report.Files++
		s.incFile("indexed")

		for seq, chunkText := range Chunk(text, s.chunkSize, s.chunkOverlap) {
			chunk := domain.NewChunk(file, seq, chunkText)
			if seen[chunk.Fingerprint] {
				report.ChunksExisting++
				continue
			}
			seen[chunk.Fingerprint] = true

			exists, err := s.index.Exists(ctx, chunk.Fingerprint)
			if err != nil {
				return Report{}, fmt.Errorf("check chunk: %w", err)
			}
			if exists {
				report.ChunksExisting++
				continue
			}
			pending = append(pending, chunk)
		}
	}

	if len(pending) == 0 {
		s.logger.Info("Ingestion complete, nothing new to index",
			zap.String("path", path),
			zap.Int("files", report.Files),
			zap.Int("chunks_existing", report.ChunksExisting))
		return report, nil
	}

	texts := make([]string, len(pending))
	for i, c := range pending {
		texts[i] = c.Text
	}

	// embed everything up front so a provider failure writes nothing
	embedded, err := s.embedder.BatchEmbed(ctx, texts)
	if err != nil {
		return Report{}, fmt.Errorf("embed %d chunks: %w", len(texts), err)
	}
	if len(embedded.Embeddings) != len(pending) {
		return Report{}, fmt.Errorf("embed %d chunks: got %d vectors", len(pending), len(embedded.Embeddings))
	}

	entries := make([]domain.IndexEntry, len(pending))
	for i, c := range pending {
		entries[i] = domain.IndexEntry{
			Fingerprint: c.Fingerprint,
			Vector:      embedded.Embeddings[i],
			Source:      c.Source,
			Seq:         c.Seq,
			Text:        c.Text,
		}
	}

	if err := s.index.Upsert(ctx, entries); err != nil {
		return Report{}, fmt.Errorf("index %d chunks: %w", len(entries), err)
	}

	report.ChunksIndexed = len(entries)
	if s.chunksTotal != nil {
		s.chunksTotal.Add(float64(len(entries)))
	}

	s.logger.Info("Ingestion complete",
		zap.String("path", path),
		zap.Int("files", report.Files),
		zap.Int("files_skipped", report.FilesSkipped),
		zap.Int("chunks_indexed", report.ChunksIndexed),
		zap.Int("chunks_existing", report.ChunksExisting),
		zap.Int("embedding_tokens", embedded.TotalTokens))

	return report, nil
}

// DeleteSource removes all chunks of one source document.
func (s *Service) DeleteSource(ctx context.Context, source string) (int, error) {
	n, err := s.index.DeleteSource(ctx, source)
	if err != nil {
		return 0, fmt.Errorf("delete source %s: %w", source, err)
	}
	s.logger.Info("Source removed", zap.String("source", source), zap.Int("chunks", n))
	return n, nil
}

// Flush removes every indexed chunk.
func (s *Service) Flush(ctx context.Context) (int, error) {
	n, err := s.index.Flush(ctx)
	if err != nil {
		return 0, fmt.Errorf("flush index: %w", err)
	}
	s.logger.Info("Index flushed", zap.Int("chunks", n))
	return n, nil
}

// Sources lists indexed source documents.
func (s *Service) Sources(ctx context.Context) ([]domain.SourceInfo, error) {
	sources, err := s.index.Sources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}

// collectFiles resolves the ingestion target to a deterministic file list.
func (s *Service) collectFiles(path string, info os.FileInfo) ([]string, error) {
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if s.extractor.Supported(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w: %w", path, domain.ErrInvalidSource, err)
	}

	sort.Strings(files)
	return files, nil
}

func (s *Service) incFile(status string) {
	if s.filesTotal != nil {
		s.filesTotal.WithLabelValues(status).Inc()
	}
}
