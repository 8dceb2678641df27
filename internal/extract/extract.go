package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"ragdex/internal/domain"
)

// FileExtractor turns local source files into plain text. Plain-text formats
// are read as-is; PDFs go through content extraction.
type FileExtractor struct{}

// New creates a file extractor.
func New() *FileExtractor {
	return &FileExtractor{}
}

var textExts = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".rst":      true,
}

// Supported reports whether this file type can be extracted.
func (e *FileExtractor) Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return textExts[ext] || ext == ".pdf"
}

// Text returns the plain-text content of a file. Failures wrap
// domain.ErrExtraction so the caller can skip the file and move on.
func (e *FileExtractor) Text(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch {
	case textExts[ext]:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w: %w", path, domain.ErrExtraction, err)
		}
		if !utf8.Valid(data) {
			return "", fmt.Errorf("read %s: %w: not valid UTF-8", path, domain.ErrExtraction)
		}
		return string(data), nil

	case ext == ".pdf":
		text, err := pdfText(path)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w: %w", path, domain.ErrExtraction, err)
		}
		return text, nil

	default:
		return "", fmt.Errorf("extract %s: %w: unsupported file type %q", path, domain.ErrExtraction, ext)
	}
}
