package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// KeyPrefix namespaces every key this service writes to the backing store.
const KeyPrefix = "ragdex:"

// DocumentChunk is a bounded span of a source document's text, the unit of
// embedding and retrieval. Immutable once created; identity is content-derived
// so identical content across re-ingestions maps to the same chunk.
type DocumentChunk struct {
	Fingerprint string
	Source      string // path of the originating file
	Seq         int    // position within the source document
	Text        string
}

// NewChunk builds a chunk with its content fingerprint.
func NewChunk(source string, seq int, text string) DocumentChunk {
	return DocumentChunk{
		Fingerprint: Fingerprint(text),
		Source:      source,
		Seq:         seq,
		Text:        text,
	}
}

// IndexEntry is a chunk plus its vector, ready for the vector index.
type IndexEntry struct {
	Fingerprint string
	Vector      []float32
	Source      string
	Seq         int
	Text        string
}

// Match is a single scored hit from a similarity search, ranked by
// descending score with ties broken by insertion order.
type Match struct {
	Fingerprint string
	Source      string
	Seq         int
	Text        string
	Score       float64
}

// SourceInfo aggregates the indexed chunks of one source document.
type SourceInfo struct {
	Source string `json:"source"`
	Chunks int    `json:"chunks"`
}

// Fingerprint returns the deterministic content hash used as a stable
// identity key, independent of storage location.
func Fingerprint(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
