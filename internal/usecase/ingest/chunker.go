package ingest

import "strings"

// Chunk splits text into rune windows of at most size runes, each window
// starting overlap runes before the previous one ended. Whitespace-only
// windows are dropped; boundaries never split a rune.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	stride := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += stride {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end == len(runes) {
			break
		}
	}
	return chunks
}
