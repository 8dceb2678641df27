package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// pdfText extracts the visible text of a PDF by dumping page content streams
// and scraping the text-show operators. Layout is not reconstructed; the
// output is a page-ordered stream of the document's strings, which is enough
// for chunking and embedding.
func pdfText(path string) (string, error) {
	tmp, err := os.MkdirTemp("", "ragdex-pdf-*")
	if err != nil {
		return "", fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.ExtractContentFile(path, tmp, nil, conf); err != nil {
		return "", fmt.Errorf("extract content: %w", err)
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		return "", fmt.Errorf("read extracted content: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return pageNumber(names[i]) < pageNumber(names[j])
	})

	var b strings.Builder
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(tmp, name))
		if err != nil {
			return "", fmt.Errorf("read page content %s: %w", name, err)
		}
		page := contentStreamText(data)
		if page == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(page)
	}

	return b.String(), nil
}

// pageNumber pulls the trailing page index out of pdfcpu's content file names.
func pageNumber(name string) int {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	i := len(base)
	for i > 0 && base[i-1] >= '0' && base[i-1] <= '9' {
		i--
	}
	n, err := strconv.Atoi(base[i:])
	if err != nil {
		return 0
	}
	return n
}

// contentStreamText scrapes string literals fed to the Tj/TJ/'/" text-show
// operators from a raw page content stream. Hex strings and encodings beyond
// latin text are ignored.
func contentStreamText(data []byte) string {
	var out strings.Builder
	var pending []string

	flush := func(sep string) {
		for _, s := range pending {
			out.WriteString(s)
		}
		if len(pending) > 0 {
			out.WriteString(sep)
		}
		pending = pending[:0]
	}

	i := 0
	for i < len(data) {
		c := data[i]
		switch {
		case c == '(':
			s, next := parseStringLiteral(data, i)
			if utf8.ValidString(s) {
				pending = append(pending, s)
			}
			i = next
		case c == 'T' && i+1 < len(data) && (data[i+1] == 'j' || data[i+1] == 'J'):
			flush(" ")
			i += 2
		case c == 'T' && i+1 < len(data) && (data[i+1] == 'd' || data[i+1] == 'D' || data[i+1] == '*'):
			// position change without a show op: line break
			flush("\n")
			i += 2
		case c == '\'' || c == '"':
			flush("\n")
			i++
		default:
			i++
		}
	}
	flush(" ")

	return strings.TrimSpace(out.String())
}

// parseStringLiteral reads a PDF string starting at data[start] == '('.
// Returns the decoded string and the index after the closing paren.
func parseStringLiteral(data []byte, start int) (string, int) {
	var b strings.Builder
	depth := 0
	i := start
	for i < len(data) {
		c := data[i]
		switch c {
		case '\\':
			if i+1 >= len(data) {
				return b.String(), i + 1
			}
			esc := data[i+1]
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'b', 'f':
				// ignored
			case '(', ')', '\\':
				b.WriteByte(esc)
			default:
				if esc >= '0' && esc <= '7' {
					// octal escape, up to 3 digits
					val := 0
					j := i + 1
					for j < len(data) && j <= i+3 && data[j] >= '0' && data[j] <= '7' {
						val = val*8 + int(data[j]-'0')
						j++
					}
					b.WriteByte(byte(val))
					i = j
					continue
				}
				b.WriteByte(esc)
			}
			i += 2
		case '(':
			if depth > 0 {
				b.WriteByte(c)
			}
			depth++
			i++
		case ')':
			depth--
			if depth == 0 {
				return b.String(), i + 1
			}
			b.WriteByte(c)
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), i
}
