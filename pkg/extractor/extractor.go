// Package extractor converts uploaded files into plain text, keyed on the
// filename extension.
package extractor

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/amitsx/ragbot/internal/apperr"
)

type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

// Extract returns the plain-text content of data. Unknown extensions fail
// with UnsupportedFormatError, corrupt content with ExtractionError.
func (e *Extractor) Extract(data []byte, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".txt", ".md":
		return sanitizeUTF8(string(data)), nil
	case ".json":
		return e.extractJSON(data, filename)
	case ".csv":
		return e.extractCSV(data, filename)
	case ".html", ".htm":
		return e.extractHTML(data, filename)
	default:
		return "", &apperr.UnsupportedFormatError{Ext: ext}
	}
}

// extractJSON re-indents the document so nested values land on their own
// lines for chunking.
func (e *Extractor) extractJSON(data []byte, filename string) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return "", &apperr.ExtractionError{Filename: filename, Err: err}
	}
	return buf.String(), nil
}

func (e *Extractor) extractCSV(data []byte, filename string) (string, error) {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return "", &apperr.ExtractionError{Filename: filename, Err: err}
	}

	var sb strings.Builder
	for _, record := range records {
		sb.WriteString(strings.Join(record, ", "))
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func (e *Extractor) extractHTML(data []byte, filename string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", &apperr.ExtractionError{Filename: filename, Err: err}
	}

	doc.Find("script, style, noscript").Remove()

	var sb strings.Builder
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, td, pre").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text != "" {
			sb.WriteString(text)
			sb.WriteString("\n")
		}
	})

	// Pages without block markup still yield their raw text.
	if sb.Len() == 0 {
		return strings.TrimSpace(doc.Text()), nil
	}
	return strings.TrimSpace(sb.String()), nil
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
