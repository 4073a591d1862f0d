// Package chunker splits extracted document text into retrieval-sized
// passages. Both policies are pure functions of their input: same text in,
// same chunks out.
package chunker

import (
	"regexp"
	"strings"
)

// headingPattern matches numbered section headings such as "12. Sick Leave".
var headingPattern = regexp.MustCompile(`^\d{1,2}\.\s+\S`)

var paragraphSplit = regexp.MustCompile(`\n\s*\n`)

// HeadingChunker splits text immediately before numbered-heading lines, so
// every chunk starts with its own heading and stays meaningful when retrieved
// on its own.
type HeadingChunker struct{}

func NewHeadingChunker() *HeadingChunker {
	return &HeadingChunker{}
}

// Chunk returns one chunk per heading-led section. Text without any heading
// comes back as a single chunk; empty input yields none.
func (c *HeadingChunker) Chunk(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var chunks []string
	var current []string

	flush := func() {
		chunk := strings.TrimSpace(strings.Join(current, "\n"))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		current = current[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		if headingPattern.MatchString(strings.TrimSpace(line)) {
			flush()
		}
		current = append(current, line)
	}
	flush()

	return chunks
}

// SizeChunkerConfig represents the configuration for the size-based chunker.
type SizeChunkerConfig struct {
	ChunkSize    int // target chunk budget in characters
	ChunkOverlap int // trailing window carried into the next chunk
}

// SizeChunker accumulates paragraphs (and, for oversized paragraphs,
// sentences) up to a character budget, seeding each new chunk with a trailing
// overlap window from the previous one.
type SizeChunker struct {
	config SizeChunkerConfig
}

func NewSizeChunkerWithConfig(config SizeChunkerConfig) *SizeChunker {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 200
	}

	return &SizeChunker{
		config: config,
	}
}

func (c *SizeChunker) Chunk(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	// Paragraphs first; a paragraph over budget is split at sentence
	// boundaries instead.
	var units []string
	for _, paragraph := range paragraphSplit.Split(text, -1) {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		if len(paragraph) > c.config.ChunkSize {
			units = append(units, splitIntoSentences(paragraph)...)
		} else {
			units = append(units, paragraph)
		}
	}

	var chunks []string
	var current []string
	currentSize := 0

	for _, unit := range units {
		if currentSize > 0 && currentSize+len(unit) > c.config.ChunkSize {
			chunks = append(chunks, strings.Join(current, " "))
			current, currentSize = tailWindow(current, c.config.ChunkOverlap)
		}
		// An atomic unit over the budget is kept whole; chunks never cut
		// through a sentence.
		current = append(current, unit)
		currentSize += len(unit)
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}

// tailWindow returns the trailing units of a closed chunk that fit the
// overlap character budget, preserving their order.
func tailWindow(units []string, budget int) ([]string, int) {
	var window []string
	size := 0
	for i := len(units) - 1; i >= 0; i-- {
		if size+len(units[i]) > budget {
			break
		}
		window = append([]string{units[i]}, window...)
		size += len(units[i])
	}
	return window, size
}

func splitIntoSentences(text string) []string {
	sentenceEnders := []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}
	var sentences []string

	current := strings.Builder{}

	for i := 0; i < len(text); i++ {
		current.WriteByte(text[i])

		for _, ender := range sentenceEnders {
			if strings.HasSuffix(current.String(), ender) {
				if s := strings.TrimSpace(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
				break
			}
		}
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}
