package ingest

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize      = 1000
	DefaultChunkOverlap   = 200
	DefaultMinChunkLength = 50
)

// Splitter cuts text into fixed size character windows that overlap by Overlap characters.
type Splitter struct {
	Size    int
	Overlap int
	// MinLength drops chunks whose trimmed text is MinLength characters or shorter.
	MinLength int
}

func NewSplitter(size, overlap, minLength int) Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return Splitter{Size: size, Overlap: overlap, MinLength: minLength}
}

func (s Splitter) Split(text string) []string {
	if s.Size <= 0 || s.Overlap < 0 || s.Overlap >= s.Size {
		s = NewSplitter(s.Size, s.Overlap, s.MinLength)
	}
	runes := []rune(text)
	var chunks []string

	for start := 0; start < len(runes); {
		end := start + s.Size
		if end >= len(runes) {
			chunks = s.appendChunk(chunks, runes[start:])
			break
		}
		chunks = s.appendChunk(chunks, runes[start:end])
		start = end - s.Overlap
	}
	return chunks
}

func (s Splitter) appendChunk(chunks []string, window []rune) []string {
	chunk := string(window)
	if utf8.RuneCountInString(strings.TrimSpace(chunk)) <= s.MinLength {
		return chunks
	}
	return append(chunks, chunk)
}
