package core

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultMinChunkLength = 10
	ChunkSeparator        = "\n\n---\n\n"

	// NoRelevantContext is used when retrieval returned nothing to work with.
	NoRelevantContext = "No relevant context was found."
	// EmptyContextFound is used when retrieval returned chunks but none carried usable text.
	// It points at the ingestion job rather than at the query.
	EmptyContextFound = "Context was found but its text is empty (check the ingestion job)."
)

type ContextStatus int

const (
	ContextFound ContextStatus = iota
	ContextEmpty
	ContextNone
)

func (s ContextStatus) String() string {
	switch s {
	case ContextFound:
		return "found"
	case ContextEmpty:
		return "empty"
	case ContextNone:
		return "none"
	}
	return "unknown"
}

// AssembledContext is the single text block handed to the prompt builder.
type AssembledContext struct {
	Text   string
	Status ContextStatus
	// Used is the number of chunks joined into Text.
	Used int
}

// Assembler joins retrieved chunk texts into one context block. It holds no state
// between calls.
type Assembler struct {
	MinLength int
	Separator string
}

func NewAssembler(minLength int) Assembler {
	if minLength <= 0 {
		minLength = DefaultMinChunkLength
	}
	return Assembler{MinLength: minLength, Separator: ChunkSeparator}
}

// Assemble keeps chunks whose text has at least MinLength characters, in received order.
func (a Assembler) Assemble(chunks []RetrievedChunk) AssembledContext {
	if len(chunks) == 0 {
		return AssembledContext{Text: NoRelevantContext, Status: ContextNone}
	}

	sep := a.Separator
	if sep == "" {
		sep = ChunkSeparator
	}

	texts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if utf8.RuneCountInString(chunk.Text) < a.MinLength {
			continue
		}
		texts = append(texts, chunk.Text)
	}

	if len(texts) == 0 {
		return AssembledContext{Text: EmptyContextFound, Status: ContextEmpty}
	}
	return AssembledContext{
		Text:   strings.Join(texts, sep),
		Status: ContextFound,
		Used:   len(texts),
	}
}
