package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_Windows(t *testing.T) {
	text := strings.Repeat("a", 2500)

	chunks := NewSplitter(1000, 200, 50).Split(text)

	// Windows start at 0, 800 and 1600; the last one runs to the end of the text.
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 1000)
	assert.Len(t, chunks[1], 1000)
	assert.Len(t, chunks[2], 900)
}

func TestSplit_OverlapIsShared(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 300; i++ {
		sb.WriteByte(byte('a' + i%26))
	}
	text := sb.String()

	chunks := NewSplitter(100, 20, 0).Split(text)
	require.True(t, len(chunks) > 2)

	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		assert.Equal(t, prev[len(prev)-20:], chunks[i][:20])
	}
}

func TestSplit_DropsShortChunks(t *testing.T) {
	s := NewSplitter(100, 0, 50)

	assert.Empty(t, s.Split(strings.Repeat("x", 50)))
	assert.Len(t, s.Split(strings.Repeat("x", 51)), 1)
	assert.Empty(t, s.Split("   "+strings.Repeat("y", 40)+"      "))
}

func TestSplit_CountsCharacters(t *testing.T) {
	text := strings.Repeat("ư", 150)

	chunks := NewSplitter(100, 10, 0).Split(text)

	require.Len(t, chunks, 2)
	assert.Equal(t, 100, len([]rune(chunks[0])))
	assert.Equal(t, 60, len([]rune(chunks[1])))
}

func TestSplit_Empty(t *testing.T) {
	assert.Empty(t, NewSplitter(100, 10, 0).Split(""))
}

func TestSplit_InvalidSettings(t *testing.T) {
	s := Splitter{Size: 10, Overlap: 10}
	chunks := s.Split(strings.Repeat("z", 25))
	assert.Len(t, chunks, 3)

	assert.Equal(t, DefaultChunkSize, NewSplitter(0, 0, 0).Size)
}
