package ingest

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/phucgpt/ragchat/internal/core"
	"github.com/phucgpt/ragchat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	pages map[string]string
}

func (f fakeFetcher) Fetch(_ context.Context, url string) (string, error) {
	text, ok := f.pages[url]
	if !ok {
		return "", errors.Newf("fetch %s: 404", url)
	}
	return text, nil
}

type fakeEmbedder struct {
	mu    sync.Mutex
	fail  string
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) (core.EmbeddingVector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != "" && strings.Contains(text, f.fail) {
		return nil, errors.New("rate limited")
	}
	return core.EmbeddingVector{1, 0}, nil
}

type fakeWriter struct {
	ensured  bool
	cleared  bool
	inserted []store.Chunk
	err      error
}

func (f *fakeWriter) EnsureCollection(context.Context) error {
	f.ensured = true
	return nil
}

func (f *fakeWriter) Insert(_ context.Context, chunks []store.Chunk) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, chunks...)
	return nil
}

func (f *fakeWriter) Clear(context.Context) error {
	f.cleared = true
	f.inserted = nil
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJobRun(t *testing.T) {
	fetcher := fakeFetcher{pages: map[string]string{
		"https://example.org/a": strings.Repeat("alpha ", 100),
		"https://example.org/b": strings.Repeat("beta ", 30),
		"https://example.org/c": "too short",
	}}
	writer := &fakeWriter{}
	embedder := &fakeEmbedder{}
	job := NewJob(fetcher, embedder, writer, Options{
		Splitter:    NewSplitter(200, 50, 50),
		Concurrency: 2,
		Reset:       true,
	}, quietLogger())

	report, err := job.Run(context.Background(), []string{
		"https://example.org/a",
		"https://example.org/b",
		"https://example.org/c",
		"https://example.org/missing",
	})
	require.NoError(t, err)

	assert.True(t, writer.ensured)
	assert.True(t, writer.cleared)
	assert.Equal(t, 4, report.Pages)
	assert.Equal(t, 1, report.FailedPages)
	// a: 600 chars -> windows at 0,150,300,450 (last is 150 chars); b: 150 chars -> 1 chunk.
	assert.Equal(t, 5, report.Chunks)
	assert.Equal(t, 5, report.Inserted)
	assert.Zero(t, report.FailedChunks)
	assert.Equal(t, embedder.calls, report.Inserted)

	require.Len(t, writer.inserted, 5)
	assert.Equal(t, "https://example.org/a", writer.inserted[0].Source)
	assert.Equal(t, "https://example.org/b", writer.inserted[4].Source)
	for _, c := range writer.inserted {
		assert.NotEmpty(t, c.ID)
		assert.Len(t, c.Embedding, 2)
	}
}

func TestJobRun_EmbeddingFailuresAreSkipped(t *testing.T) {
	fetcher := fakeFetcher{pages: map[string]string{
		"https://example.org/a": strings.Repeat("good text ", 10) + strings.Repeat("poison ", 10),
	}}
	writer := &fakeWriter{}
	job := NewJob(fetcher, &fakeEmbedder{fail: "poison"}, writer, Options{
		Splitter: NewSplitter(60, 0, 10),
	}, quietLogger())

	report, err := job.Run(context.Background(), []string{"https://example.org/a"})
	require.NoError(t, err)

	assert.Positive(t, report.FailedChunks)
	assert.Equal(t, report.Chunks-report.FailedChunks, report.Inserted)
	for _, c := range writer.inserted {
		assert.NotContains(t, c.Text, "poison")
	}
}

func TestJobRun_DimensionMismatchAborts(t *testing.T) {
	fetcher := fakeFetcher{pages: map[string]string{"https://example.org/a": strings.Repeat("text ", 40)}}
	writer := &fakeWriter{err: errors.Wrap(core.ErrDimensionMismatch, "2 != 1536")}
	job := NewJob(fetcher, &fakeEmbedder{}, writer, Options{Splitter: NewSplitter(100, 0, 10)}, quietLogger())

	_, err := job.Run(context.Background(), []string{"https://example.org/a"})
	assert.True(t, errors.Is(err, core.ErrDimensionMismatch))
}

func TestJobRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := fakeFetcher{pages: map[string]string{"https://example.org/a": strings.Repeat("text ", 40)}}
	job := NewJob(fetcher, &fakeEmbedder{}, &fakeWriter{}, Options{Splitter: NewSplitter(100, 0, 10), RatePerSecond: 1}, quietLogger())

	_, err := job.Run(ctx, []string{"https://example.org/a"})
	assert.Error(t, err)
}
