package ingest

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/phucgpt/ragchat/internal/core"
	"github.com/phucgpt/ragchat/internal/store"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Fetcher returns the readable text of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

type Options struct {
	Splitter Splitter
	// RatePerSecond bounds embedding calls. Zero or less means unlimited.
	RatePerSecond float64
	// Concurrency is the number of pages fetched in parallel.
	Concurrency int
	// Reset clears the collection before inserting, when the store supports it.
	Reset bool
}

// Report summarizes one ingestion run.
type Report struct {
	Pages        int
	FailedPages  int
	Chunks       int
	FailedChunks int
	Inserted     int
}

// Job scrapes source pages, splits them into chunks, embeds every chunk and writes the
// result to a vector store. A failing page or chunk is logged and skipped.
type Job struct {
	fetcher  Fetcher
	embedder core.Embedder
	writer   store.ChunkWriter
	opts     Options
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func NewJob(fetcher Fetcher, embedder core.Embedder, writer store.ChunkWriter, opts Options, logger *slog.Logger) *Job {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		fetcher:  fetcher,
		embedder: embedder,
		writer:   writer,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
	}
}

type page struct {
	url  string
	text string
	err  error
}

func (j *Job) Run(ctx context.Context, urls []string) (Report, error) {
	var report Report

	if err := j.writer.EnsureCollection(ctx); err != nil {
		return report, errors.Wrap(err, "ensure collection")
	}
	if j.opts.Reset {
		if clearer, ok := j.writer.(store.Clearer); ok {
			if err := clearer.Clear(ctx); err != nil {
				return report, errors.Wrap(err, "clear collection")
			}
			j.logger.Info("cleared existing chunks")
		} else {
			j.logger.Warn("vector store does not support reset, appending")
		}
	}

	pages, err := j.fetchAll(ctx, urls)
	if err != nil {
		return report, err
	}

	for _, p := range pages {
		report.Pages++
		if p.err != nil {
			report.FailedPages++
			j.logger.Warn("scrape failed", "url", p.url, "error", p.err)
			continue
		}

		texts := j.opts.Splitter.Split(p.text)
		report.Chunks += len(texts)
		j.logger.Info("processing page", "url", p.url, "chunks", len(texts))

		chunks := make([]store.Chunk, 0, len(texts))
		for i, text := range texts {
			if err := j.limiter.Wait(ctx); err != nil {
				return report, errors.Wrap(err, "rate limiter")
			}
			vector, err := j.embedder.Embed(ctx, text)
			if err != nil {
				if ctx.Err() != nil {
					return report, ctx.Err()
				}
				report.FailedChunks++
				j.logger.Warn("embedding failed", "url", p.url, "chunk", i, "error", err)
				continue
			}
			chunks = append(chunks, store.Chunk{
				ID:        uuid.NewString(),
				Text:      text,
				Source:    p.url,
				Embedding: vector,
			})
		}

		if len(chunks) == 0 {
			continue
		}
		if err := j.writer.Insert(ctx, chunks); err != nil {
			if errors.Is(err, core.ErrDimensionMismatch) {
				return report, err
			}
			report.FailedChunks += len(chunks)
			j.logger.Warn("insert failed", "url", p.url, "chunks", len(chunks), "error", err)
			continue
		}
		report.Inserted += len(chunks)
	}

	j.logger.Info("ingestion finished",
		"pages", report.Pages,
		"failed_pages", report.FailedPages,
		"chunks", report.Chunks,
		"failed_chunks", report.FailedChunks,
		"inserted", report.Inserted,
	)
	return report, nil
}

// fetchAll downloads the pages concurrently. Results keep the order of urls; a page
// failure is recorded on the page rather than aborting the run.
func (j *Job) fetchAll(ctx context.Context, urls []string) ([]page, error) {
	pages := make([]page, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.opts.Concurrency)
	for i, url := range urls {
		g.Go(func() error {
			text, err := j.fetcher.Fetch(gctx, url)
			pages[i] = page{url: url, text: text, err: err}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "fetch pages")
	}
	return pages, nil
}
