// Package ingest runs one ingestion cycle: it checks the freshness
// watermark, fetches every feed source with a bounded pool of workers,
// folds their facts into a scratch index on a single goroutine and publishes
// the result.
package ingest

import (
	"context"
	"crypto/sha256"
	"hash"
	"io"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-index/extractor"
	"github.com/aquasecurity/vuln-index/fetcher"
	"github.com/aquasecurity/vuln-index/freshness"
	"github.com/aquasecurity/vuln-index/index"
	"github.com/aquasecurity/vuln-index/metrics"
	"github.com/aquasecurity/vuln-index/nvd"
	"github.com/aquasecurity/vuln-index/parser"
	"github.com/aquasecurity/vuln-index/types"
	"github.com/aquasecurity/vuln-index/utils"
)

const (
	defaultWorkers = 4
	defaultMaxAge  = 24 * time.Hour
)

// ErrNoDocuments is returned when no feed document of a cycle could be
// fetched and parsed. Nothing is published in that case.
var ErrNoDocuments = xerrors.New("no feed document was ingested")

// Fetcher opens one feed source as a sequential stream.
type Fetcher interface {
	Fetch(ctx context.Context, source string) (io.ReadCloser, error)
}

type options struct {
	workers        int
	maxAge         time.Duration
	force          bool
	fetcher        Fetcher
	progress       bool
	verifyChecksum bool
	fetchMeta      func(ctx context.Context, url string) (nvd.Meta, error)
	metrics        *metrics.Collector
	fs             afero.Fs
	snapshotPath   string
	clock          func() time.Time
}

type Option func(*options)

func WithWorkers(workers int) Option {
	return func(opts *options) {
		if workers > 0 {
			opts.workers = workers
		}
	}
}

func WithMaxAge(maxAge time.Duration) Option {
	return func(opts *options) {
		opts.maxAge = maxAge
	}
}

// WithForce runs the cycle even when the watermark is fresh.
func WithForce(force bool) Option {
	return func(opts *options) {
		opts.force = force
	}
}

func WithFetcher(f Fetcher) Option {
	return func(opts *options) {
		opts.fetcher = f
	}
}

func WithProgress(progress bool) Option {
	return func(opts *options) {
		opts.progress = progress
	}
}

// WithChecksum verifies every document against the sha256 of its .meta
// document.
func WithChecksum(verify bool) Option {
	return func(opts *options) {
		opts.verifyChecksum = verify
	}
}

// WithMetaFetcher replaces the download of .meta documents.
func WithMetaFetcher(fetchMeta func(ctx context.Context, url string) (nvd.Meta, error)) Option {
	return func(opts *options) {
		opts.fetchMeta = fetchMeta
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(opts *options) {
		opts.metrics = m
	}
}

// WithSnapshot saves the published index to path after each cycle.
func WithSnapshot(fs afero.Fs, path string) Option {
	return func(opts *options) {
		opts.fs = fs
		opts.snapshotPath = path
	}
}

func WithClock(clock func() time.Time) Option {
	return func(opts *options) {
		opts.clock = clock
	}
}

type Updater struct {
	*options
	sources []string
	cache   freshness.Cache
	index   *index.Index
}

func NewUpdater(sources []string, cache freshness.Cache, idx *index.Index, opts ...Option) Updater {
	o := &options{
		workers:   defaultWorkers,
		maxAge:    defaultMaxAge,
		fetcher:   fetcher.New(),
		progress:  true,
		fetchMeta: nvd.FetchMeta,
		metrics:   metrics.New(),
		fs:        afero.NewOsFs(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return Updater{
		options: o,
		sources: sources,
		cache:   cache,
		index:   idx,
	}
}

// Result summarizes one cycle.
type Result struct {
	// Skipped is set when the watermark was fresh and nothing ran.
	Skipped   bool
	Documents int
	Failed    int
	Facts     int
	Malformed int
	Rejected  int
	Packages  int
	// Errors holds the per-source failures. They do not fail the cycle.
	Errors *multierror.Error
}

// batch is everything one worker learned from one document.
type batch struct {
	source string
	facts  []types.Fact
	stats  extractor.Stats
	err    error
}

// Run executes one cycle. Per-source failures are collected in
// Result.Errors. Run fails with ErrNoDocuments when every source failed,
// with ctx.Err() when cancelled, or when the watermark cannot be advanced.
// Only the first two leave the published index untouched.
func (u Updater) Run(ctx context.Context) (Result, error) {
	var result Result
	if !u.force && u.cache.IsFresh(u.maxAge) {
		utils.Logger().Infof("Feeds are fresher than %s, skipping the update", u.maxAge)
		u.metrics.Cycles.WithLabelValues("skipped").Inc()
		result.Skipped = true
		return result, nil
	}

	utils.Logger().Infof("Ingesting %d feed documents with %d workers...", len(u.sources), u.workers)

	var bar *pb.ProgressBar
	if u.progress {
		bar = pb.StartNew(len(u.sources))
	}

	builder := u.index.NewBuilder()
	batches := make(chan batch)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for b := range batches {
			u.aggregate(builder, b, &result)
			if bar != nil {
				bar.Increment()
			}
		}
	}()

	var g errgroup.Group
	g.SetLimit(u.workers)
	for _, source := range u.sources {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			batches <- u.ingest(ctx, source)
			return nil
		})
	}
	_ = g.Wait()
	close(batches)
	<-done
	if bar != nil {
		bar.Finish()
	}

	if err := ctx.Err(); err != nil {
		u.metrics.Cycles.WithLabelValues("canceled").Inc()
		return result, err
	}
	if result.Documents == 0 {
		u.metrics.Cycles.WithLabelValues("failed").Inc()
		return result, xerrors.Errorf("all %d sources failed: %w", len(u.sources), ErrNoDocuments)
	}

	u.index.Publish(builder)
	result.Packages = u.index.Len()
	u.metrics.Packages.Set(float64(result.Packages))
	utils.Logger().Infof("Published %d packages from %d documents (%d failed)",
		result.Packages, result.Documents, result.Failed)

	if u.snapshotPath != "" {
		if err := u.index.Save(u.fs, u.snapshotPath); err != nil {
			utils.Logger().Warnf("Failed to save the index snapshot: %s", err)
			result.Errors = multierror.Append(result.Errors, err)
		}
	}

	if err := u.cache.Advance(u.clock()); err != nil {
		u.metrics.Cycles.WithLabelValues("failed").Inc()
		return result, xerrors.Errorf("failed to advance the freshness watermark: %w", err)
	}
	u.metrics.Cycles.WithLabelValues("success").Inc()
	return result, nil
}

// aggregate runs on the goroutine that owns the builder.
func (u Updater) aggregate(builder *index.Builder, b batch, result *Result) {
	builder.Ingest(b.facts...)

	result.Facts += len(b.facts)
	result.Malformed += b.stats.Malformed
	result.Rejected += b.stats.Rejected
	u.metrics.Facts.Add(float64(len(b.facts)))
	u.metrics.SkippedConfigurations.WithLabelValues(metrics.ReasonMalformed).Add(float64(b.stats.Malformed))
	u.metrics.SkippedConfigurations.WithLabelValues(metrics.ReasonRejected).Add(float64(b.stats.Rejected))
	if b.stats.Malformed+b.stats.Rejected > 0 {
		utils.Logger().Debugf("%s: skipped %d malformed and %d rejected configurations",
			b.source, b.stats.Malformed, b.stats.Rejected)
	}

	if b.err == nil {
		result.Documents++
		return
	}

	result.Failed++
	result.Errors = multierror.Append(result.Errors, b.err)
	var (
		fetchErr    *fetcher.FetchError
		parseErr    *parser.ParseError
		checksumErr *ChecksumError
	)
	switch {
	case xerrors.As(b.err, &fetchErr):
		u.metrics.FetchErrors.Inc()
	case xerrors.As(b.err, &parseErr):
		u.metrics.ParseErrors.Inc()
	case xerrors.As(b.err, &checksumErr):
		u.metrics.ChecksumErrors.Inc()
	}
	utils.Logger().Warnf("Skipping %s: %s", b.source, b.err)
}

// ingest fetches and extracts one document. Facts extracted before a parse
// or read error are kept; a checksum mismatch drops them all.
func (u Updater) ingest(ctx context.Context, source string) batch {
	b := batch{source: source}

	if err := ctx.Err(); err != nil {
		b.err = &fetcher.FetchError{Source: source, Err: err}
		return b
	}

	var meta *nvd.Meta
	if u.verifyChecksum {
		m, err := u.fetchMeta(ctx, nvd.MetaURL(source))
		if err != nil {
			utils.Logger().Warnf("Unable to verify %s: %s", source, err)
		} else {
			meta = &m
		}
	}

	rc, err := u.fetcher.Fetch(ctx, source)
	if err != nil {
		b.err = err
		return b
	}
	defer rc.Close()

	var r io.Reader = rc
	var h hash.Hash
	if meta != nil {
		h = sha256.New()
		r = io.TeeReader(rc, h)
	}

	e := extractor.New()
	err = e.Extract(ctx, parser.New(r), func(f types.Fact) {
		b.facts = append(b.facts, f)
	})
	b.stats = e.Stats()
	var parseErr *parser.ParseError
	if xerrors.As(err, &parseErr) {
		b.err = xerrors.Errorf("failed to parse %s: %w", source, err)
		return b
	} else if err != nil {
		// the stream broke off: timeout, connection reset or cancellation
		b.err = &fetcher.FetchError{Source: source, Err: err}
		return b
	}

	if meta != nil {
		if _, err = io.Copy(io.Discard, r); err != nil {
			b.err = &fetcher.FetchError{Source: source, Err: err}
			return b
		}
		if err = meta.Verify(h.Sum(nil)); err != nil {
			b.facts = nil
			b.err = &ChecksumError{Source: source, Err: err}
		}
	}
	return b
}

// ChecksumError reports a document whose content does not match its meta.
type ChecksumError struct {
	Source string
	Err    error
}

func (e *ChecksumError) Error() string {
	return "checksum verification failed for " + e.Source + ": " + e.Err.Error()
}

func (e *ChecksumError) Unwrap() error {
	return e.Err
}
