// Package fetcher retrieves feed documents as sequential streams.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-index/utils"
)

const (
	defaultTimeout = 5 * time.Minute
	userAgent      = "vuln-index"
	getterPrefix   = "getter::"
)

// FetchError reports a source that could not be retrieved.
type FetchError struct {
	Source     string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to fetch %s: HTTP status code %d", e.Source, e.StatusCode)
	}
	return fmt.Sprintf("failed to fetch %s: %s", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type options struct {
	client    *http.Client
	timeout   time.Duration
	retry     int
	retryWait time.Duration
}

type Option func(*options)

func WithHTTPClient(client *http.Client) Option {
	return func(opts *options) {
		opts.client = client
	}
}

// WithTimeout bounds one source: connecting, and reading the whole stream.
func WithTimeout(timeout time.Duration) Option {
	return func(opts *options) {
		opts.timeout = timeout
	}
}

// WithRetry retries a failing request up to retry times with exponential backoff.
func WithRetry(retry int) Option {
	return func(opts *options) {
		opts.retry = retry
	}
}

// WithRetryWait sets the initial backoff interval.
func WithRetryWait(wait time.Duration) Option {
	return func(opts *options) {
		opts.retryWait = wait
	}
}

type Fetcher struct {
	*options
}

func New(opts ...Option) Fetcher {
	o := &options{
		client:    &http.Client{},
		timeout:   defaultTimeout,
		retryWait: time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return Fetcher{options: o}
}

// Fetch opens source for reading. Sources ending in .gz are decompressed on
// the fly, archives (.zip or a "getter::" source) are downloaded to a temp
// file first. The caller must close the stream; closing releases the timeout.
func (f Fetcher) Fetch(ctx context.Context, source string) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)

	var rc io.ReadCloser
	var err error
	switch {
	case strings.HasPrefix(source, getterPrefix) || hasExt(source, ".zip"):
		rc, err = f.download(ctx, source)
	case isLocal(source):
		rc, err = openLocal(source)
	default:
		rc, err = f.get(ctx, source)
	}
	if err != nil {
		cancel()
		return nil, err
	}

	if !strings.HasPrefix(source, getterPrefix) && hasExt(source, ".gz") {
		gz, err := gzip.NewReader(rc)
		if err != nil {
			rc.Close()
			cancel()
			return nil, &FetchError{Source: source, Err: xerrors.Errorf("failed to decompress: %w", err)}
		}
		rc = &stream{Reader: gz, closers: []io.Closer{gz, rc}}
	}
	return &stream{Reader: rc, closers: []io.Closer{rc}, cancel: cancel}, nil
}

func (f Fetcher) get(ctx context.Context, source string) (io.ReadCloser, error) {
	var body io.ReadCloser
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return backoff.Permanent(&FetchError{Source: source, Err: err})
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(&FetchError{Source: source, Err: err})
			}
			return &FetchError{Source: source, Err: err}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body.Close()
			ferr := &FetchError{Source: source, StatusCode: resp.StatusCode, Err: xerrors.New(resp.Status)}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(ferr)
			}
			return ferr
		}
		body = resp.Body
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.retryWait
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(f.retry)), ctx)

	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		utils.Logger().Infof("Retrying %s after %s: %s", source, wait, err)
	})
	if err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			err = perm.Err
		}
		var ferr *FetchError
		if xerrors.As(err, &ferr) {
			return nil, ferr
		}
		return nil, &FetchError{Source: source, Err: err}
	}
	return body, nil
}

func (f Fetcher) download(ctx context.Context, source string) (io.ReadCloser, error) {
	path, err := utils.DownloadToTempFile(ctx, strings.TrimPrefix(source, getterPrefix))
	if err != nil {
		return nil, &FetchError{Source: source, Err: err}
	}
	file, err := os.Open(path)
	if err != nil {
		os.Remove(path)
		return nil, &FetchError{Source: source, Err: err}
	}
	return &stream{Reader: file, closers: []io.Closer{file, removeFile(path)}}, nil
}

func hasExt(source, ext string) bool {
	if u, err := url.Parse(source); err == nil {
		return strings.HasSuffix(u.Path, ext)
	}
	return strings.HasSuffix(source, ext)
}

func isLocal(source string) bool {
	u, err := url.Parse(source)
	return err != nil || u.Scheme == "" || u.Scheme == "file"
}

func openLocal(source string) (io.ReadCloser, error) {
	path := source
	if u, err := url.Parse(source); err == nil && u.Scheme == "file" {
		path = u.Path
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, &FetchError{Source: source, Err: err}
	}
	return file, nil
}

type removeFile string

func (r removeFile) Close() error {
	return os.Remove(string(r))
}

// stream closes every underlying closer and then releases its context.
type stream struct {
	io.Reader
	closers []io.Closer
	cancel  context.CancelFunc
}

func (s *stream) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	return first
}
