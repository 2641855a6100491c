// Package freshness keeps the watermark of the last successful ingestion cycle
// and decides whether the index is still fresh enough to skip a cycle.
package freshness

import (
	"fmt"
	"time"

	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-index/utils"
)

const (
	// WatermarkKey is the store key holding the watermark.
	WatermarkKey = "nist_mtime"

	// TimeLayout is day-of-year:year:hour:minute:second, always UTC.
	TimeLayout = "002:2006:15:04:05"
)

// StoreError reports that the backing store could not be read or written.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("freshness store: unable to %s %s: %s", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Store is the key/value collaborator holding the watermark.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

type options struct {
	clock func() time.Time
	key   string
}

type Option func(*options)

func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func WithKey(key string) Option {
	return func(o *options) {
		o.key = key
	}
}

type Cache struct {
	*options
	store Store
}

func NewCache(store Store, opts ...Option) Cache {
	o := &options{
		clock: time.Now,
		key:   WatermarkKey,
	}
	for _, opt := range opts {
		opt(o)
	}
	return Cache{
		options: o,
		store:   store,
	}
}

// Watermark returns the stored watermark. ok is false when none was written.
func (c Cache) Watermark() (t time.Time, ok bool, err error) {
	value, ok, err := c.store.Get(c.key)
	if err != nil {
		return time.Time{}, false, &StoreError{Op: "read", Key: c.key, Err: err}
	} else if !ok {
		return time.Time{}, false, nil
	}

	t, err = time.ParseInLocation(TimeLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, false, xerrors.Errorf("invalid watermark %q: %w", value, err)
	}
	return t, true, nil
}

// IsFresh reports whether the last successful cycle is at most maxAge old.
// Any failure to read the watermark counts as stale.
func (c Cache) IsFresh(maxAge time.Duration) bool {
	watermark, ok, err := c.Watermark()
	if err != nil {
		utils.Logger().Warnf("Treating the index as stale: %s", err)
		return false
	} else if !ok {
		return false
	}
	return !c.clock().UTC().After(watermark.Add(maxAge))
}

// Advance records now as the watermark. The watermark never moves backward.
func (c Cache) Advance(now time.Time) error {
	now = now.UTC().Truncate(time.Second)

	watermark, ok, err := c.Watermark()
	var storeErr *StoreError
	if xerrors.As(err, &storeErr) {
		return err
	}
	// an unreadable value is overwritten
	if err == nil && ok && now.Before(watermark) {
		return nil
	}

	if err = c.store.Set(c.key, now.Format(TimeLayout)); err != nil {
		return &StoreError{Op: "write", Key: c.key, Err: err}
	}
	return nil
}
