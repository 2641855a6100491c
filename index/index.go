// Package index aggregates facts into package -> version -> advisory id records
// and serves lookups against the last published snapshot.
package index

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/lo"

	"github.com/aquasecurity/vuln-index/types"
)

// Record is the lookup view of one package.
type Record struct {
	Vendor   string              `json:"vendor"`
	Versions map[string][]string `json:"versions"`
}

// SortedVersions returns the versions of r. Versions that parse as semver come
// first in semver order, the rest follow in lexical order.
func (r Record) SortedVersions() []string {
	versions := lo.Keys(r.Versions)
	sort.Slice(versions, func(i, j int) bool {
		return compareVersions(versions[i], versions[j]) < 0
	})
	return versions
}

func compareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA == nil && errB == nil:
		if c := va.Compare(vb); c != 0 {
			return c
		}
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}

type record struct {
	vendor   string
	versions map[string]map[string]struct{}
}

func newRecord(vendor string) *record {
	return &record{
		vendor:   vendor,
		versions: map[string]map[string]struct{}{},
	}
}

func (r *record) add(version, advisoryID string) {
	ids, ok := r.versions[version]
	if !ok {
		ids = map[string]struct{}{}
		r.versions[version] = ids
	}
	ids[advisoryID] = struct{}{}
}

func (r *record) clone() *record {
	c := newRecord(r.vendor)
	for version, ids := range r.versions {
		c.versions[version] = make(map[string]struct{}, len(ids))
		for id := range ids {
			c.versions[version][id] = struct{}{}
		}
	}
	return c
}

func (r *record) view() Record {
	versions := make(map[string][]string, len(r.versions))
	for version, ids := range r.versions {
		versions[version] = sortedIDs(ids)
	}
	return Record{Vendor: r.vendor, Versions: versions}
}

func sortedIDs(ids map[string]struct{}) []string {
	s := lo.Keys(ids)
	sort.Strings(s)
	return s
}

type snapshot map[string]*record

// Builder is the scratch index of one cycle. It has a single owner and is not
// safe for concurrent use.
type Builder struct {
	records   snapshot
	published bool
}

func newBuilder(seed snapshot) *Builder {
	records := make(snapshot, len(seed))
	for name, r := range seed {
		records[name] = r.clone()
	}
	return &Builder{records: records}
}

// Ingest merges facts into the scratch index. Invalid facts are ignored; the
// vendor of a package is the first one seen.
func (b *Builder) Ingest(facts ...types.Fact) {
	if b.published {
		panic("index: Ingest on a published builder")
	}
	for _, f := range facts {
		if !f.Valid() {
			continue
		}
		r, ok := b.records[f.Package]
		if !ok {
			r = newRecord(f.Vendor)
			b.records[f.Package] = r
		}
		r.add(f.Version, f.AdvisoryID)
	}
}

// Len returns the number of packages in the scratch index.
func (b *Builder) Len() int {
	return len(b.records)
}

type options struct {
	replace bool
}

type Option func(*options)

// WithReplace makes every publish drop the packages of the previous snapshot
// instead of carrying them into the next builder.
func WithReplace(replace bool) Option {
	return func(o *options) {
		o.replace = replace
	}
}

// Index serves lookups from the last published snapshot. Readers never see a
// partially built snapshot.
type Index struct {
	*options
	current atomic.Pointer[snapshot]
}

func New(opts ...Option) *Index {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	idx := &Index{options: o}
	empty := snapshot{}
	idx.current.Store(&empty)
	return idx
}

// NewBuilder returns a scratch index for one cycle. Unless the index replaces
// on publish, the builder starts from a copy of the published snapshot.
func (idx *Index) NewBuilder() *Builder {
	if idx.replace {
		return newBuilder(nil)
	}
	return newBuilder(idx.load())
}

// Publish swaps b in as the live snapshot. b must not be used afterwards.
func (idx *Index) Publish(b *Builder) {
	b.published = true
	s := b.records
	b.records = nil
	idx.current.Store(&s)
}

func (idx *Index) load() snapshot {
	return *idx.current.Load()
}

// Lookup returns the record of pkg.
func (idx *Index) Lookup(pkg string) (Record, bool) {
	r, ok := idx.load()[pkg]
	if !ok {
		return Record{}, false
	}
	return r.view(), true
}

// LookupVersion returns the sorted advisory ids affecting pkg at version. An
// unknown package or version yields an empty slice.
func (idx *Index) LookupVersion(pkg, version string) []string {
	r, ok := idx.load()[pkg]
	if !ok {
		return []string{}
	}
	ids, ok := r.versions[version]
	if !ok {
		return []string{}
	}
	return sortedIDs(ids)
}

// Packages returns the sorted package names of the published snapshot.
func (idx *Index) Packages() []string {
	names := lo.Keys(idx.load())
	sort.Strings(names)
	return names
}

func (idx *Index) Len() int {
	return len(idx.load())
}
