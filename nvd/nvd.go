package nvd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-index/utils"
)

const (
	baseURL   = "https://nvd.nist.gov/static/feeds/xml/cve"
	firstYear = 2002
	lastYear  = 2013
	retry     = 3
)

// DefaultSources returns the year partitioned NVD XML 2.0 feeds.
func DefaultSources() []string {
	var sources []string
	for year := firstYear; year <= lastYear; year++ {
		sources = append(sources, fmt.Sprintf("%s/nvdcve-2.0-%d.xml", baseURL, year))
	}
	return sources
}

// Meta is the content of a feed's .meta document.
type Meta struct {
	LastModifiedDate time.Time
	Size             int64
	SHA256           []byte
}

// MetaURL returns the .meta location of a feed source,
// e.g. ".../nvdcve-2.0-2013.xml.gz" => ".../nvdcve-2.0-2013.meta".
func MetaURL(source string) string {
	u := strings.TrimPrefix(source, "getter::")
	for _, ext := range []string{".gz", ".zip", ".xml"} {
		u = strings.TrimSuffix(u, ext)
	}
	return u + ".meta"
}

// FetchMeta downloads and parses the .meta document at url.
func FetchMeta(ctx context.Context, url string) (Meta, error) {
	b, err := utils.FetchURL(ctx, url, "", retry)
	if err != nil {
		return Meta{}, xerrors.Errorf("unable to fetch %s: %w", url, err)
	}
	meta, err := ParseMeta(b)
	if err != nil {
		return Meta{}, xerrors.Errorf("unable to parse %s: %w", url, err)
	}
	return meta, nil
}

// ParseMeta parses "key:value" lines. Unknown keys are ignored.
func ParseMeta(b []byte) (Meta, error) {
	var meta Meta
	scanner := bufio.NewScanner(bytes.NewReader(b))
	for scanner.Scan() {
		line := utils.TrimSpaceNewline(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return Meta{}, xerrors.Errorf("invalid meta line: %q", line)
		}

		var err error
		switch key {
		case "lastModifiedDate":
			meta.LastModifiedDate, err = dateparse.ParseAny(value)
		case "size":
			meta.Size, err = strconv.ParseInt(value, 10, 64)
		case "sha256":
			meta.SHA256, err = hex.DecodeString(value)
		}
		if err != nil {
			return Meta{}, xerrors.Errorf("invalid %s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return Meta{}, err
	}
	if len(meta.SHA256) == 0 {
		return Meta{}, xerrors.New("no sha256 in meta")
	}
	return meta, nil
}

// Verify compares a SHA-256 sum of the decompressed feed with the meta.
func (m Meta) Verify(sum []byte) error {
	if !bytes.Equal(m.SHA256, sum) {
		return xerrors.Errorf("sha256 mismatch: want %X, got %X", m.SHA256, sum)
	}
	return nil
}
