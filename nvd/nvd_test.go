package nvd_test

import (
	"context"
	"crypto/sha256"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasecurity/vuln-index/nvd"
)

func TestDefaultSources(t *testing.T) {
	sources := nvd.DefaultSources()
	require.Len(t, sources, 12)
	assert.Equal(t, "https://nvd.nist.gov/static/feeds/xml/cve/nvdcve-2.0-2002.xml", sources[0])
	assert.Equal(t, "https://nvd.nist.gov/static/feeds/xml/cve/nvdcve-2.0-2013.xml", sources[11])
}

func TestMetaURL(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{source: "https://nvd.nist.gov/static/feeds/xml/cve/nvdcve-2.0-2013.xml", want: "https://nvd.nist.gov/static/feeds/xml/cve/nvdcve-2.0-2013.meta"},
		{source: "https://nvd.nist.gov/feeds/xml/cve/2.0/nvdcve-2.0-2013.xml.gz", want: "https://nvd.nist.gov/feeds/xml/cve/2.0/nvdcve-2.0-2013.meta"},
		{source: "getter::https://nvd.nist.gov/feeds/xml/cve/2.0/nvdcve-2.0-2013.xml.zip", want: "https://nvd.nist.gov/feeds/xml/cve/2.0/nvdcve-2.0-2013.meta"},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.want, nvd.MetaURL(tt.source))
		})
	}
}

func TestParseMeta(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    nvd.Meta
		wantErr string
	}{
		{
			name: "happy path",
			input: "lastModifiedDate:2013-12-05T03:00:57-05:00\r\nsize:26851093\r\nzipSize:1881436\r\n" +
				"gzSize:1881298\r\nsha256:0A0B\r\n",
			want: nvd.Meta{
				LastModifiedDate: time.Date(2013, 12, 5, 8, 0, 57, 0, time.UTC),
				Size:             26851093,
				SHA256:           []byte{0x0a, 0x0b},
			},
		},
		{
			name:    "missing sha256",
			input:   "size:1\n",
			wantErr: "no sha256 in meta",
		},
		{
			name:    "broken line",
			input:   "sha256\n",
			wantErr: "invalid meta line",
		},
		{
			name:    "broken size",
			input:   "size:big\nsha256:0A\n",
			wantErr: "invalid size",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := nvd.ParseMeta([]byte(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.LastModifiedDate.Equal(got.LastModifiedDate))
			assert.Equal(t, tt.want.Size, got.Size)
			assert.Equal(t, tt.want.SHA256, got.SHA256)
		})
	}
}

func TestFetchMeta(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/nvdcve-2.0-2013.meta" {
			http.NotFound(w, r)
			return
		}
		b, err := os.ReadFile("testdata/nvdcve-2.0-2013.meta")
		require.NoError(t, err)
		w.Write(b)
	}))
	defer ts.Close()

	meta, err := nvd.FetchMeta(context.Background(), ts.URL+"/nvdcve-2.0-2013.meta")
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("<nvd></nvd>\n"))
	assert.NoError(t, meta.Verify(sum[:]))

	other := sha256.Sum256([]byte("<nvd/>"))
	err = meta.Verify(other[:])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sha256 mismatch")
}
