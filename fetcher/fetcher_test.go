package fetcher_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasecurity/vuln-index/fetcher"
)

func TestFetcher_Fetch(t *testing.T) {
	want, err := os.ReadFile("testdata/feed.xml")
	require.NoError(t, err)

	tests := []struct {
		name           string
		prefix         string
		path           string
		statuses       []int
		retry          int
		wantRequests   int32
		wantStatusCode int
		wantErr        string
	}{
		{
			name:         "happy path",
			path:         "/feeds/feed.xml",
			wantRequests: 1,
		},
		{
			name:         "gzip",
			path:         "/feeds/feed.xml.gz",
			wantRequests: 1,
		},
		{
			// go-getter issues its own HEAD request, so the count is not checked
			name: "zip archive",
			path: "/feeds/feed.xml.zip",
		},
		{
			name:   "forced getter source",
			prefix: "getter::",
			path:   "/feeds/feed.xml.zip",
		},
		{
			name:           "not found is not retried",
			path:           "/feeds/feed.xml",
			statuses:       []int{http.StatusNotFound},
			retry:          3,
			wantRequests:   1,
			wantStatusCode: http.StatusNotFound,
			wantErr:        "HTTP status code 404",
		},
		{
			name:         "unavailable then ok",
			path:         "/feeds/feed.xml",
			statuses:     []int{http.StatusServiceUnavailable, http.StatusTooManyRequests},
			retry:        2,
			wantRequests: 3,
		},
		{
			name:           "retries exhausted",
			path:           "/feeds/feed.xml",
			statuses:       []int{http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway},
			retry:          1,
			wantRequests:   2,
			wantStatusCode: http.StatusBadGateway,
			wantErr:        "HTTP status code 502",
		},
		{
			name:         "broken gzip",
			path:         "/feeds/broken.xml.gz",
			wantRequests: 1,
			wantErr:      "failed to decompress",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests atomic.Int32
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(requests.Add(1))
				if n <= len(tt.statuses) {
					w.WriteHeader(tt.statuses[n-1])
					return
				}
				http.ServeFile(w, r, filepath.Join("testdata", filepath.Base(r.URL.Path)))
			}))
			defer ts.Close()

			f := fetcher.New(fetcher.WithRetry(tt.retry), fetcher.WithRetryWait(time.Millisecond))
			rc, err := f.Fetch(context.Background(), tt.prefix+ts.URL+tt.path)
			if tt.wantRequests != 0 {
				assert.Equal(t, tt.wantRequests, requests.Load())
			}
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)

				var ferr *fetcher.FetchError
				require.ErrorAs(t, err, &ferr)
				assert.Equal(t, tt.wantStatusCode, ferr.StatusCode)
				assert.Equal(t, ts.URL+tt.path, ferr.Source)
				return
			}
			require.NoError(t, err)
			defer rc.Close()

			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, string(want), string(got))
		})
	}
}

func TestFetcher_FetchLocal(t *testing.T) {
	want, err := os.ReadFile("testdata/feed.xml")
	require.NoError(t, err)

	abs, err := filepath.Abs("testdata/feed.xml.gz")
	require.NoError(t, err)

	for _, source := range []string{"testdata/feed.xml", "file://" + abs} {
		t.Run(source, func(t *testing.T) {
			rc, err := fetcher.New().Fetch(context.Background(), source)
			require.NoError(t, err)
			defer rc.Close()

			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, string(want), string(got))
		})
	}

	_, err = fetcher.New().Fetch(context.Background(), "testdata/missing.xml")
	var ferr *fetcher.FetchError
	require.ErrorAs(t, err, &ferr)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFetcher_Timeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow-body.xml" {
			w.Write([]byte("<nvd>"))
			w.(http.Flusher).Flush()
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	f := fetcher.New(fetcher.WithTimeout(50 * time.Millisecond))

	t.Run("no response", func(t *testing.T) {
		_, err := f.Fetch(context.Background(), ts.URL+"/slow.xml")
		var ferr *fetcher.FetchError
		require.ErrorAs(t, err, &ferr)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("stalled body", func(t *testing.T) {
		rc, err := f.Fetch(context.Background(), ts.URL+"/slow-body.xml")
		require.NoError(t, err)
		defer rc.Close()

		_, err = io.ReadAll(rc)
		require.Error(t, err)
	})

	t.Run("siblings are independent", func(t *testing.T) {
		ok := httptest.NewServer(http.FileServer(http.Dir("testdata")))
		defer ok.Close()

		_, err := f.Fetch(context.Background(), ts.URL+"/slow.xml")
		require.Error(t, err)

		rc, err := f.Fetch(context.Background(), ok.URL+"/feed.xml")
		require.NoError(t, err)
		rc.Close()
	})
}
