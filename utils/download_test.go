package utils_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasecurity/vuln-index/utils"
)

func TestDownloadToTempFile(t *testing.T) {
	tests := []struct {
		name     string
		filePath string
		want     string
		wantErr  string
	}{
		{
			name:     "happy path",
			filePath: "testdata/test.txt.gz",
			want:     "test",
		},
		{
			name:     "zip archive",
			filePath: "testdata/test.txt.zip",
			want:     "test",
		},
		{
			name:     "sad path",
			filePath: "testdata/unknown.txt.gz",
			wantErr:  "bad response code: 404",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.ServeFile(w, r, filepath.Join(".", r.URL.Path))
			}))
			defer ts.Close()

			u, err := url.Parse(ts.URL)
			require.NoError(t, err)

			u.Path = path.Join(u.Path, tt.filePath)
			tmpDir := t.TempDir()
			t.Setenv("TMPDIR", tmpDir)

			tmpFile, err := utils.DownloadToTempFile(context.Background(), u.String())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)

				// the temp file does not outlive a failed download
				entries, err := os.ReadDir(tmpDir)
				require.NoError(t, err)
				assert.Empty(t, entries)
				return
			}
			assert.NoError(t, err)

			got, err := os.ReadFile(tmpFile)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}
