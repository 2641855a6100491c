package utils

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parnurzeal/gorequest"
	"golang.org/x/xerrors"
)

var cacheDir string

func CacheDir() string {
	if cacheDir != "" {
		return cacheDir
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "vuln-index")
}

// SetCacheDir overrides the cache dir. Tests use it to point at a temp dir.
func SetCacheDir(dir string) {
	cacheDir = dir
}

// TrimSpaceNewline deletes space character and newline character(CR/LF)
func TrimSpaceNewline(str string) string {
	str = strings.TrimSpace(str)
	return strings.Trim(str, "\r\n")
}

// FetchURL returns HTTP response body with retry. Waiting between attempts
// and each attempt stop as soon as ctx is done.
func FetchURL(ctx context.Context, url, apikey string, retry int) (res []byte, err error) {
	for i := 0; i <= retry; i++ {
		if i > 0 {
			wait := math.Pow(float64(i), 2) + float64(randInt()%10)
			Logger().Infof("retry after %f seconds", wait)
			select {
			case <-ctx.Done():
				return nil, xerrors.Errorf("failed to fetch URL: %w", ctx.Err())
			case <-time.After(time.Duration(wait) * time.Second):
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, xerrors.Errorf("failed to fetch URL: %w", ctxErr)
		}
		res, err = fetchURL(ctx, url, apikey)
		if err == nil {
			return res, nil
		}
	}
	return nil, xerrors.Errorf("failed to fetch URL: %w", err)
}

func randInt() int {
	seed, _ := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	return int(seed.Int64())
}

func fetchURL(ctx context.Context, url, apikey string) ([]byte, error) {
	req := gorequest.New().Get(url)
	if deadline, ok := ctx.Deadline(); ok {
		req.Timeout(time.Until(deadline))
	}
	if apikey != "" {
		req.Header.Add("api-key", apikey)
	}
	resp, body, errs := req.Type("text").EndBytes()
	if len(errs) > 0 {
		return nil, xerrors.Errorf("HTTP error. url: %s, err: %w", url, errs[0])
	}
	if resp.StatusCode != 200 {
		return nil, xerrors.Errorf("HTTP error. status code: %d, url: %s", resp.StatusCode, url)
	}
	return body, nil
}

func LookupEnv(key, defaultValue string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultValue
}
