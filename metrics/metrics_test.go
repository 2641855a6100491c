package metrics_test

import (
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasecurity/vuln-index/metrics"
)

func TestCollector(t *testing.T) {
	c := metrics.New()
	c.FetchErrors.Inc()
	c.SkippedConfigurations.WithLabelValues(metrics.ReasonMalformed).Add(3)
	c.Cycles.WithLabelValues("success").Inc()
	c.Packages.Set(42)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.FetchErrors))
	assert.Equal(t, float64(3), testutil.ToFloat64(c.SkippedConfigurations.WithLabelValues(metrics.ReasonMalformed)))

	// collectors are independent of each other
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.New().FetchErrors))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "vuln_index_packages 42")
	assert.Contains(t, string(body), `vuln_index_cycles_total{result="success"} 1`)
}

func TestCollector_WriteTextfile(t *testing.T) {
	c := metrics.New()
	c.Facts.Add(5)

	path := filepath.Join(t.TempDir(), "vuln_index.prom")
	require.NoError(t, c.WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "vuln_index_facts_total 5")
}
