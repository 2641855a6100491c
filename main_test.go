package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasecurity/vuln-index/index"
	"github.com/aquasecurity/vuln-index/types"
)

func TestPrintLookup(t *testing.T) {
	idx := index.New()
	b := idx.NewBuilder()
	b.Ingest(types.Fact{AdvisoryID: "CVE-2014-0094", Vendor: "apache", Package: "struts", Version: "2.3.15"})
	idx.Publish(b)

	tests := []struct {
		name    string
		pkg     string
		version string
		want    string
	}{
		{
			name: "package",
			pkg:  "struts",
			want: "{\n  \"vendor\": \"apache\",\n  \"versions\": {\n    \"2.3.15\": [\n      \"CVE-2014-0094\"\n    ]\n  }\n}\n",
		},
		{
			name:    "version",
			pkg:     "struts",
			version: "2.3.15",
			want:    "[\n  \"CVE-2014-0094\"\n]\n",
		},
		{
			name:    "unknown version",
			pkg:     "struts",
			version: "9.9.9",
			want:    "[]\n",
		},
		{
			name: "unknown package",
			pkg:  "log4j",
			want: "{}\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, printLookup(&buf, idx, tt.pkg, tt.version))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}
