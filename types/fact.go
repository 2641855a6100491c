package types

import "regexp"

var advisoryIDPattern = regexp.MustCompile(`^CVE-\d{4}-\d+$`)

// Fact is one affected (vendor, package, version) tuple attributed to an advisory.
type Fact struct {
	AdvisoryID string `json:"advisory_id"`
	Vendor     string `json:"vendor"`
	Package    string `json:"package"`
	Version    string `json:"version"`
}

// Valid reports whether the fact may be stored in an index.
func (f Fact) Valid() bool {
	return f.Package != "" && f.Version != "" && ValidAdvisoryID(f.AdvisoryID)
}

// ValidAdvisoryID reports whether id looks like a CVE identifier.
func ValidAdvisoryID(id string) bool {
	return advisoryIDPattern.MatchString(id)
}
