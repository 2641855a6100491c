// Package extractor derives advisory facts from the event stream of one feed document.
//
// The capture window is one-shot: a "vuln:product" start arms capture for the
// very next character data event, and every other element start disarms it.
// Text that is not directly after a product start is therefore never read as a
// configuration string, even when it sits inside a product element.
package extractor

import (
	"context"
	"io"
	"strings"

	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-index/parser"
	"github.com/aquasecurity/vuln-index/types"
)

const (
	entryElement   = "entry"
	productElement = "vuln:product"
	idAttr         = "id"

	// version segments are concatenated without a separator
	versionSeparator = ""
)

type state int

const (
	idle state = iota
	inEntry
	expectingConfiguration
)

// Stats counts what happened to the configuration strings of one document.
type Stats struct {
	Entries   int
	Facts     int
	Malformed int // fewer than 4 segments
	Rejected  int // parsed, but empty package/version or bad advisory id
}

// Extractor holds the state of a single document pass. Use a new one per document.
type Extractor struct {
	state      state
	advisoryID string
	stats      Stats
}

func New() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Stats() Stats {
	return e.stats
}

// Handle feeds one event into the state machine and returns a fact when the
// event completed a valid one.
func (e *Extractor) Handle(ev parser.Event) (types.Fact, bool) {
	switch ev.Kind {
	case parser.StartElement:
		switch {
		case ev.Name == entryElement:
			e.state = inEntry
			e.advisoryID = ev.Attrs[idAttr]
			e.stats.Entries++
		case ev.Name == productElement && e.state != idle:
			e.state = expectingConfiguration
		case e.state == expectingConfiguration:
			e.state = inEntry
		}
	case parser.CharData:
		if e.state != expectingConfiguration {
			return types.Fact{}, false
		}
		e.state = inEntry

		vendor, pkg, version, ok := ParseConfiguration(ev.Text)
		if !ok {
			e.stats.Malformed++
			return types.Fact{}, false
		}
		fact := types.Fact{
			AdvisoryID: e.advisoryID,
			Vendor:     vendor,
			Package:    pkg,
			Version:    version,
		}
		if !fact.Valid() {
			e.stats.Rejected++
			return types.Fact{}, false
		}
		e.stats.Facts++
		return fact, true
	}
	return types.Fact{}, false
}

// ParseConfiguration splits a configuration string such as
// "cpe:/a:apache:struts:2.3.15" into vendor, product and version. Everything
// after the product segment belongs to the version.
func ParseConfiguration(s string) (vendor, pkg, version string, ok bool) {
	segments := strings.Split(s, ":")
	if len(segments) < 4 {
		return "", "", "", false
	}
	return segments[2], segments[3], strings.Join(segments[4:], versionSeparator), true
}

// Extract drives p to the end of the document, calling emit for every fact.
// Cancellation is checked at each entry boundary. A *parser.ParseError is
// returned as is; facts emitted before it stand.
func (e *Extractor) Extract(ctx context.Context, p *parser.Parser, emit func(types.Fact)) error {
	for {
		ev, err := p.Next()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		if ev.Kind == parser.StartElement && ev.Name == entryElement {
			if err = ctx.Err(); err != nil {
				return xerrors.Errorf("extraction interrupted at %s: %w", ev.Attrs[idAttr], err)
			}
		}

		if fact, ok := e.Handle(ev); ok {
			emit(fact)
		}
	}
}
