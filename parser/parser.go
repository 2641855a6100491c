// Package parser turns one feed document into a forward-only stream of events.
package parser

import (
	"encoding/xml"
	"fmt"
	"io"

	"golang.org/x/net/html/charset"
	"golang.org/x/xerrors"
)

type EventKind int

const (
	StartElement EventKind = iota + 1
	CharData
)

func (k EventKind) String() string {
	switch k {
	case StartElement:
		return "StartElement"
	case CharData:
		return "CharData"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is either an element start (Name, Attrs) or a run of character data (Text).
// Names are qualified exactly as written in the document, e.g. "vuln:product".
type Event struct {
	Kind  EventKind
	Name  string
	Attrs map[string]string
	Text  string
}

// ParseError reports malformed markup. Events returned before it remain valid.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error on line %d: %s", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parser is single pass and not safe for concurrent use.
type Parser struct {
	decoder *xml.Decoder
	stack   []string
	err     error
}

func New(r io.Reader) *Parser {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charset.NewReaderLabel
	return &Parser{decoder: decoder}
}

// Next returns the next event in document order, io.EOF once the document
// is complete, a *ParseError for malformed markup, or the error of the
// underlying reader. Errors are sticky.
func (p *Parser) Next() (Event, error) {
	if p.err != nil {
		return Event{}, p.err
	}
	for {
		tok, err := p.decoder.RawToken()
		if err == io.EOF {
			if len(p.stack) > 0 {
				return Event{}, p.fail(xerrors.Errorf("unexpected EOF: element <%s> not closed", p.stack[len(p.stack)-1]))
			}
			p.err = io.EOF
			return Event{}, io.EOF
		} else if err != nil {
			if _, ok := err.(*xml.SyntaxError); !ok {
				// reader failures are returned as is
				p.err = err
				return Event{}, err
			}
			return Event{}, p.fail(err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := qualified(t.Name)
			p.stack = append(p.stack, name)
			attrs := make(map[string]string, len(t.Attr))
			for _, a := range t.Attr {
				attrs[qualified(a.Name)] = a.Value
			}
			return Event{Kind: StartElement, Name: name, Attrs: attrs}, nil
		case xml.EndElement:
			name := qualified(t.Name)
			if len(p.stack) == 0 {
				return Event{}, p.fail(xerrors.Errorf("unexpected end element </%s>", name))
			}
			if open := p.stack[len(p.stack)-1]; open != name {
				return Event{}, p.fail(xerrors.Errorf("element <%s> closed by </%s>", open, name))
			}
			p.stack = p.stack[:len(p.stack)-1]
		case xml.CharData:
			return Event{Kind: CharData, Text: string(t)}, nil
		}
	}
}

func (p *Parser) fail(err error) error {
	line, _ := p.decoder.InputPos()
	if se, ok := err.(*xml.SyntaxError); ok {
		line = se.Line
		err = xerrors.New(se.Msg)
	}
	p.err = &ParseError{Line: line, Err: err}
	return p.err
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}
