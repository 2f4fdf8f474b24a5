package wikicounts

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Record is a single row. Values are aligned with a Schema and are one of
// string, int32, int64 or nil.
type Record []interface{}

// Source is the interface for getting records one at a time. Record returns
// io.EOF once the source is exhausted.
type Source interface {
	Record() (Record, error)
}

// SliceSource is a Source over records held in memory.
type SliceSource struct {
	recs []Record
	i    int
}

// NewSliceSource gets a Source which returns recs in order.
func NewSliceSource(recs ...Record) *SliceSource {
	return &SliceSource{recs: recs}
}

// Record implements Source.
func (s *SliceSource) Record() (Record, error) {
	if s.i >= len(s.recs) {
		return nil, io.EOF
	}
	s.i++
	return s.recs[s.i-1], nil
}

// Parser reads delimited text against a fixed Schema. It never rejects a
// line: a missing field or one that does not match its column type becomes
// nil, and extra fields are dropped.
type Parser struct {
	r      *bufio.Reader
	schema Schema
	delim  string
	log    Logger
	stats  Statter

	records   int64
	malformed int64
	line      int64
	done      bool
}

// ParserOption is a functional option type for Parser.
type ParserOption func(p *Parser)

// OptParserLogger sets the Logger which receives malformed line reports.
func OptParserLogger(l Logger) ParserOption {
	return func(p *Parser) {
		p.log = l
	}
}

// OptParserStatter sets the Statter for a Parser.
func OptParserStatter(s Statter) ParserOption {
	return func(p *Parser) {
		p.stats = s
	}
}

// NewParser gets a Parser reading lines from r.
func NewParser(r io.Reader, schema Schema, delim string, opts ...ParserOption) *Parser {
	p := &Parser{
		r:      bufio.NewReaderSize(r, 1<<16),
		schema: schema,
		delim:  delim,
		log:    NopLogger{},
		stats:  NopStatter{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewArchiveParser gets a Parser configured with the schema and delimiter of
// the given archive.
func NewArchiveParser(r io.Reader, a *Archive, opts ...ParserOption) *Parser {
	return NewParser(r, a.Schema, a.Delimiter, opts...)
}

// Record implements Source. Blank lines are skipped.
func (p *Parser) Record() (Record, error) {
	for !p.done {
		line, err := p.r.ReadString('\n')
		if err == io.EOF {
			p.done = true
		} else if err != nil {
			return nil, errors.Wrapf(err, "reading line %d", p.line+1)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		p.line++
		return p.parseLine(line), nil
	}
	return nil, io.EOF
}

func (p *Parser) parseLine(line string) Record {
	fields := strings.Split(line, p.delim)
	rec := make(Record, len(p.schema.Columns))
	ok := len(fields) == len(p.schema.Columns)
	for i, col := range p.schema.Columns {
		if i >= len(fields) {
			break
		}
		val, err := col.Type.Parse(fields[i])
		if err != nil {
			ok = false
			p.log.Debugf("line %d: column %s: %v", p.line, col.Name, err)
			continue
		}
		rec[i] = val
	}
	p.records++
	p.stats.Count("parser.records", 1, 1)
	if !ok {
		p.malformed++
		p.stats.Count("parser.malformed", 1, 1)
		p.log.Debugf("line %d: malformed, got %d fields, want %d", p.line, len(fields), len(p.schema.Columns))
	}
	return rec
}

// Records returns the number of records parsed so far.
func (p *Parser) Records() int64 { return p.records }

// Malformed returns the number of records parsed so far which had missing,
// extra, or unparseable fields.
func (p *Parser) Malformed() int64 { return p.malformed }
