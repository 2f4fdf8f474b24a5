package wikicounts

import (
	"io"

	"github.com/pkg/errors"
)

// Normalizer turns parsed archive records into output records: it assigns
// each one an id, stamps the window's date and interval, projects down to
// the archive's output columns, and drops records whose uniqueness key has
// already been seen. The first record seen for a key is the one kept, but
// callers should not rely on which duplicate survives.
type Normalizer struct {
	window Window
	ids    IDGenerator
	keys   KeySet
	log    Logger
	stats  Statter

	project []func(rec Record) interface{}
	idIdx   int
	keyIdx  []int
	keyBuf  []byte
	keyVals []interface{}

	kept       int64
	duplicates int64
}

// NormalizerOption is a functional option type for Normalizer.
type NormalizerOption func(n *Normalizer)

// OptNormalizerIDs sets the IDGenerator. The default is UUIDGenerator.
func OptNormalizerIDs(ids IDGenerator) NormalizerOption {
	return func(n *Normalizer) {
		n.ids = ids
	}
}

// OptNormalizerKeySet sets the KeySet used for deduplication. The default is
// an in-memory MapKeySet.
func OptNormalizerKeySet(keys KeySet) NormalizerOption {
	return func(n *Normalizer) {
		n.keys = keys
	}
}

// OptNormalizerLogger sets the Logger for a Normalizer.
func OptNormalizerLogger(l Logger) NormalizerOption {
	return func(n *Normalizer) {
		n.log = l
	}
}

// OptNormalizerStatter sets the Statter for a Normalizer.
func OptNormalizerStatter(s Statter) NormalizerOption {
	return func(n *Normalizer) {
		n.stats = s
	}
}

// NewNormalizer gets a Normalizer for records of w's archive.
func NewNormalizer(w Window, opts ...NormalizerOption) (*Normalizer, error) {
	n := &Normalizer{
		window: w,
		ids:    UUIDGenerator{},
		idIdx:  -1,
		log:    NopLogger{},
		stats:  NopStatter{},
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.keys == nil {
		n.keys = NewMapKeySet()
	}
	a := w.Archive

	date := w.Date()
	interval := w.IntervalStart()
	n.project = make([]func(Record) interface{}, len(a.Output))
	for i, name := range a.Output {
		switch name {
		case "id":
			n.idIdx = i
			n.project[i] = func(Record) interface{} { return n.ids.NextID() }
		case "date", "_date":
			n.project[i] = func(Record) interface{} { return date }
		case "interval_start_unixtime":
			n.project[i] = func(Record) interface{} { return interval }
		default:
			idx := a.Schema.Index(name)
			if idx < 0 {
				return nil, errors.Errorf("output column %s is not in the %s schema", name, a.Name)
			}
			n.project[i] = func(rec Record) interface{} {
				if idx >= len(rec) {
					return nil
				}
				return rec[idx]
			}
		}
	}

	for _, k := range a.Key {
		found := false
		for i, name := range a.Output {
			if name == k {
				n.keyIdx = append(n.keyIdx, i)
				found = true
				break
			}
		}
		if !found {
			return nil, errors.Errorf("key column %s is not an output column of %s", k, a.Name)
		}
	}
	n.keyVals = make([]interface{}, len(n.keyIdx))
	return n, nil
}

// Normalize projects rec onto the output columns. keep is false if a record
// with the same uniqueness key has already been normalized, in which case
// out should be discarded.
func (n *Normalizer) Normalize(rec Record) (out Record, keep bool, err error) {
	out = make(Record, len(n.project))
	for i, f := range n.project {
		if i == n.idIdx {
			continue
		}
		out[i] = f(rec)
	}
	for i, idx := range n.keyIdx {
		n.keyVals[i] = out[idx]
	}
	n.keyBuf = AppendKey(n.keyBuf[:0], n.keyVals...)
	added, err := n.keys.Add(n.keyBuf)
	if err != nil {
		return nil, false, &StorageError{Op: "recording key", URI: "keyset", Err: err}
	}
	if !added {
		n.duplicates++
		n.stats.Count("normalizer.duplicates", 1, 1)
		return nil, false, nil
	}
	if n.idIdx >= 0 {
		out[n.idIdx] = n.ids.NextID()
	}
	n.kept++
	return out, true, nil
}

// Kept returns the number of records which survived deduplication.
func (n *Normalizer) Kept() int64 { return n.kept }

// Duplicates returns the number of records dropped as duplicates.
func (n *Normalizer) Duplicates() int64 { return n.duplicates }

// Source returns a Source of the normalized, deduplicated records of src.
func (n *Normalizer) Source(src Source) Source {
	return &normalizedSource{n: n, src: src}
}

type normalizedSource struct {
	n   *Normalizer
	src Source
}

func (s *normalizedSource) Record() (Record, error) {
	for {
		rec, err := s.src.Record()
		if err == io.EOF {
			return nil, io.EOF
		} else if err != nil {
			return nil, errors.Wrap(err, "reading record")
		}
		out, keep, err := s.n.Normalize(rec)
		if err != nil {
			return nil, err
		}
		if keep {
			return out, nil
		}
	}
}
