package wikicounts_test

import (
	"testing"

	"github.com/pilosa/wikicounts"
	"github.com/pilosa/wikicounts/mock"
	"github.com/pilosa/wikicounts/test"
)

func pagecountsWindow(t *testing.T) wikicounts.Window {
	return wikicounts.Pagecounts.Window(mustRef(t, "2021-06-02T00:00:00.000000+00:00"))
}

func TestNormalizePagecounts(t *testing.T) {
	w := pagecountsWindow(t)
	rs := &mock.RecordingStatter{}
	n, err := wikicounts.NewNormalizer(w,
		wikicounts.OptNormalizerIDs(wikicounts.NewNexter(wikicounts.NexterPrefix("id-"))),
		wikicounts.OptNormalizerStatter(rs))
	test.ErrNil(t, err, "NewNormalizer")

	src := wikicounts.NewSliceSource(
		wikicounts.Record{"en", "Main_Page", int32(42), "0"},
		wikicounts.Record{"en", "Main_Page", int32(17), "0"},
		wikicounts.Record{"de", "Main_Page", int32(3), "0"},
		wikicounts.Record{"en", "Other", nil, "0"},
	)
	recs := readAll(t, n.Source(src))

	test.MustBe(t, []wikicounts.Record{
		{"id-0", "en", "Main_Page", int64(1622505600), int32(42), "2021-06-01"},
		{"id-1", "de", "Main_Page", int64(1622505600), int32(3), "2021-06-01"},
		{"id-2", "en", "Other", int64(1622505600), nil, "2021-06-01"},
	}, recs)
	test.MustBe(t, int64(3), n.Kept(), "kept")
	test.MustBe(t, int64(1), n.Duplicates(), "duplicates")
	test.MustBe(t, int64(1), rs.Counts["normalizer.duplicates"], "duplicates stat")
}

func TestNormalizeNullKeys(t *testing.T) {
	n, err := wikicounts.NewNormalizer(pagecountsWindow(t))
	test.ErrNil(t, err, "NewNormalizer")

	recs := readAll(t, n.Source(wikicounts.NewSliceSource(
		wikicounts.Record{"en", nil, int32(1), nil},
		wikicounts.Record{"en", nil, int32(2), nil},
		wikicounts.Record{"en", "", int32(3), nil},
		wikicounts.Record{nil, nil, nil, nil},
	)))
	if len(recs) != 3 {
		t.Fatalf("expected nulls to compare equal to each other only, got %d records", len(recs))
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	w := pagecountsWindow(t)
	in := []wikicounts.Record{
		{"en", "A", int32(1), "0"},
		{"en", "B", int32(2), "0"},
		{"en", "A", int32(1), "0"},
		{"fr", "A", int32(5), "0"},
	}
	stripIDs := func(recs []wikicounts.Record) []wikicounts.Record {
		for _, rec := range recs {
			if _, ok := rec[0].(string); !ok {
				t.Fatalf("expected string id, got %#v", rec[0])
			}
			rec[0] = nil
		}
		return recs
	}

	n1, err := wikicounts.NewNormalizer(w)
	test.ErrNil(t, err, "NewNormalizer")
	first := stripIDs(readAll(t, n1.Source(wikicounts.NewSliceSource(in...))))

	second := stripIDs(readAll(t, mustNormalizer(t, w).Source(wikicounts.NewSliceSource(in...))))

	if len(first) != 3 {
		t.Fatalf("expected 3 distinct records, got %d", len(first))
	}
	test.MustBe(t, first, second)
}

func mustNormalizer(t *testing.T, w wikicounts.Window) *wikicounts.Normalizer {
	t.Helper()
	n, err := wikicounts.NewNormalizer(w)
	test.ErrNil(t, err, "NewNormalizer")
	return n
}

func TestNormalizeMediacounts(t *testing.T) {
	w := wikicounts.Mediacounts.Window(mustRef(t, "2021-06-03T00:00:00Z"))
	s := wikicounts.MediacountsSchema
	rec := func(filename string, bytes int64) wikicounts.Record {
		r := make(wikicounts.Record, len(s.Columns))
		for i, c := range s.Columns {
			if c.Reserved() {
				r[i] = "-"
			} else if c.Type == wikicounts.Int32 {
				r[i] = int32(i)
			}
		}
		r[s.Index("filename")] = filename
		r[s.Index("total_response_bytes")] = bytes
		return r
	}
	n := mustNormalizer(t, w)
	out := readAll(t, n.Source(wikicounts.NewSliceSource(
		rec("/a.jpg", 10),
		rec("/b.jpg", 20),
		rec("/a.jpg", 30),
	)))
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}

	outSchema, err := wikicounts.Mediacounts.OutputSchema()
	test.ErrNil(t, err, "OutputSchema")
	for _, r := range out {
		if len(r) != len(outSchema.Columns) {
			t.Fatalf("expected %d values, got %d", len(outSchema.Columns), len(r))
		}
		for _, v := range r {
			if v == "-" {
				t.Fatalf("reserved column leaked into output: %#v", r)
			}
		}
		test.MustBe(t, "2021-06-01", r[outSchema.Index("date")], "date")
		test.MustBe(t, "2021-06-01", r[outSchema.Index("_date")], "_date")
		test.MustBe(t, int32(s.Index("transfers_from_wmf_domain")), r[outSchema.Index("transfers_from_wmf_domain")])
	}
	test.MustBe(t, int64(20), out[1][outSchema.Index("total_response_bytes")])
}

func TestNormalizeKeySetError(t *testing.T) {
	n, err := wikicounts.NewNormalizer(pagecountsWindow(t), wikicounts.OptNormalizerKeySet(failingKeySet{}))
	test.ErrNil(t, err, "NewNormalizer")
	_, _, err = n.Normalize(wikicounts.Record{"en", "A", int32(1), "0"})
	if !wikicounts.IsStorageError(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

type failingKeySet struct{}

func (failingKeySet) Add(key []byte) (bool, error) { return false, errBoom }
func (failingKeySet) Close() error                 { return nil }
