package wikicounts

import (
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"io/ioutil"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultArchiveURL is the root of Wikimedia's "other" dumps.
const DefaultArchiveURL = "https://dumps.wikimedia.org/other"

// Compression identifies how an archive file is compressed.
type Compression string

// Supported archive compressions.
const (
	Gzip  Compression = "gzip"
	Bzip2 Compression = "bzip2"
)

// Archive describes one of the upstream dumps this package knows how to
// ingest. Everything which differs between the hourly and daily pipelines is
// captured here so that the rest of the pipeline can be shared.
type Archive struct {
	// Name is used as the top level directory in the destination store.
	Name string

	// Lag is subtracted from the reference time to stay behind upstream's
	// publication schedule.
	Lag time.Duration

	// Granularity is the period covered by one archive file.
	Granularity time.Duration

	Delimiter   string
	Compression Compression
	Schema      Schema

	// Output lists the columns of a normalized record, in order.
	Output []string

	// Key lists the output columns which identify one logical record.
	Key []string

	// Partition is the output column the dataset is partitioned by.
	Partition string

	// LandingDir and DatasetDir are the directories, below Name, holding
	// the raw archives and the partitioned dataset.
	LandingDir string
	DatasetDir string

	remotePath func(t time.Time) string
}

// Pagecounts is the hourly pageviews archive.
var Pagecounts = &Archive{
	Name:        "pagecounts",
	Lag:         24 * time.Hour,
	Granularity: time.Hour,
	Delimiter:   " ",
	Compression: Gzip,
	Schema:      PagecountsSchema,
	Output:      []string{"id", "project_name", "article_name", "interval_start_unixtime", "count", "date"},
	Key:         []string{"project_name", "article_name", "interval_start_unixtime"},
	Partition:   "date",
	LandingDir:  "gz",
	DatasetDir:  "pq",
	remotePath: func(t time.Time) string {
		return fmt.Sprintf("pageviews/%04d/%04d-%02d/pageviews-%04d%02d%02d-%02d0000.gz",
			t.Year(), t.Year(), t.Month(), t.Year(), t.Month(), t.Day(), t.Hour())
	},
}

// Mediacounts is the daily mediacounts archive.
var Mediacounts = &Archive{
	Name:        "mediacounts",
	Lag:         48 * time.Hour,
	Granularity: 24 * time.Hour,
	Delimiter:   "\t",
	Compression: Bzip2,
	Schema:      MediacountsSchema,
	Output: []string{
		"id",
		"filename",
		"_date",
		"total_response_bytes",
		"total_transfers_all",
		"total_transfers_restricted",
		"total_transfers_transcoded_audio",
		"total_transfers_transcoded_image",
		"total_transfers_transcoded_mov",
		"transfers_from_wmf_domain",
		"transfers_from_non_wmf_domain",
		"transfers_from_invalid_domain",
		"date",
	},
	Key:        []string{"date", "filename"},
	Partition:  "date",
	LandingDir: "bz",
	DatasetDir: "pq",
	remotePath: func(t time.Time) string {
		return fmt.Sprintf("mediacounts/daily/%04d/mediacounts.%04d-%02d-%02d.v00.tsv.bz2",
			t.Year(), t.Year(), t.Month(), t.Day())
	},
}

// Archives maps archive names to their descriptions.
var Archives = map[string]*Archive{
	Pagecounts.Name:  Pagecounts,
	Mediacounts.Name: Mediacounts,
}

// OutputSchema returns the schema of a normalized record.
func (a *Archive) OutputSchema() (Schema, error) {
	s := Schema{Version: a.Schema.Version, Columns: make([]Column, 0, len(a.Output))}
	for _, name := range a.Output {
		if c, ok := derivedColumns[name]; ok {
			s.Columns = append(s.Columns, c)
			continue
		}
		i := a.Schema.Index(name)
		if i < 0 {
			return Schema{}, errors.Errorf("output column %s is not in the %s schema", name, a.Name)
		}
		if a.Schema.Columns[i].Reserved() {
			return Schema{}, errors.Errorf("reserved column %s may not be output", name)
		}
		s.Columns = append(s.Columns, a.Schema.Columns[i])
	}
	return s, nil
}

// Decompress wraps r in the archive's decompressor.
func (a *Archive) Decompress(r io.Reader) (io.ReadCloser, error) {
	switch a.Compression {
	case Gzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "opening gzip stream")
		}
		return gz, nil
	case Bzip2:
		return ioutil.NopCloser(bzip2.NewReader(r)), nil
	}
	return nil, errors.Errorf("unsupported compression '%s'", a.Compression)
}

// Window returns the archive window to process for the reference time ref.
func (a *Archive) Window(ref time.Time) Window {
	return Window{
		Archive: a,
		Start:   ref.UTC().Add(-a.Lag).Truncate(a.Granularity),
	}
}

// Window is the calendar period covered by a single upstream archive file.
type Window struct {
	Archive *Archive
	Start   time.Time
}

// String formats the window at the archive's granularity, e.g. 2021-06-01T00
// for hourly archives and 2021-06-01 for daily ones.
func (w Window) String() string {
	if w.Archive.Granularity < 24*time.Hour {
		return w.Start.Format("2006-01-02T15")
	}
	return w.Date()
}

// Date is the value of the partition column for this window.
func (w Window) Date() string {
	return w.Start.Format("2006-01-02")
}

// IntervalStart is the start of the window in Unix seconds.
func (w Window) IntervalStart() int64 {
	return w.Start.Unix()
}

// URL returns the location of the window's archive below base.
func (w Window) URL(base string) string {
	return strings.TrimRight(base, "/") + "/" + w.Archive.remotePath(w.Start)
}

// Filename is the upstream name of the window's archive file.
func (w Window) Filename() string {
	return path.Base(w.Archive.remotePath(w.Start))
}

// LandingKey is the store key of the raw archive.
func (w Window) LandingKey() string {
	return path.Join(w.Archive.Name, w.Archive.LandingDir, w.Filename())
}

// PartitionKey is the store prefix holding the window's date partition.
func (w Window) PartitionKey() string {
	return path.Join(w.Archive.Name, w.Archive.DatasetDir, w.Archive.Partition+"="+w.Date())
}

// OutputKey is the store key of the window's slice of the dataset. Hourly
// windows share a date partition, so each window owns one object in it.
func (w Window) OutputKey() string {
	return path.Join(w.PartitionKey(), w.Archive.Name+"-"+w.String()+".parquet")
}

// referenceLayouts are tried in order by ParseReference. Both require an
// explicit offset.
var referenceLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
}

// ParseReference parses an ISO-8601 timestamp with a UTC offset, such as
// 2021-06-02T00:00:00.000000+00:00. An empty string returns now.
func ParseReference(s string, now func() time.Time) (time.Time, error) {
	if s == "" {
		return now().UTC(), nil
	}
	var err error
	for _, layout := range referenceLayouts {
		var t time.Time
		t, err = time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, &ParameterError{Param: "reference", Err: errors.Wrapf(err, "parsing '%s' as an ISO-8601 timestamp with offset", s)}
}
