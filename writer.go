package wikicounts

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// Writer writes normalized records to a Store as a date partitioned Parquet
// dataset. Each window is written as a single object below its partition, so
// rewriting a window replaces its previous output instead of adding to it,
// and readers never see a partially written window.
type Writer struct {
	store       Store
	scratch     string
	parallelism int64
	compression parquet.CompressionCodec
	log         Logger
	stats       Statter
}

// WriterOption is a functional option type for Writer.
type WriterOption func(w *Writer)

// OptWriterScratchDir sets the local directory Parquet files are staged in
// before upload. The default is the system temp directory.
func OptWriterScratchDir(dir string) WriterOption {
	return func(w *Writer) {
		w.scratch = dir
	}
}

// OptWriterParallelism sets the number of goroutines the Parquet encoder
// uses.
func OptWriterParallelism(np int64) WriterOption {
	return func(w *Writer) {
		if np > 0 {
			w.parallelism = np
		}
	}
}

// OptWriterCompression sets the Parquet compression codec. The default is
// Snappy.
func OptWriterCompression(c parquet.CompressionCodec) WriterOption {
	return func(w *Writer) {
		w.compression = c
	}
}

// OptWriterLogger sets the Logger for a Writer.
func OptWriterLogger(l Logger) WriterOption {
	return func(w *Writer) {
		w.log = l
	}
}

// OptWriterStatter sets the Statter for a Writer.
func OptWriterStatter(s Statter) WriterOption {
	return func(w *Writer) {
		w.stats = s
	}
}

// NewWriter gets a Writer which writes datasets to store.
func NewWriter(store Store, opts ...WriterOption) *Writer {
	w := &Writer{
		store:       store,
		parallelism: 4,
		compression: parquet.CompressionCodec_SNAPPY,
		log:         NopLogger{},
		stats:       NopStatter{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write drains src, which must yield records in the output layout of win's
// archive, into win.OutputKey(). It returns the number of records written.
// The partition column is encoded in the key rather than stored in the file.
func (w *Writer) Write(ctx context.Context, win Window, src Source) (n int64, err error) {
	schema, err := win.Archive.OutputSchema()
	if err != nil {
		return 0, errors.Wrap(err, "getting output schema")
	}
	part := schema.Index(win.Archive.Partition)
	md := parquetMetadata(schema, part)
	key := win.OutputKey()
	start := time.Now()

	tmp, err := ioutil.TempFile(w.scratch, "wikicounts-"+win.Archive.Name+"-*.parquet")
	if err != nil {
		return 0, &StorageError{Op: "creating scratch file", URI: w.scratch, Err: err}
	}
	tmpName := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpName)

	n, err = w.encode(tmpName, md, part, src)
	if err != nil {
		return n, err
	}
	w.stats.Count("writer.records", n, 1)
	w.stats.Timing("writer.encode", time.Since(start), 1)

	f, err := os.Open(tmpName)
	if err != nil {
		return n, &StorageError{Op: "opening staged output", URI: tmpName, Err: err}
	}
	defer f.Close()
	upStart := time.Now()
	if err := w.store.Put(ctx, key, f); err != nil {
		return n, &StorageError{Op: "uploading partition", URI: w.store.URI(key), Err: err}
	}
	w.stats.Timing("writer.upload", time.Since(upStart), 1)
	w.log.Printf("wrote %d records to %s in %v", n, w.store.URI(key), time.Since(start))
	return n, nil
}

func (w *Writer) encode(filename string, md []string, part int, src Source) (n int64, err error) {
	fw, err := local.NewLocalFileWriter(filename)
	if err != nil {
		return 0, &StorageError{Op: "opening staged output", URI: filename, Err: err}
	}
	defer func() {
		if cerr := fw.Close(); cerr != nil && err == nil {
			err = &StorageError{Op: "closing staged output", URI: filename, Err: cerr}
		}
	}()
	pw, err := writer.NewCSVWriter(md, fw, w.parallelism)
	if err != nil {
		return 0, errors.Wrap(err, "getting parquet writer")
	}
	pw.CompressionType = w.compression

	for {
		rec, err := src.Record()
		if err == io.EOF {
			break
		} else if err != nil {
			return n, err
		}
		// the encoder buffers rows by reference until a page is flushed
		row := make([]interface{}, 0, len(md))
		for i, v := range rec {
			if i != part {
				row = append(row, v)
			}
		}
		if err := pw.Write(row); err != nil {
			return n, &StorageError{Op: "encoding record", URI: filename, Err: err}
		}
		n++
	}
	if err := pw.WriteStop(); err != nil {
		return n, &StorageError{Op: "finishing parquet file", URI: filename, Err: err}
	}
	return n, nil
}

// parquetMetadata describes each column of s, except the one at skip, in the
// tag format understood by parquet-go.
func parquetMetadata(s Schema, skip int) []string {
	md := make([]string, 0, len(s.Columns))
	for i, c := range s.Columns {
		if i == skip {
			continue
		}
		var typ string
		switch c.Type {
		case String:
			typ = "type=BYTE_ARRAY, convertedtype=UTF8"
		case Int32:
			typ = "type=INT32"
		case Int64:
			typ = "type=INT64"
		}
		md = append(md, fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", c.Name, typ))
	}
	return md
}
