package file_test

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pilosa/wikicounts/file"
	"github.com/pilosa/wikicounts/test"
	"github.com/pkg/errors"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := file.NewStore(filepath.Join(dir, "dest"))
	test.ErrNil(t, err, "NewStore")

	test.ErrNil(t, s.Put(ctx, "pagecounts/pq/date=2021-06-01/a.parquet", strings.NewReader("first")), "Put")
	test.ErrNil(t, s.Put(ctx, "pagecounts/pq/date=2021-06-01/a.parquet", strings.NewReader("second")), "Put again")
	test.ErrNil(t, s.Put(ctx, "pagecounts/gz/x.gz", strings.NewReader("gz")), "Put gz")

	rc, err := s.Get(ctx, "pagecounts/pq/date=2021-06-01/a.parquet")
	test.ErrNil(t, err, "Get")
	data, err := ioutil.ReadAll(rc)
	rc.Close()
	test.ErrNil(t, err, "reading")
	test.MustBe(t, "second", string(data))

	keys, err := s.List(ctx, "pagecounts/pq/")
	test.ErrNil(t, err, "List")
	test.MustBe(t, []string{"pagecounts/pq/date=2021-06-01/a.parquet"}, keys)

	keys, err = s.List(ctx, "")
	test.ErrNil(t, err, "List all")
	test.MustBe(t, []string{"pagecounts/gz/x.gz", "pagecounts/pq/date=2021-06-01/a.parquet"}, keys)

	exp := "file://" + filepath.ToSlash(filepath.Join(dir, "dest", "pagecounts", "gz", "x.gz"))
	test.MustBe(t, exp, s.URI("pagecounts/gz/x.gz"))
}

func TestStoreGetMissing(t *testing.T) {
	s, err := file.NewStore(t.TempDir())
	test.ErrNil(t, err, "NewStore")
	_, err = s.Get(context.Background(), "nope")
	if err == nil || !os.IsNotExist(errors.Cause(err)) {
		t.Fatalf("expected not exist error, got %v", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, os.ErrClosed }

func TestStorePutFailureKeepsOldObject(t *testing.T) {
	ctx := context.Background()
	s, err := file.NewStore(t.TempDir())
	test.ErrNil(t, err, "NewStore")
	test.ErrNil(t, s.Put(ctx, "k/v", strings.NewReader("old")), "Put")

	if err := s.Put(ctx, "k/v", failingReader{}); err == nil {
		t.Fatal("expected error from failing reader")
	}
	rc, err := s.Get(ctx, "k/v")
	test.ErrNil(t, err, "Get")
	defer rc.Close()
	data, _ := ioutil.ReadAll(rc)
	test.MustBe(t, "old", string(data))

	infos, err := ioutil.ReadDir(filepath.Join(s.Root(), "k"))
	test.ErrNil(t, err, "ReadDir")
	if len(infos) != 1 {
		t.Fatalf("expected temp file to be cleaned up, got %d files", len(infos))
	}
}

func TestStorePutCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, err := file.NewStore(t.TempDir())
	test.ErrNil(t, err, "NewStore")
	if err := s.Put(ctx, "k", strings.NewReader("data")); err == nil {
		t.Fatal("expected error from canceled context")
	}
	if _, err := s.Get(context.Background(), "k"); err == nil {
		t.Fatal("canceled put became visible")
	}
}
