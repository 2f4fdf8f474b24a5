package prom_test

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pilosa/wikicounts/prom"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatter(t *testing.T) {
	s := prom.NewStatter(map[string]string{"archive": "pagecounts"})
	s.Count("parser.records", 3, 1)
	s.Count("parser.records", 4, 1)
	s.Count("parser.malformed", 1, 1)
	s.Timing("fetch.download", 1500*time.Millisecond, 1)
	s.Timing("fetch.download", 10*time.Millisecond, 1)
	s.Gauge("writer.queue", 2, 1)
	s.Set("ignored", "x", 1)

	exp := `
# HELP wikicounts_parser_records_total Count of parser.records.
# TYPE wikicounts_parser_records_total counter
wikicounts_parser_records_total{archive="pagecounts"} 7
`
	if err := testutil.GatherAndCompare(s.Registry(), strings.NewReader(exp), "wikicounts_parser_records_total"); err != nil {
		t.Fatal(err)
	}
	n, err := testutil.GatherAndCount(s.Registry(), "wikicounts_fetch_download_seconds", "wikicounts_writer_queue")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected a timing histogram and a gauge, got %d series", n)
	}
}

func TestStatterPush(t *testing.T) {
	var path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		path = r.URL.Path
		b, _ := ioutil.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := prom.NewStatter(nil)
	s.Count("writer.records", 12, 1)
	if err := s.Push(context.Background(), srv.URL, "wikicounts", map[string]string{"archive": "mediacounts"}); err != nil {
		t.Fatalf("pushing: %v", err)
	}
	if path != "/metrics/job/wikicounts/archive/mediacounts" {
		t.Fatalf("unexpected push path %s", path)
	}
	if body == "" {
		t.Fatal("expected metrics in push body")
	}
}

func TestStatterPushFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()
	s := prom.NewStatter(nil)
	s.Count("x", 1, 1)
	if err := s.Push(context.Background(), srv.URL, "wikicounts", nil); err == nil {
		t.Fatal("expected push error")
	}
}
