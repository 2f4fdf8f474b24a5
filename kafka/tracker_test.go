// Copyright 2021 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

package kafka_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/linkedin/goavro/v2"
	"github.com/pilosa/wikicounts"
	"github.com/pilosa/wikicounts/kafka"
	"github.com/pkg/errors"
)

var milestone = wikicounts.Milestone{
	Job:     "pagecounts-hourly",
	Archive: "pagecounts",
	Window:  "2021-06-01T00",
	Stage:   wikicounts.StageWritten,
	URI:     "s3://wikistats/pagecounts/pq/date=2021-06-01/pagecounts-2021-06-01T00.parquet",
	Records: 1234,
	At:      time.Date(2021, 6, 2, 0, 7, 12, 345000000, time.UTC),
}

func decode(t *testing.T, val []byte) map[string]interface{} {
	t.Helper()
	codec, err := goavro.NewCodec(kafka.MilestoneSchema)
	if err != nil {
		t.Fatalf("getting codec: %v", err)
	}
	native, rest, err := codec.NativeFromBinary(val)
	if err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("%d trailing bytes", len(rest))
	}
	return native.(map[string]interface{})
}

func checkMilestone(t *testing.T, rec map[string]interface{}) {
	t.Helper()
	for k, exp := range map[string]interface{}{
		"job":     milestone.Job,
		"archive": milestone.Archive,
		"window":  milestone.Window,
		"stage":   "written",
		"uri":     milestone.URI,
		"records": int64(1234),
	} {
		if rec[k] != exp {
			t.Errorf("%s: exp %v, got %v", k, exp, rec[k])
		}
	}
	if at, ok := rec["at"].(time.Time); !ok || !at.Equal(milestone.At) {
		t.Errorf("at: exp %v, got %v", milestone.At, rec["at"])
	}
}

func TestTrackerCommit(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		checkMilestone(t, decode(t, val))
		return nil
	})
	tr, err := kafka.NewTracker(producer, "milestones")
	if err != nil {
		t.Fatalf("getting tracker: %v", err)
	}
	if err := tr.Commit(context.Background(), milestone); err != nil {
		t.Fatalf("committing: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}
}

func TestTrackerCommitFails(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	tr, err := kafka.NewTracker(producer, "milestones")
	if err != nil {
		t.Fatalf("getting tracker: %v", err)
	}
	defer tr.Close()
	if err := tr.Commit(context.Background(), milestone); errors.Cause(err) != sarama.ErrOutOfBrokers {
		t.Fatalf("expected ErrOutOfBrokers, got %v", err)
	}
}

func TestTrackerConfluentFraming(t *testing.T) {
	tr, err := kafka.NewTracker(mocks.NewSyncProducer(t, nil), "milestones", kafka.OptTrackerSchemaID(42))
	if err != nil {
		t.Fatalf("getting tracker: %v", err)
	}
	val, err := tr.Encode(milestone)
	if err != nil {
		t.Fatalf("encoding: %v", err)
	}
	if val[0] != 0 {
		t.Fatalf("unexpected magic byte 0x%x", val[0])
	}
	if id := binary.BigEndian.Uint32(val[1:5]); id != 42 {
		t.Fatalf("unexpected schema id %d", id)
	}
	checkMilestone(t, decode(t, val[5:]))
}

func TestRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/subjects/milestones-value/versions" {
			http.NotFound(w, r)
			return
		}
		body, _ := ioutil.ReadAll(r.Body)
		s := kafka.Schema{}
		if err := json.Unmarshal(body, &s); err != nil || s.Schema != kafka.MilestoneSchema {
			http.Error(w, "bad schema", http.StatusUnprocessableEntity)
			return
		}
		_, _ = w.Write([]byte(`{"id": 7}`))
	}))
	defer srv.Close()

	id, err := kafka.Register(context.Background(), srv.Client(), srv.URL, "milestones-value")
	if err != nil {
		t.Fatalf("registering: %v", err)
	}
	if id != 7 {
		t.Fatalf("expected id 7, got %d", id)
	}

	if _, err := kafka.Register(context.Background(), srv.Client(), srv.URL, "other"); err == nil {
		t.Fatal("expected error for unknown subject")
	}
}
