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

package boltdb

import (
	"context"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/pilosa/wikicounts"
)

func TestTracker(t *testing.T) {
	boltFile := tempFileName(t)
	bt, err := NewTracker(boltFile)
	if err != nil {
		t.Fatalf("couldn't get bolt db: %v", err)
	}
	at := time.Date(2021, 6, 2, 0, 5, 0, 0, time.UTC)
	landed := wikicounts.Milestone{Job: "j1", Archive: "pagecounts", Window: "2021-06-01T00", Stage: wikicounts.StageLanded, URI: "file:///x.gz", At: at}
	written := wikicounts.Milestone{Job: "j1", Archive: "pagecounts", Window: "2021-06-01T00", Stage: wikicounts.StageWritten, URI: "file:///x.parquet", Records: 12, At: at.Add(time.Minute)}
	other := wikicounts.Milestone{Job: "j2", Archive: "mediacounts", Window: "2021-06-01", Stage: wikicounts.StageLanded, At: at}
	for _, m := range []wikicounts.Milestone{landed, other, written} {
		if err := bt.Commit(context.Background(), m); err != nil {
			t.Fatalf("committing %v: %v", m, err)
		}
	}
	if err := bt.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}

	bt, err = NewTracker(boltFile)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer bt.Close()
	ms, err := bt.Milestones("j1")
	if err != nil {
		t.Fatalf("getting milestones: %v", err)
	}
	if len(ms) != 2 {
		t.Fatalf("expected 2 milestones, got %v", ms)
	}
	for i, exp := range []wikicounts.Milestone{landed, written} {
		got := ms[i]
		if !got.At.Equal(exp.At) {
			t.Fatalf("milestone %d: exp time %v, got %v", i, exp.At, got.At)
		}
		got.At, exp.At = time.Time{}, time.Time{}
		if got != exp {
			t.Fatalf("milestone %d: exp %#v, got %#v", i, exp, got)
		}
	}
	ms, err = bt.Milestones("nope")
	if err != nil || len(ms) != 0 {
		t.Fatalf("expected no milestones for unknown job, got %v, %v", ms, err)
	}
}

func TestTrackerCanceled(t *testing.T) {
	bt, err := NewTracker(tempFileName(t))
	if err != nil {
		t.Fatalf("couldn't get bolt db: %v", err)
	}
	defer bt.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := bt.Commit(ctx, wikicounts.Milestone{Job: "j"}); err == nil {
		t.Fatal("expected error committing with canceled context")
	}
}

func tempFileName(t *testing.T) string {
	tf, err := ioutil.TempFile("", "")
	if err != nil {
		t.Fatalf("getting temp file: %v", err)
	}
	name := tf.Name()
	tf.Close()
	t.Cleanup(func() { os.Remove(name) })
	return name
}
