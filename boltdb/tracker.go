// Package boltdb implements a wikicounts.Tracker which keeps a durable
// record of milestones in a local boltdb file.
package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pilosa/wikicounts"
	"github.com/pkg/errors"
)

var milestoneBucket = []byte("milestones")

// Tracker is a wikicounts.Tracker backed by boltdb. Milestones are kept in
// one bucket per job, in the order they were committed.
type Tracker struct {
	Db *bolt.DB
}

// NewTracker opens (creating if necessary) the boltdb file at filename.
func NewTracker(filename string) (*Tracker, error) {
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening db file '%v'", filename)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(milestoneBucket)
		return errors.Wrap(err, "creating milestone bucket")
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ensuring bucket existence")
	}
	return &Tracker{Db: db}, nil
}

// Commit appends m to its job's bucket.
func (bt *Tracker) Commit(ctx context.Context, m wikicounts.Milestone) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshaling milestone")
	}
	err = bt.Db.Update(func(tx *bolt.Tx) error {
		jb, err := tx.Bucket(milestoneBucket).CreateBucketIfNotExists([]byte(m.Job))
		if err != nil {
			return errors.Wrap(err, "adding "+m.Job+" to milestone bucket")
		}
		seq, err := jb.NextSequence()
		if err != nil {
			return err
		}
		keybytes := make([]byte, 8)
		binary.BigEndian.PutUint64(keybytes, seq)
		return errors.Wrap(jb.Put(keybytes, val), "inserting milestone")
	})
	return errors.Wrapf(err, "committing %s milestone for %s", m.Stage, m.Job)
}

// Milestones returns every milestone committed for job, oldest first.
func (bt *Tracker) Milestones(job string) ([]wikicounts.Milestone, error) {
	var ms []wikicounts.Milestone
	err := bt.Db.View(func(tx *bolt.Tx) error {
		jb := tx.Bucket(milestoneBucket).Bucket([]byte(job))
		if jb == nil {
			return nil
		}
		return jb.ForEach(func(k, v []byte) error {
			var m wikicounts.Milestone
			if err := json.Unmarshal(v, &m); err != nil {
				return errors.Wrapf(err, "decoding milestone %d", binary.BigEndian.Uint64(k))
			}
			ms = append(ms, m)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrapf(err, "reading milestones for %s", job)
	}
	return ms, nil
}

// Close syncs and closes the underlying boltdb.
func (bt *Tracker) Close() error {
	err := bt.Db.Sync()
	if err != nil {
		return errors.Wrap(err, "syncing db")
	}
	return bt.Db.Close()
}
