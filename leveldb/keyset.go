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

// Package leveldb implements a wikicounts.KeySet on disk, for archives whose
// distinct keys do not fit comfortably in memory.
package leveldb

import (
	"hash/fnv"
	"io/ioutil"
	"os"
	"sync"

	"github.com/pilosa/wikicounts"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

var _ wikicounts.KeySet = &KeySet{}

// KeySet is a wikicounts.KeySet which stores seen keys in a scratch leveldb.
// The database lives only as long as the KeySet: it is created empty and
// removed on Close.
type KeySet struct {
	lock    valueLocker
	dirname string
	db      *leveldb.DB
}

// NewKeySet creates a KeySet in a fresh directory below dir, or below the
// system temp directory if dir is empty.
func NewKeySet(dir string) (*KeySet, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, errors.Wrap(err, "making directory")
		}
	}
	dirname, err := ioutil.TempDir(dir, "wikicounts-keys-")
	if err != nil {
		return nil, errors.Wrap(err, "making scratch directory")
	}
	db, err := leveldb.OpenFile(dirname, &opt.Options{
		NoSync:      true,
		WriteBuffer: 16 * opt.MiB,
	})
	if err != nil {
		os.RemoveAll(dirname)
		return nil, errors.Wrapf(err, "opening leveldb at %v", dirname)
	}
	return &KeySet{
		lock:    newBucketVLock(),
		dirname: dirname,
		db:      db,
	}, nil
}

// Add implements wikicounts.KeySet.
func (ks *KeySet) Add(key []byte) (bool, error) {
	ks.lock.Lock(key)
	defer ks.lock.Unlock(key)
	has, err := ks.db.Has(key, nil)
	if err != nil {
		return false, errors.Wrap(err, "trying to read key")
	}
	if has {
		return false, nil
	}
	if err := ks.db.Put(key, nil, nil); err != nil {
		return false, errors.Wrap(err, "putting key")
	}
	return true, nil
}

// Dir returns the directory holding the database.
func (ks *KeySet) Dir() string { return ks.dirname }

// Close closes and deletes the underlying leveldb.
func (ks *KeySet) Close() error {
	err := ks.db.Close()
	if rerr := os.RemoveAll(ks.dirname); rerr != nil && err == nil {
		err = rerr
	}
	return errors.Wrap(err, "closing leveldb")
}

type valueLocker interface {
	Lock(val []byte)
	Unlock(val []byte)
}

type bucketVLock struct {
	ms []sync.Mutex
}

func newBucketVLock() bucketVLock {
	return bucketVLock{
		ms: make([]sync.Mutex, 1000),
	}
}

func (b bucketVLock) Lock(val []byte) {
	hsh := fnv.New32a()
	hsh.Write(val) // never returns error for hash
	b.ms[hsh.Sum32()%1000].Lock()
}

func (b bucketVLock) Unlock(val []byte) {
	hsh := fnv.New32a()
	hsh.Write(val) // never returns error for hash
	b.ms[hsh.Sum32()%1000].Unlock()
}
