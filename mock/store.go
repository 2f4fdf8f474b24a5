package mock

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Store is an in-memory wikicounts.Store. Setting PutErr makes every Put
// fail with it.
type Store struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    map[string]int

	PutErr error
}

// NewStore gets an empty Store.
func NewStore() *Store {
	return &Store{
		objects: make(map[string][]byte),
		puts:    make(map[string]int),
	}
}

// Put reads all of r and stores it under key.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) error {
	if s.PutErr != nil {
		return s.PutErr
	}
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "reading object")
	}
	s.mu.Lock()
	s.objects[key] = data
	s.puts[key]++
	s.mu.Unlock()
	return nil
}

// Get returns the object stored under key.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	data, ok := s.objects[key]
	s.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(os.ErrNotExist, "getting %s", key)
	}
	return ioutil.NopCloser(bytes.NewReader(data)), nil
}

// List returns the sorted keys below prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0)
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// URI implements wikicounts.Store.
func (s *Store) URI(key string) string {
	return "mem://" + key
}

// Object returns the contents of key and whether it exists.
func (s *Store) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}

// Puts returns how many times key has been written.
func (s *Store) Puts(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts[key]
}
