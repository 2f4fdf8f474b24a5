package wikicounts

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
)

// KeySet remembers which uniqueness keys have been seen during a run.
type KeySet interface {
	// Add records key and reports whether it was not already present.
	Add(key []byte) (added bool, err error)
	Close() error
}

// MapKeySet is an in-memory KeySet.
type MapKeySet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewMapKeySet gets an empty MapKeySet.
func NewMapKeySet() *MapKeySet {
	return &MapKeySet{keys: make(map[string]struct{})}
}

// Add implements KeySet.
func (m *MapKeySet) Add(key []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[string(key)]; ok {
		return false, nil
	}
	m.keys[string(key)] = struct{}{}
	return true, nil
}

// Len returns the number of distinct keys added.
func (m *MapKeySet) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

// Close releases the keys.
func (m *MapKeySet) Close() error {
	m.mu.Lock()
	m.keys = nil
	m.mu.Unlock()
	return nil
}

// key value tags. Nulls compare equal to each other and to nothing else.
const (
	tagNull byte = iota
	tagString
	tagInt
)

// AppendKey appends an unambiguous encoding of vals to buf.
func AppendKey(buf []byte, vals ...interface{}) []byte {
	var lenBuf [binary.MaxVarintLen64]byte
	for _, val := range vals {
		switch v := val.(type) {
		case nil:
			buf = append(buf, tagNull)
		case string:
			buf = append(buf, tagString)
			n := binary.PutUvarint(lenBuf[:], uint64(len(v)))
			buf = append(buf, lenBuf[:n]...)
			buf = append(buf, v...)
		case int32:
			buf = append(buf, tagInt)
			buf = strconv.AppendInt(buf, int64(v), 10)
			buf = append(buf, 0)
		case int64:
			buf = append(buf, tagInt)
			buf = strconv.AppendInt(buf, v, 10)
			buf = append(buf, 0)
		default:
			s := fmt.Sprint(v)
			buf = append(buf, tagString)
			n := binary.PutUvarint(lenBuf[:], uint64(len(s)))
			buf = append(buf, lenBuf[:n]...)
			buf = append(buf, s...)
		}
	}
	return buf
}
