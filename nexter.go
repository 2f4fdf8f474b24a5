package wikicounts

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator hands out record identifiers. Implementations must be safe for
// concurrent use and never return the same id twice.
type IDGenerator interface {
	NextID() string
}

// UUIDGenerator generates random (version 4) UUIDs. Ids are not derived from
// record content.
type UUIDGenerator struct{}

// NextID implements IDGenerator.
func (UUIDGenerator) NextID() string {
	return uuid.New().String()
}

// Nexter is a threadsafe monotonic unique id generator. It is an
// IDGenerator which yields predictable ids, which makes it useful in tests.
type Nexter struct {
	id     *uint64
	prefix string
}

// NexterOption is a functional option type for Nexter.
type NexterOption func(n *Nexter)

// NexterStartFrom sets the first id a Nexter will return.
func NexterStartFrom(start uint64) NexterOption {
	return func(n *Nexter) {
		*n.id = start
	}
}

// NexterPrefix sets a string which is prepended to every id from NextID.
func NexterPrefix(prefix string) NexterOption {
	return func(n *Nexter) {
		n.prefix = prefix
	}
}

// NewNexter creates a new id generator starting at 0.
func NewNexter(opts ...NexterOption) *Nexter {
	var id uint64
	n := &Nexter{
		id: &id,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Next generates a new id and returns it.
func (n *Nexter) Next() (nextID uint64) {
	nextID = atomic.AddUint64(n.id, 1)
	return nextID - 1
}

// Last returns the most recently generated id.
func (n *Nexter) Last() (lastID uint64) {
	lastID = atomic.LoadUint64(n.id) - 1
	return
}

// NextID implements IDGenerator.
func (n *Nexter) NextID() string {
	return n.prefix + strconv.FormatUint(n.Next(), 10)
}
