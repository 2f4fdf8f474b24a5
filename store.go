package wikicounts

import (
	"context"
	"io"
)

// Store is a flat, slash separated key space of immutable objects, such as a
// local directory or an S3 prefix. Put must replace an existing object
// atomically: readers see either the old object or the complete new one.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns the keys below prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// URI returns a human readable location for key, for logs and
	// milestones.
	URI(key string) string
}
