package wikicounts

import (
	"fmt"

	"github.com/pkg/errors"
)

// ParameterError is returned when a run parameter is missing or malformed.
// It is never worth retrying.
type ParameterError struct {
	Param string
	Err   error
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %v", e.Param, e.Err)
}

// Cause implements the causer interface from github.com/pkg/errors.
func (e *ParameterError) Cause() error { return e.Err }

// Unwrap supports errors.Is and errors.As.
func (e *ParameterError) Unwrap() error { return e.Err }

// FetchError is returned when the remote archive could not be downloaded.
// Status is the HTTP status code, or 0 if no response was received.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetching %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

// Cause implements the causer interface from github.com/pkg/errors.
func (e *FetchError) Cause() error { return e.Err }

// Unwrap supports errors.Is and errors.As.
func (e *FetchError) Unwrap() error { return e.Err }

// StorageError is returned when reading from or writing to a Store, or to
// the local scratch space backing it, fails.
type StorageError struct {
	Op  string
	URI string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URI, e.Err)
}

// Cause implements the causer interface from github.com/pkg/errors.
func (e *StorageError) Cause() error { return e.Err }

// Unwrap supports errors.Is and errors.As.
func (e *StorageError) Unwrap() error { return e.Err }

// IsParameterError reports whether err, or anything it wraps, is a
// ParameterError.
func IsParameterError(err error) bool {
	var pe *ParameterError
	return errors.As(err, &pe)
}

// IsFetchError reports whether err, or anything it wraps, is a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// IsStorageError reports whether err, or anything it wraps, is a
// StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
