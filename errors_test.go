package wikicounts_test

import (
	"testing"

	"github.com/pilosa/wikicounts"
	"github.com/pkg/errors"
)

var errBoom = errors.New("boom")

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err                error
		param, fetch, stor bool
	}{
		{err: &wikicounts.ParameterError{Param: "job-name", Err: errBoom}, param: true},
		{err: errors.Wrap(&wikicounts.FetchError{URL: "x", Status: 404, Err: errBoom}, "running"), fetch: true},
		{err: errors.Wrap(errors.Wrap(&wikicounts.StorageError{Op: "put", URI: "y", Err: errBoom}, "a"), "b"), stor: true},
		{err: errBoom},
	}
	for i, tst := range tests {
		if got := wikicounts.IsParameterError(tst.err); got != tst.param {
			t.Errorf("%d: IsParameterError(%v) = %v", i, tst.err, got)
		}
		if got := wikicounts.IsFetchError(tst.err); got != tst.fetch {
			t.Errorf("%d: IsFetchError(%v) = %v", i, tst.err, got)
		}
		if got := wikicounts.IsStorageError(tst.err); got != tst.stor {
			t.Errorf("%d: IsStorageError(%v) = %v", i, tst.err, got)
		}
		if errors.Cause(tst.err) != errBoom && !errors.Is(tst.err, errBoom) {
			t.Errorf("%d: %v does not wrap errBoom", i, tst.err)
		}
	}
}

func TestFetchErrorMessage(t *testing.T) {
	err := &wikicounts.FetchError{URL: "http://x/y.gz", Status: 404, Err: errors.New("Not Found")}
	if exp := "fetching http://x/y.gz: status 404: Not Found"; err.Error() != exp {
		t.Fatalf("exp '%s', got '%s'", exp, err.Error())
	}
}
