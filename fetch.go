package wikicounts

import (
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Fetcher downloads upstream archives and copies them, unmodified, into the
// landing zone of a Store. Fetching the same window twice overwrites the
// landed archive with the same bytes.
type Fetcher struct {
	store   Store
	client  *http.Client
	baseURL string
	scratch string
	log     Logger
	stats   Statter
}

// FetcherOption is a functional option type for Fetcher.
type FetcherOption func(f *Fetcher)

// OptFetcherBaseURL sets the root URL archives are fetched from. The default
// is DefaultArchiveURL.
func OptFetcherBaseURL(base string) FetcherOption {
	return func(f *Fetcher) {
		f.baseURL = base
	}
}

// OptFetcherClient sets the HTTP client used for downloads.
func OptFetcherClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.client = c
	}
}

// OptFetcherScratchDir sets the local directory downloads are staged in. The
// default is the system temp directory.
func OptFetcherScratchDir(dir string) FetcherOption {
	return func(f *Fetcher) {
		f.scratch = dir
	}
}

// OptFetcherLogger sets the Logger for a Fetcher.
func OptFetcherLogger(l Logger) FetcherOption {
	return func(f *Fetcher) {
		f.log = l
	}
}

// OptFetcherStatter sets the Statter for a Fetcher.
func OptFetcherStatter(s Statter) FetcherOption {
	return func(f *Fetcher) {
		f.stats = s
	}
}

// NewFetcher gets a Fetcher which lands archives in store.
func NewFetcher(store Store, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		store:   store,
		client:  http.DefaultClient,
		baseURL: DefaultArchiveURL,
		log:     NopLogger{},
		stats:   NopStatter{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads the archive for w and uploads it to w.LandingKey(), which
// it returns. Download failures are FetchErrors and upload failures are
// StorageErrors; neither is retried.
func (f *Fetcher) Fetch(ctx context.Context, w Window) (key string, err error) {
	url := w.URL(f.baseURL)
	key = w.LandingKey()
	start := time.Now()

	tmp, err := ioutil.TempFile(f.scratch, "wikicounts-"+w.Filename()+"-")
	if err != nil {
		return "", &StorageError{Op: "creating scratch file", URI: f.scratch, Err: err}
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	n, err := f.download(ctx, url, tmp)
	if err != nil {
		return "", err
	}
	f.stats.Count("fetch.bytes", n, 1)
	f.stats.Timing("fetch.download", time.Since(start), 1)
	f.log.Printf("downloaded %s (%d bytes) in %v", url, n, time.Since(start))

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", &StorageError{Op: "rewinding scratch file", URI: tmp.Name(), Err: err}
	}
	upStart := time.Now()
	if err := f.store.Put(ctx, key, tmp); err != nil {
		return "", &StorageError{Op: "uploading archive", URI: f.store.URI(key), Err: err}
	}
	f.stats.Timing("fetch.upload", time.Since(upStart), 1)
	f.log.Printf("landed %s", f.store.URI(key))
	return key, nil
}

func (f *Fetcher) download(ctx context.Context, url string, dst io.Writer) (int64, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, &FetchError{URL: url, Err: errors.Wrap(err, "building request")}
	}
	resp, err := f.client.Do(req.WithContext(ctx))
	if err != nil {
		return 0, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &FetchError{URL: url, Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return n, &FetchError{URL: url, Status: resp.StatusCode, Err: errors.Wrap(err, "reading body")}
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return n, &FetchError{URL: url, Status: resp.StatusCode, Err: errors.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)}
	}
	return n, nil
}
