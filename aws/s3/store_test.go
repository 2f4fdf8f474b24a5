package s3_test

import (
	"context"
	"io/ioutil"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/pilosa/wikicounts/aws/s3"
	"github.com/pilosa/wikicounts/test"
	"github.com/pkg/errors"
)

// bucket is an in-memory stand in for S3 which serves both the client and
// the uploader interfaces.
type bucket struct {
	s3iface.S3API
	s3manageriface.UploaderAPI

	mu      sync.Mutex
	objects map[string]string
	pageLen int
}

func newBucket() *bucket {
	return &bucket{objects: make(map[string]string), pageLen: 2}
}

func (b *bucket) UploadWithContext(ctx aws.Context, in *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	data, err := ioutil.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)] = string(data)
	b.mu.Unlock()
	return &s3manager.UploadOutput{}, nil
}

func (b *bucket) GetObjectWithContext(ctx aws.Context, in *awss3.GetObjectInput, opts ...request.Option) (*awss3.GetObjectOutput, error) {
	b.mu.Lock()
	data, ok := b.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)]
	b.mu.Unlock()
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &awss3.GetObjectOutput{Body: ioutil.NopCloser(strings.NewReader(data))}, nil
}

func (b *bucket) ListObjectsV2PagesWithContext(ctx aws.Context, in *awss3.ListObjectsV2Input, fn func(*awss3.ListObjectsV2Output, bool) bool, opts ...request.Option) error {
	b.mu.Lock()
	var keys []string
	for k := range b.objects {
		parts := strings.SplitN(k, "/", 2)
		if parts[0] == aws.StringValue(in.Bucket) && strings.HasPrefix(parts[1], aws.StringValue(in.Prefix)) {
			keys = append(keys, parts[1])
		}
	}
	b.mu.Unlock()
	sort.Strings(keys)
	for i := 0; i < len(keys); i += b.pageLen {
		end := i + b.pageLen
		if end > len(keys) {
			end = len(keys)
		}
		page := &awss3.ListObjectsV2Output{}
		for _, k := range keys[i:end] {
			page.Contents = append(page.Contents, &awss3.Object{Key: aws.String(k)})
		}
		if !fn(page, end == len(keys)) {
			break
		}
	}
	return nil
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	b := newBucket()
	s, err := s3.NewStore("wikistats", "/warehouse/", s3.OptStoreClient(b), s3.OptStoreUploader(b))
	test.ErrNil(t, err, "NewStore")

	for _, k := range []string{
		"pagecounts/gz/pageviews-20210601-000000.gz",
		"pagecounts/pq/date=2021-06-01/pagecounts-2021-06-01T00.parquet",
		"pagecounts/pq/date=2021-06-01/pagecounts-2021-06-01T01.parquet",
		"mediacounts/pq/date=2021-06-01/mediacounts-2021-06-01.parquet",
	} {
		test.ErrNil(t, s.Put(ctx, k, strings.NewReader(k)), "Put "+k)
	}
	test.ErrNil(t, s.Put(ctx, "pagecounts/gz/pageviews-20210601-000000.gz", strings.NewReader("v2")), "overwrite")
	if _, ok := b.objects["wikistats/warehouse/pagecounts/gz/pageviews-20210601-000000.gz"]; !ok {
		t.Fatalf("object not stored below prefix: %v", b.objects)
	}

	keys, err := s.List(ctx, "pagecounts/")
	test.ErrNil(t, err, "List")
	test.MustBe(t, []string{
		"pagecounts/gz/pageviews-20210601-000000.gz",
		"pagecounts/pq/date=2021-06-01/pagecounts-2021-06-01T00.parquet",
		"pagecounts/pq/date=2021-06-01/pagecounts-2021-06-01T01.parquet",
	}, keys)

	rc, err := s.Get(ctx, "pagecounts/gz/pageviews-20210601-000000.gz")
	test.ErrNil(t, err, "Get")
	data, err := ioutil.ReadAll(rc)
	test.ErrNil(t, err, "reading")
	test.MustBe(t, "v2", string(data))

	if _, err := s.Get(ctx, "nope"); err == nil {
		t.Fatal("expected error getting missing key")
	}
	test.MustBe(t, "s3://wikistats/warehouse/a/b", s.URI("a/b"))
}

func TestStoreNoPrefix(t *testing.T) {
	b := newBucket()
	s, err := s3.NewStore("wikistats", "", s3.OptStoreClient(b), s3.OptStoreUploader(b))
	test.ErrNil(t, err, "NewStore")
	test.ErrNil(t, s.Put(context.Background(), "a/b", strings.NewReader("x")), "Put")
	keys, err := s.List(context.Background(), "")
	test.ErrNil(t, err, "List")
	test.MustBe(t, []string{"a/b"}, keys)
	test.MustBe(t, "s3://wikistats/a/b", s.URI("a/b"))
}

func TestNewStoreRequiresBucket(t *testing.T) {
	if _, err := s3.NewStore("", "x"); err == nil {
		t.Fatal("expected error for empty bucket")
	}
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri, bucket, prefix string
		err                 bool
	}{
		{uri: "s3://wikistats", bucket: "wikistats"},
		{uri: "s3://wikistats/", bucket: "wikistats"},
		{uri: "s3://wikistats/a/b/", bucket: "wikistats", prefix: "a/b"},
		{uri: "/tmp/out", err: true},
		{uri: "gs://wikistats/a", err: true},
		{uri: "s3:///a", err: true},
	}
	for _, tst := range tests {
		bucket, prefix, err := s3.ParseURI(tst.uri)
		if tst.err {
			if err == nil {
				t.Errorf("%s: expected error", tst.uri)
			}
			continue
		}
		test.ErrNil(t, err, tst.uri)
		test.MustBe(t, tst.bucket, bucket, tst.uri)
		test.MustBe(t, tst.prefix, prefix, tst.uri)
	}
}
