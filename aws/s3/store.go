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

// Package s3 implements a wikicounts.Store on an S3 bucket, or on any
// service which speaks the S3 API.
package s3

import (
	"context"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/pkg/errors"
)

// StoreOption is a functional option type for s3.Store.
type StoreOption func(s *Store)

// OptStoreRegion is a StoreOption which sets the AWS region for a Store.
func OptStoreRegion(region string) StoreOption {
	return func(s *Store) {
		s.region = region
	}
}

// OptStoreEndpoint points the Store at an S3 compatible service instead of
// AWS. Path style addressing is used for custom endpoints.
func OptStoreEndpoint(endpoint string) StoreOption {
	return func(s *Store) {
		s.endpoint = endpoint
	}
}

// OptStoreClient sets the S3 client used for reads and listing.
func OptStoreClient(client s3iface.S3API) StoreOption {
	return func(s *Store) {
		s.client = client
	}
}

// OptStoreUploader sets the uploader used by Put.
func OptStoreUploader(u s3manageriface.UploaderAPI) StoreOption {
	return func(s *Store) {
		s.uploader = u
	}
}

// Store is a wikicounts.Store which keeps objects in an S3 bucket below a
// key prefix. A completed upload replaces its object atomically.
type Store struct {
	bucket   string
	prefix   string
	region   string
	endpoint string

	client   s3iface.S3API
	uploader s3manageriface.UploaderAPI
}

// NewStore gets a Store for bucket and prefix with the options applied.
func NewStore(bucket, prefix string, opts ...StoreOption) (*Store, error) {
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	s := &Store{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		region: "us-east-1",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		cfg := &aws.Config{Region: aws.String(s.region)}
		if s.endpoint != "" {
			cfg.Endpoint = aws.String(s.endpoint)
			cfg.S3ForcePathStyle = aws.Bool(true)
		}
		sess, err := session.NewSession(cfg)
		if err != nil {
			return nil, errors.Wrap(err, "getting new session")
		}
		s.client = s3.New(sess)
	}
	if s.uploader == nil {
		s.uploader = s3manager.NewUploaderWithClient(s.client)
	}
	return s, nil
}

// ParseURI splits an s3://bucket/prefix URI into its bucket and prefix.
func ParseURI(uri string) (bucket, prefix string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", errors.Wrapf(err, "parsing '%s'", uri)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", errors.Errorf("'%s' is not of the form s3://bucket/prefix", uri)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

func (s *Store) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// Put uploads r to key, using a multipart upload for large objects.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
		Body:   r,
	})
	if err != nil {
		return errors.Wrapf(err, "uploading %s", s.URI(key))
	}
	return nil
}

// Get returns the body of the object at key.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "getting %s", s.URI(key))
	}
	return result.Body, nil
}

// List returns the keys below prefix, relative to the Store's own prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	full := prefix
	if s.prefix != "" {
		full = s.prefix + "/" + prefix
	}
	keys := make([]string, 0)
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(full),
	}, func(page *s3.ListObjectsV2Output, last bool) bool {
		for _, obj := range page.Contents {
			k := aws.StringValue(obj.Key)
			if s.prefix != "" {
				k = strings.TrimPrefix(k, s.prefix+"/")
			}
			keys = append(keys, k)
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", s.URI(prefix))
	}
	return keys, nil
}

// URI returns an s3:// URI for key.
func (s *Store) URI(key string) string {
	return "s3://" + s.bucket + "/" + s.key(key)
}
