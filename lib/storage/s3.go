// Copyright 2026 The Streamcap Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// retryAttempts and retryBaseDelay implement the client-side mirror of
// the object store's own exponential backoff described in spec §7:
// 10 attempts, delay doubling starting at 1 second. The AWS SDK
// already retries transport-level failures internally; this loop
// exists for the errors the SDK surfaces as already exhausted (for
// example a persistent throttling response), so a blip that outlasts
// the SDK's own retry budget still has a chance to heal before the
// driver treats it as a fatal storage error.
const (
	retryAttempts  = 10
	retryBaseDelay = time.Second
)

// S3 is an Adapter backed by an S3-compatible object store. Objects
// are written with a public-read ACL (this is a write-only log
// stream meant to be polled by a browser with no auth layer of its
// own) and a content type derived from the object name's suffix.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 creates an S3 adapter for the given bucket. prefix, if
// non-empty, is prepended to every object key (so multiple streams
// can share a bucket without colliding).
func NewS3(client *s3.Client, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Has reports whether an object exists via HeadObject.
func (s *S3) Has(ctx context.Context, name string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// Write uploads data under name with a public-read ACL, retrying
// transient failures.
func (s *S3) Write(ctx context.Context, name string, data []byte) error {
	key := s.key(name)
	contentType := ContentType(name)

	return withRetry(ctx, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ACL:         types.ObjectCannedACLPublicRead,
			ContentType: aws.String(contentType),
		})
		return err
	})
}

// Delete removes the named objects in a single batched
// DeleteObjects request where possible (S3 allows up to 1000 keys
// per request), falling back to chunking for larger batches.
func (s *S3) Delete(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}

	const maxBatch = 1000
	for start := 0; start < len(names); start += maxBatch {
		end := start + maxBatch
		if end > len(names) {
			end = len(names)
		}
		if err := s.deleteBatch(ctx, names[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *S3) deleteBatch(ctx context.Context, names []string) error {
	objects := make([]types.ObjectIdentifier, len(names))
	for i, name := range names {
		objects[i] = types.ObjectIdentifier{Key: aws.String(s.key(name))}
	}

	return withRetry(ctx, func() error {
		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects},
		})
		return err
	})
}

// withRetry runs op, retrying on error up to retryAttempts times with
// delay doubling from retryBaseDelay. A permanent (4xx, not-found)
// error is not retried — it is returned to the caller immediately as
// per spec §7's storage-permanent classification.
func withRetry(ctx context.Context, op func() error) error {
	delay := retryBaseDelay
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			return err
		}
		if attempt == retryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("storage: exhausted %d retries: %w", retryAttempts, lastErr)
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &noSuchKey)
}

// isTransient distinguishes errors worth retrying (server-side,
// throttling) from permanent 4xx failures. The AWS SDK's own retryer
// already absorbs most transient errors; by the time one reaches this
// adapter it has either genuinely exhausted the SDK's budget or is a
// class of error (e.g. a custom throttling response from a
// non-AWS S3-compatible endpoint) the SDK didn't recognize as
// retryable. We treat anything that isn't a recognized permanent
// client error as transient, erring on the side of retrying.
func isTransient(err error) bool {
	if isNotFound(err) {
		return false
	}
	var accessDenied *types.NoSuchBucket
	if errors.As(err, &accessDenied) {
		return false
	}
	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		code := statusErr.HTTPStatusCode()
		if code >= 400 && code < 500 && code != 408 && code != 429 {
			return false
		}
	}
	return true
}
