// Copyright 2026 The Streamcap Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewS3Client builds an S3 client. When accessKey and secretKey are
// both set, they're used as static credentials — the common case for
// an S3-compatible store such as MinIO, which has no instance-role or
// shared-config chain to fall back on. Otherwise the standard AWS
// credential chain (environment, shared config, instance role) is
// used. endpoint, if non-empty, overrides the default AWS endpoint
// resolution and enables path-style addressing, which most non-AWS
// S3-compatible stores require.
func NewS3Client(ctx context.Context, region, endpoint, accessKey, secretKey string) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
