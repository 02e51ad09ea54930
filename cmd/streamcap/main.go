// Copyright 2026 The Streamcap Authors
// SPDX-License-Identifier: Apache-2.0

// streamcap runs a command, streaming its combined stdout/stderr to a
// PUT/DELETE-only object store (a local directory or an S3-compatible
// bucket) as a growing sequence of immutable chunk objects plus a
// manifest, so a browser-based viewer can tail the stream live without
// ever re-downloading bytes it already has.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"

	"github.com/spf13/pflag"

	"github.com/streamcap/streamcap/lib/chunkupload"
	"github.com/streamcap/streamcap/lib/clock"
	"github.com/streamcap/streamcap/lib/config"
	"github.com/streamcap/streamcap/lib/driver"
	"github.com/streamcap/streamcap/lib/indexedstore"
	"github.com/streamcap/streamcap/lib/process"
	"github.com/streamcap/streamcap/lib/storage"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		printVersion()
		return
	}

	code, err := run(os.Args[1:])
	if err != nil {
		process.Fatal(err)
	}
	os.Exit(code)
}

func printVersion() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		fmt.Println("streamcap (unknown build)")
		return
	}
	fmt.Printf("streamcap %s\n", info.Main.Version)
}

// run parses flags, loads the optional config file, wires the
// storage/indexedstore/chunkupload/attachments/driver stack together,
// and runs the child command to completion. It returns the exit code
// the process should report to its own caller.
func run(args []string) (int, error) {
	flagSet := pflag.NewFlagSet("streamcap", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "path to a YAML config file (or set STREAMCAP_CONFIG)")
	localDir := flagSet.String("local-dir", "", "publish objects under this local directory")
	s3Bucket := flagSet.String("s3", "", "publish objects to this S3 bucket (bucket[/prefix])")
	s3Endpoint := flagSet.String("s3-endpoint", "", "override the S3 endpoint (for S3-compatible stores)")
	s3Region := flagSet.String("s3-region", "", "AWS region to sign requests for")
	s3AccessKey := flagSet.String("s3-access-key", "", "static access key (for S3-compatible stores with no credential chain)")
	s3SecretKey := flagSet.String("s3-secret-key", "", "static secret key (for S3-compatible stores with no credential chain)")
	name := flagSet.String("name", "", "logical stream name (default: log)")
	sourceEncoding := flagSet.String("source-encoding", "", "source text encoding of the child's output (default: utf-8)")
	flagSet.SetInterspersed(false)

	if err := flagSet.Parse(args); err != nil {
		return 1, err
	}

	fileCfg, err := config.Load(config.ResolvePath(*configPath))
	if err != nil {
		return 1, err
	}

	command := flagSet.Args()
	if len(command) == 0 {
		return 1, fmt.Errorf("usage: streamcap [flags] -- CMD [ARGS...]")
	}

	streamName := firstNonEmpty(*name, fileCfg.Name, "log")
	dir := firstNonEmpty(*localDir, fileCfg.LocalDir)
	bucket := firstNonEmpty(*s3Bucket, fileCfg.S3Bucket)
	endpoint := firstNonEmpty(*s3Endpoint, fileCfg.S3Endpoint)
	region := firstNonEmpty(*s3Region, fileCfg.S3Region)
	accessKey := firstNonEmpty(*s3AccessKey, fileCfg.S3AccessKey)
	secretKey := firstNonEmpty(*s3SecretKey, fileCfg.S3SecretKey)
	encodingName := firstNonEmpty(*sourceEncoding, fileCfg.SourceEncoding)

	if (dir == "") == (bucket == "") {
		return 1, fmt.Errorf("exactly one of --local-dir or --s3 is required")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	adapter, err := buildAdapter(ctx, dir, bucket, endpoint, region, accessKey, secretKey)
	if err != nil {
		return 1, err
	}

	index := indexedstore.New(adapter)

	enc, err := (&config.Config{SourceEncoding: encodingName}).Encoding()
	if err != nil {
		return 1, err
	}

	clk := clock.Real()
	uploader, err := chunkupload.New(ctx, index, streamName, enc, clk, logger)
	if err != nil {
		return 1, fmt.Errorf("initializing uploader: %w", err)
	}

	attachDir, err := os.MkdirTemp("", "streamcap-attachments-")
	if err != nil {
		return 1, fmt.Errorf("creating attachments directory: %w", err)
	}
	defer os.RemoveAll(attachDir)

	d, err := driver.New(command, attachDir, uploader, index, clk, logger)
	if err != nil {
		return 1, err
	}

	return d.Run(ctx)
}

// buildAdapter constructs the storage.Adapter selected by flags: a
// local directory adapter, or an S3 adapter for "bucket" or
// "bucket/prefix".
func buildAdapter(ctx context.Context, dir, bucket, endpoint, region, accessKey, secretKey string) (storage.Adapter, error) {
	if dir != "" {
		return storage.NewLocal(dir)
	}

	bucketName, prefix, _ := strings.Cut(bucket, "/")
	client, err := storage.NewS3Client(ctx, region, endpoint, accessKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("creating S3 client: %w", err)
	}
	return storage.NewS3(client, bucketName, prefix), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
