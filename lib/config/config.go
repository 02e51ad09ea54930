// Copyright 2026 The Streamcap Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads streamcap's configuration from an optional YAML
// file specified by the STREAMCAP_CONFIG environment variable or the
// --config flag. File values are defaults; command-line flags always
// take precedence.
//
// Unlike the environment-overlay configs used elsewhere in the
// broader toolchain this project is drawn from, there is no
// development/staging/production axis here: streamcap is a one-shot
// CLI, not a long-running deployment, so that layering has nowhere to
// attach.
package config

import (
	"fmt"
	"os"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable that can supply a config file
// path in place of --config.
const EnvVar = "STREAMCAP_CONFIG"

// Config is the full set of values a YAML config file may supply.
// Every field is optional — flags fill in whatever the file omits.
type Config struct {
	// Name is the logical stream name ({filename} in the wire
	// contract). Defaults to "log" if neither the file nor a flag
	// sets it.
	Name string `yaml:"name"`

	// LocalDir, if set, selects the local-filesystem storage adapter
	// rooted at this directory. Mutually exclusive with S3Bucket.
	LocalDir string `yaml:"local_dir"`

	// S3Bucket, if set, selects the S3 storage adapter. May be
	// "bucket" or "bucket/prefix". Mutually exclusive with LocalDir.
	S3Bucket string `yaml:"s3_bucket"`

	// S3Endpoint overrides the default AWS endpoint, for S3-compatible
	// object stores (e.g. MinIO).
	S3Endpoint string `yaml:"s3_endpoint"`

	// S3Region is the AWS region to sign requests for. Defaults to
	// whatever the AWS SDK's default credential chain resolves.
	S3Region string `yaml:"s3_region"`

	// S3AccessKey and S3SecretKey, if both set, are used as static
	// credentials instead of the AWS SDK's default credential chain.
	// Needed for S3-compatible stores with no instance role or shared
	// config to fall back on.
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`

	// SourceEncoding names the child's output text encoding (e.g.
	// "utf-8", "windows-1252"). Defaults to UTF-8.
	SourceEncoding string `yaml:"source_encoding"`
}

// Load reads and parses a YAML config file. An empty path is not an
// error — streamcap may be invoked with flags alone — but a path that
// does not exist, or that exists and fails to parse, is.
func Load(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %s does not exist", path)
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Encoding resolves SourceEncoding to an x/text encoding.Encoding by
// its IANA/WHATWG name. An empty SourceEncoding resolves to UTF-8
// (encoding.Nop at the decoder level, since the stream is already
// valid UTF-8).
func (c *Config) Encoding() (encoding.Encoding, error) {
	if c.SourceEncoding == "" || c.SourceEncoding == "utf-8" {
		return encoding.Nop, nil
	}
	enc, err := htmlindex.Get(c.SourceEncoding)
	if err != nil {
		return nil, fmt.Errorf("unknown source encoding %q: %w", c.SourceEncoding, err)
	}
	return enc, nil
}

// ResolvePath returns the config file path to load: the explicit flag
// value if set, otherwise the STREAMCAP_CONFIG environment variable,
// otherwise empty (no config file).
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(EnvVar)
}
