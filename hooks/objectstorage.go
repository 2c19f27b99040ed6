//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of GoTransfer.
//
// GoTransfer is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// GoTransfer is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with GoTransfer. If not, see https://www.gnu.org/licenses/.

package hooks

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aaronlmathis/gotransfer/core"
	"github.com/aaronlmathis/gotransfer/readers"
)

// S3API is the subset of the S3 client used by the object storage source.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ObjectStorageConfig holds the validated params of an object storage source.
type ObjectStorageConfig struct {
	Bucket          string
	Prefix          string
	Format          readers.Format
	Region          string
	Profile         string
	EndpointURL     string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// S3ClientFactory builds the client used by an object storage source.
type S3ClientFactory func(ctx context.Context, cfg ObjectStorageConfig) (S3API, error)

// ObjectStorageStats holds statistics about the source's progress.
type ObjectStorageStats struct {
	ObjectsListed int64
	ObjectsRead   int64
	RecordsRead   int64
	ReadDuration  time.Duration
	CurrentObject string
}

func parseObjectStorageConfig(params Params) (ObjectStorageConfig, error) {
	r := newParamReader(string(SourceObjectStorage), params)
	var cfg ObjectStorageConfig
	var err error

	if cfg.Bucket, err = r.required("s3_bucket"); err != nil {
		return cfg, err
	}
	contentType, err := r.required("s3_content_type")
	if err != nil {
		return cfg, err
	}
	if cfg.Format, err = readers.ParseFormat(contentType); err != nil {
		return cfg, r.fail("s3_content_type", "%v", err)
	}
	if cfg.Prefix, err = r.optional("s3_prefix", ""); err != nil {
		return cfg, err
	}
	if cfg.Region, err = r.optional("s3_region", ""); err != nil {
		return cfg, err
	}
	if cfg.Profile, err = r.optional("s3_profile", ""); err != nil {
		return cfg, err
	}
	if cfg.EndpointURL, err = r.optional("s3_endpoint", ""); err != nil {
		return cfg, err
	}
	if cfg.ForcePathStyle, err = r.boolean("s3_path_style", false); err != nil {
		return cfg, err
	}
	if cfg.AccessKeyID, err = r.optional("s3_access_key_id", ""); err != nil {
		return cfg, err
	}
	if cfg.SecretAccessKey, err = r.optional("s3_secret_access_key", ""); err != nil {
		return cfg, err
	}
	if cfg.SessionToken, err = r.optional("s3_session_token", ""); err != nil {
		return cfg, err
	}
	if (cfg.AccessKeyID == "") != (cfg.SecretAccessKey == "") {
		return cfg, r.fail("s3_access_key_id", "access key id and secret access key must be set together")
	}
	return cfg, nil
}

// newS3Client loads the default AWS config chain and applies overrides.
func newS3Client(ctx context.Context, opts ObjectStorageConfig) (S3API, error) {
	configOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, err
	}
	if opts.AccessKeyID != "" {
		cfg.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken),
		)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.EndpointURL != "" {
			o.BaseEndpoint = aws.String(opts.EndpointURL)
		}
		o.UsePathStyle = opts.ForcePathStyle
	}), nil
}

// ObjectStorageSource reads every object under a bucket prefix in key
// order, decoding each with the configured content type. Records are keyed
// "s3://bucket/key:N" where N is the record's index within its object.
type ObjectStorageSource struct {
	cfg       ObjectStorageConfig
	newClient S3ClientFactory

	client   S3API
	listed   bool
	objects  []string
	index    int
	current  core.Readable
	position int
	stats    ObjectStorageStats
}

// NewObjectStorageSource validates params. No request is made until the
// first Read.
func NewObjectStorageSource(params Params, factory S3ClientFactory) (*ObjectStorageSource, error) {
	cfg, err := parseObjectStorageConfig(params)
	if err != nil {
		return nil, err
	}
	if factory == nil {
		factory = newS3Client
	}
	return &ObjectStorageSource{cfg: cfg, newClient: factory}, nil
}

// Config returns the validated configuration.
func (s *ObjectStorageSource) Config() ObjectStorageConfig {
	return s.cfg
}

// Read implements core.Readable.
func (s *ObjectStorageSource) Read(ctx context.Context) (core.Record, error) {
	start := time.Now()
	defer func() { s.stats.ReadDuration += time.Since(start) }()

	if err := ctx.Err(); err != nil {
		return nil, &core.SourceReadError{Op: "read", Err: err}
	}
	if !s.listed {
		if err := s.list(ctx); err != nil {
			return nil, err
		}
	}

	for {
		if s.current == nil {
			if s.index >= len(s.objects) {
				return nil, io.EOF
			}
			if err := s.open(ctx); err != nil {
				return nil, err
			}
		}

		record, err := s.current.Read(ctx)
		if err == io.EOF {
			s.closeCurrent()
			s.index++
			continue
		}
		if err != nil {
			return nil, &core.SourceReadError{Op: "parse", Err: fmt.Errorf("%s: %w", s.Location(), err)}
		}

		key := fmt.Sprintf("%s:%d", s.Location(), s.position)
		s.position++
		s.stats.RecordsRead++
		return record.WithKey(key), nil
	}
}

// Location implements core.Located.
func (s *ObjectStorageSource) Location() string {
	if s.index >= len(s.objects) {
		return ""
	}
	return "s3://" + s.cfg.Bucket + "/" + s.objects[s.index]
}

// Objects returns the listed object keys in read order.
func (s *ObjectStorageSource) Objects() []string {
	return s.objects
}

// Stats returns source statistics.
func (s *ObjectStorageSource) Stats() ObjectStorageStats {
	return s.stats
}

// Close implements core.Readable.
func (s *ObjectStorageSource) Close() error {
	return s.closeCurrent()
}

func (s *ObjectStorageSource) list(ctx context.Context) error {
	if s.client == nil {
		client, err := s.newClient(ctx, s.cfg)
		if err != nil {
			return &core.SourceReadError{Op: "connect", Err: err}
		}
		s.client = client
	}

	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.cfg.Bucket)}
	if s.cfg.Prefix != "" {
		input.Prefix = aws.String(s.cfg.Prefix)
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return &core.SourceReadError{Op: "list", Err: err}
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	s.objects = keys
	s.listed = true
	s.stats.ObjectsListed = int64(len(keys))
	return nil
}

func (s *ObjectStorageSource) open(ctx context.Context) error {
	key := s.objects[s.index]
	s.stats.CurrentObject = key

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return &core.SourceReadError{Op: "get_object", Err: fmt.Errorf("%s: %w", key, err)}
	}

	decoder, err := readers.NewDecoder(s.cfg.Format, out.Body)
	if err != nil {
		out.Body.Close()
		return &core.SourceReadError{Op: "parse", Err: fmt.Errorf("%s: %w", key, err)}
	}
	s.current = decoder
	s.position = 0
	s.stats.ObjectsRead++
	return nil
}

func (s *ObjectStorageSource) closeCurrent() error {
	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current = nil
	return err
}
