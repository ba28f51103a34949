package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"randooprun/pkg/resilience"
)

// LogStore persists the captured output of generator runs.
type LogStore interface {
	// Store saves logs and returns a reference path/URL
	Store(ctx context.Context, runID, packageName string, logs []byte) (string, error)
	// Retrieve fetches logs by reference
	Retrieve(ctx context.Context, reference string) ([]byte, error)
}

// Options selects a backend. An S3 bucket wins over a local directory;
// with neither set no store is built.
type Options struct {
	Dir             string
	Bucket          string
	Prefix          string // e.g., "randoop/runs/"
	Region          string
	Endpoint        string // For MinIO/local S3
	AccessKeyID     string
	SecretAccessKey string
}

// New returns the configured store, or nil when logs are not persisted.
func New(opts Options) (LogStore, error) {
	switch {
	case opts.Bucket != "":
		s, err := NewS3LogStore(S3LogStoreConfig{
			Bucket:          opts.Bucket,
			Prefix:          opts.Prefix,
			Region:          opts.Region,
			Endpoint:        opts.Endpoint,
			AccessKeyID:     opts.AccessKeyID,
			SecretAccessKey: opts.SecretAccessKey,
			LocalCacheDir:   opts.Dir,
		})
		if err != nil {
			return nil, err
		}
		return NewGuardedLogStore(s, resilience.NewCircuitBreaker("s3 log upload", resilience.DefaultCircuitBreakerConfig())), nil
	case opts.Dir != "":
		l, err := NewLocalLogStore(opts.Dir)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, nil
	}
}

// S3LogStore stores logs in S3-compatible storage
type S3LogStore struct {
	client     *s3.Client
	bucket     string
	prefix     string
	localCache string
	now        func() time.Time
}

// S3LogStoreConfig holds S3 configuration
type S3LogStoreConfig struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	LocalCacheDir   string // keeps a copy of every uploaded log
}

// NewS3LogStore creates a new S3-backed log store
func NewS3LogStore(cfg S3LogStoreConfig) (*S3LogStore, error) {
	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO
		})
	}

	if cfg.LocalCacheDir != "" {
		if err := os.MkdirAll(cfg.LocalCacheDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	return &S3LogStore{
		client:     s3.NewFromConfig(awsCfg, clientOpts...),
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		localCache: cfg.LocalCacheDir,
		now:        time.Now,
	}, nil
}

// Store uploads the run log to S3
func (s *S3LogStore) Store(ctx context.Context, runID, packageName string, logs []byte) (string, error) {
	key := s.buildKey(runID, packageName)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(logs),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload logs to S3: %w", err)
	}

	if s.localCache != "" {
		_ = os.WriteFile(filepath.Join(s.localCache, runID+".log"), logs, 0644)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Retrieve fetches logs from S3, preferring the local cache
func (s *S3LogStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	key := extractKey(reference)

	if s.localCache != "" {
		if data, err := os.ReadFile(filepath.Join(s.localCache, filepath.Base(key))); err == nil {
			return data, nil
		}
	}

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get logs from S3: %w", err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}
	return data, nil
}

// buildKey lays logs out as <prefix><package>/<yyyy/mm/dd>/<run>.log
func (s *S3LogStore) buildKey(runID, packageName string) string {
	return fmt.Sprintf("%s%s/%s/%s.log", s.prefix, packageName, s.now().UTC().Format("2006/01/02"), runID)
}

// extractKey strips the s3://bucket/ part of a reference
func extractKey(reference string) string {
	rest, ok := strings.CutPrefix(reference, "s3://")
	if !ok {
		return reference
	}
	if _, key, found := strings.Cut(rest, "/"); found {
		return key
	}
	return ""
}

// LocalLogStore stores logs on the local filesystem
type LocalLogStore struct {
	basePath string
}

// NewLocalLogStore creates a local filesystem log store
func NewLocalLogStore(basePath string) (*LocalLogStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &LocalLogStore{basePath: basePath}, nil
}

// Store writes logs to <base>/<package>/<run>.log
func (l *LocalLogStore) Store(ctx context.Context, runID, packageName string, logs []byte) (string, error) {
	dir := filepath.Join(l.basePath, packageName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(dir, runID+".log")
	if err := os.WriteFile(path, logs, 0644); err != nil {
		return "", fmt.Errorf("failed to write logs: %w", err)
	}
	return path, nil
}

// Retrieve fetches logs from local filesystem
func (l *LocalLogStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	return os.ReadFile(reference)
}
