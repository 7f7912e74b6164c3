package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Storage stores documents in a MinIO bucket and uploads routed documents to
// arbitrary buckets on the same server.
type Storage struct {
	client   *minio.Client
	bucket   string
	region   string
	executor *resilience.Executor
}

func New(ctx context.Context, opts Options, executor *resilience.Executor) (*Storage, error) {
	if strings.TrimSpace(opts.Endpoint) == "" || strings.TrimSpace(opts.Bucket) == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "minio storage", fmt.Errorf("endpoint and bucket are required"))
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	s := &Storage{client: client, bucket: opts.Bucket, region: opts.Region, executor: executor}
	if err := s.ensureBucket(ctx, opts.Bucket); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) Save(ctx context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("read document body: %w", err)
	}
	return s.put(ctx, "minio.save", s.bucket, key, raw)
}

func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	var raw []byte
	err := s.execute(ctx, "minio.open", func(callCtx context.Context) error {
		obj, err := s.client.GetObject(callCtx, s.bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return err
		}
		defer obj.Close()
		body, err := io.ReadAll(obj)
		if err != nil {
			return err
		}
		raw = body
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "minio open", err)
		}
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	err := s.execute(ctx, "minio.delete", func(callCtx context.Context) error {
		return s.client.RemoveObject(callCtx, s.bucket, key, minio.RemoveObjectOptions{})
	})
	if err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

func (s *Storage) URL(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

// Upload writes data into bucket (created on demand) and returns its s3:// URI.
func (s *Storage) Upload(ctx context.Context, bucket, key string, data io.Reader, _ int64) (string, error) {
	raw, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read upload body: %w", err)
	}
	if err := s.ensureBucket(ctx, bucket); err != nil {
		return "", err
	}
	if err := s.put(ctx, "minio.upload", bucket, key, raw); err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", bucket, key), nil
}

func (s *Storage) put(ctx context.Context, op, bucket, key string, raw []byte) error {
	err := s.execute(ctx, op, func(callCtx context.Context) error {
		_, err := s.client.PutObject(callCtx, bucket, key, bytes.NewReader(raw), int64(len(raw)), minio.PutObjectOptions{})
		return err
	})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *Storage) ensureBucket(ctx context.Context, bucket string) error {
	return s.execute(ctx, "minio.ensure_bucket", func(callCtx context.Context) error {
		exists, err := s.client.BucketExists(callCtx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if exists {
			return nil
		}
		if err := s.client.MakeBucket(callCtx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		return nil
	})
}

func (s *Storage) execute(ctx context.Context, op string, fn func(context.Context) error) error {
	if s.executor == nil {
		return fn(ctx)
	}
	return s.executor.Execute(ctx, op, fn, classifyMinioError)
}

func classifyMinioError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.StatusCode >= 500, resp.StatusCode == 429:
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	case resp.StatusCode >= 400:
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}
