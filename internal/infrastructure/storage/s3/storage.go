package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

type Options struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// Endpoint targets an S3-compatible service; path-style addressing is used when set.
	Endpoint string
}

type Storage struct {
	client   *s3.Client
	bucket   string
	executor *resilience.Executor
}

func New(ctx context.Context, opts Options, executor *resilience.Executor) (*Storage, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "s3 storage", fmt.Errorf("bucket is required"))
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	s := &Storage{client: client, bucket: opts.Bucket, executor: executor}
	err = s.execute(ctx, "s3.head_bucket", func(callCtx context.Context) error {
		_, err := client.HeadBucket(callCtx, &s3.HeadBucketInput{Bucket: aws.String(opts.Bucket)})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("verify bucket %s: %w", opts.Bucket, err)
	}
	return s, nil
}

func (s *Storage) Save(ctx context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("read document body: %w", err)
	}
	return s.put(ctx, "s3.save", s.bucket, key, raw)
}

func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	var raw []byte
	err := s.execute(ctx, "s3.open", func(callCtx context.Context) error {
		out, err := s.client.GetObject(callCtx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()
		body, err := io.ReadAll(out.Body)
		if err != nil {
			return err
		}
		raw = body
		return nil
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "s3 open", err)
		}
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	err := s.execute(ctx, "s3.delete", func(callCtx context.Context) error {
		_, err := s.client.DeleteObject(callCtx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (s *Storage) URL(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

func (s *Storage) Upload(ctx context.Context, bucket, key string, data io.Reader, _ int64) (string, error) {
	raw, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read upload body: %w", err)
	}
	if err := s.put(ctx, "s3.upload", bucket, key, raw); err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", bucket, key), nil
}

func (s *Storage) put(ctx context.Context, op, bucket, key string, raw []byte) error {
	err := s.execute(ctx, op, func(callCtx context.Context) error {
		_, err := s.client.PutObject(callCtx, &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(raw),
			ContentLength: aws.Int64(int64(len(raw))),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *Storage) execute(ctx context.Context, op string, fn func(context.Context) error) error {
	if s.executor == nil {
		return fn(ctx)
	}
	return s.executor.Execute(ctx, op, fn, classifyS3Error)
}

func classifyS3Error(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	var missing *types.NoSuchKey
	if errors.As(err, &missing) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}
