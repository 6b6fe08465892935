package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/maytees/homifyai-sub000/internal/types"
)

// s3API is the subset of *s3.Client used by S3Store.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Config configures an S3-compatible bucket.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	PresignTTL      time.Duration
}

var _ ObjectStore = (*S3Store)(nil)

// S3Store stores objects in an S3-compatible bucket.
type S3Store struct {
	client     s3API
	presigner  presignAPI
	bucket     string
	presignTTL time.Duration
	urls       *cache.Cache
	logger     *slog.Logger
}

// NewS3Store builds a store from static credentials, falling back to the default AWS chain.
func NewS3Store(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newS3Store(client, s3.NewPresignClient(client), cfg.Bucket, cfg.PresignTTL, logger), nil
}

func newS3Store(client s3API, presigner presignAPI, bucket string, presignTTL time.Duration, logger *slog.Logger) *S3Store {
	if presignTTL <= 0 {
		presignTTL = time.Hour
	}
	return &S3Store{
		client:     client,
		presigner:  presigner,
		bucket:     bucket,
		presignTTL: presignTTL,
		// URLs are reused for half their lifetime so callers never receive one about to expire.
		urls:   cache.New(presignTTL/2, presignTTL),
		logger: logger,
	}
}

func (s *S3Store) span(ctx context.Context, name, key string) (context.Context, trace.Span) {
	return otel.Tracer("S3Store").Start(ctx, name, trace.WithAttributes(
		attribute.String("s3.bucket", s.bucket),
		attribute.String("s3.key", key),
	))
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	ctx, span := s.span(ctx, "Put", key)
	defer span.End()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to put object", slog.String("key", key), slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "put failed")
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	span.SetStatus(codes.Ok, "stored")
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	ctx, span := s.span(ctx, "Get", key)
	defer span.End()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			span.SetStatus(codes.Error, "not found")
			return nil, "", fmt.Errorf("object %s: %w", key, types.ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "get failed")
		return nil, "", fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		span.RecordError(err)
		return nil, "", fmt.Errorf("failed to read object %s: %w", key, err)
	}
	contentType := aws.ToString(out.ContentType)
	if contentType == "" {
		contentType = MediaTypeFor(key)
	}
	span.SetStatus(codes.Ok, "fetched")
	return data, contentType, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	ctx, span := s.span(ctx, "Delete", key)
	defer span.End()

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	s.urls.Delete(key)
	span.SetStatus(codes.Ok, "deleted")
	return nil
}

func (s *S3Store) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	ctx, span := s.span(ctx, "DeletePrefix", prefix)
	defer span.End()

	deleted := 0
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "list failed")
			return deleted, fmt.Errorf("failed to list objects under %s: %w", prefix, err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		ids := make([]s3types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, s3types.ObjectIdentifier{Key: obj.Key})
			s.urls.Delete(aws.ToString(obj.Key))
		}
		if _, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		}); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "delete failed")
			return deleted, fmt.Errorf("failed to delete objects under %s: %w", prefix, err)
		}
		deleted += len(ids)
	}

	span.SetAttributes(attribute.Int("s3.deleted", deleted))
	span.SetStatus(codes.Ok, "deleted")
	return deleted, nil
}

func (s *S3Store) PresignGet(ctx context.Context, key string) (string, error) {
	if cached, ok := s.urls.Get(key); ok {
		return cached.(string), nil
	}

	ctx, span := s.span(ctx, "PresignGet", key)
	defer span.End()

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "presign failed")
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	s.urls.SetDefault(key, req.URL)
	span.SetStatus(codes.Ok, "presigned")
	return req.URL, nil
}
