package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Skryldev/image-ingest/config"
	"github.com/Skryldev/image-ingest/core"
	apperrors "github.com/Skryldev/image-ingest/errors"
)

// S3Client is the subset of *s3.Client used by the adapter. Tests inject
// doubles through it.
type S3Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 is the primary cloud provider: any S3-compatible object store
// (AWS S3, Cloudflare R2, MinIO).
type S3 struct {
	client  S3Client
	bucket  string
	baseURL string
}

// NewS3 creates an S3 adapter around client. A nil client yields an
// unconfigured provider that the router skips.
func NewS3(client S3Client, cfg config.CloudConfig) *S3 {
	return &S3{client: client, bucket: cfg.Bucket, baseURL: publicBase(cfg)}
}

// DialS3 builds a real client from cfg. It returns an unconfigured adapter,
// not an error, when credentials are absent.
func DialS3(ctx context.Context, cfg config.CloudConfig) (*S3, error) {
	if !cfg.Configured() {
		return NewS3(nil, cfg), nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "s3.config", err)
	}
	endpoint := endpointFor(cfg)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3(client, cfg), nil
}

func (s *S3) Name() string               { return "s3" }
func (s *S3) Target() core.StorageTarget { return core.TargetCloudPrimary }
func (s *S3) Configured() bool           { return s.client != nil && s.bucket != "" }

func (s *S3) objectKey(key core.StorageKey) string {
	return key.Bucket + "/" + key.Path
}

func (s *S3) Put(ctx context.Context, key core.StorageKey, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.Wrap(apperrors.CategoryStorage, "s3.put", err)
	}
	if !s.Configured() {
		return "", apperrors.New(apperrors.CategoryStorage, "s3.put", apperrors.ErrProviderNotConfigured)
	}
	k := s.objectKey(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(k),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", apperrors.Wrap(apperrors.CategoryStorage, "s3.put", err)
		}
		return "", apperrors.Transient("s3.put", err)
	}
	return s.baseURL + "/" + k, nil
}

func (s *S3) Delete(ctx context.Context, key core.StorageKey) error {
	if !s.Configured() {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	return apperrors.Wrap(apperrors.CategoryStorage, "s3.delete", err)
}

// endpointFor returns the configured endpoint or the R2-style account
// endpoint derived from the account ID.
func endpointFor(cfg config.CloudConfig) string {
	if cfg.Endpoint != "" {
		return strings.TrimRight(cfg.Endpoint, "/")
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
}

func publicBase(cfg config.CloudConfig) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	}
	return endpointFor(cfg) + "/" + cfg.Bucket
}

var _ core.StorageProvider = (*S3)(nil)
