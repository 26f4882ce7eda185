// Package storage archives sync reports to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/ordersync/backend/internal/domain/integration"
	infraconfig "github.com/ordersync/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

var _ integration.SyncReportArchiver = (*S3ReportArchiver)(nil)

// ErrInvalidReport is returned when a report cannot be keyed
var ErrInvalidReport = errors.New("sync report is missing platform or sync id")

// objectAPI is the subset of the S3 client the archiver uses
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3ReportArchiver writes one JSON object per sync run.
// It works against AWS S3 as well as MinIO or RustFS.
type S3ReportArchiver struct {
	client objectAPI
	bucket string
	prefix string
	logger *zap.Logger
}

// S3ReportArchiverOption is a functional option for configuring S3ReportArchiver
type S3ReportArchiverOption func(*S3ReportArchiver)

// WithLogger sets a custom logger for S3ReportArchiver
func WithLogger(logger *zap.Logger) S3ReportArchiverOption {
	return func(a *S3ReportArchiver) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// withClient swaps the S3 client, used by tests
func withClient(c objectAPI) S3ReportArchiverOption {
	return func(a *S3ReportArchiver) {
		a.client = c
	}
}

// NewS3ReportArchiver creates an archiver from the archive configuration
func NewS3ReportArchiver(cfg *infraconfig.ArchiveConfig, opts ...S3ReportArchiverOption) (*S3ReportArchiver, error) {
	if cfg == nil {
		return nil, errors.New("archive configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	if cfg.AccessKey == "" {
		return nil, errors.New("archive access key is required")
	}
	if cfg.SecretKey == "" {
		return nil, errors.New("archive secret key is required")
	}

	endpoint, err := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		o.BaseEndpoint = aws.String(endpoint)
	})

	a := &S3ReportArchiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func normalizeEndpoint(endpoint string, useSSL bool) (string, error) {
	if endpoint == "" {
		endpoint = "http://localhost:9000"
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if useSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	if _, err := url.Parse(endpoint); err != nil {
		return "", fmt.Errorf("invalid archive endpoint: %w", err)
	}
	return endpoint, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
// Call this during startup so the first archive write does not fail.
func (a *S3ReportArchiver) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	a.logger.Info("Creating archive bucket", zap.String("bucket", a.bucket))
	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// ReportKey returns the object key for a report:
// <prefix><platform>/<yyyy>/<mm>/<dd>/<sync_id>.json, dated by run start in UTC.
func (a *S3ReportArchiver) ReportKey(report *integration.SyncReport) string {
	e := report.Entry
	day := e.StartedAt.UTC().Format("2006/01/02")
	return a.prefix + path.Join(strings.ToLower(string(e.Platform)), day, e.SyncID.String()+".json")
}

// Archive uploads the report as JSON
func (a *S3ReportArchiver) Archive(ctx context.Context, report *integration.SyncReport) error {
	if report == nil || report.Entry.Platform == "" || report.Entry.SyncID == uuid.Nil {
		return ErrInvalidReport
	}

	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode sync report: %w", err)
	}

	key := a.ReportKey(report)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("failed to upload sync report %s: %w", key, err)
	}

	a.logger.Debug("Sync report archived",
		zap.String("bucket", a.bucket),
		zap.String("key", key),
		zap.Int("size_bytes", len(body)),
	)
	return nil
}

// GetBucket returns the bucket name
func (a *S3ReportArchiver) GetBucket() string {
	return a.bucket
}
