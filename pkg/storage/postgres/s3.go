package postgres

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bricksaw/warden/pkg/storage"
)

var archiveTracer = otel.Tracer("warden/storage/archive")

// ArchiveClient writes audit archive exports to S3-compatible object storage.
// Exports are copies; the audit log itself is never pruned by the archiver.
type ArchiveClient struct {
	client *s3.Client
	bucket string
	config storage.Config
}

// NewArchiveClient creates a new archive client
func NewArchiveClient(cfg storage.Config) (*ArchiveClient, error) {
	ctx := context.Background()

	var awsConfig aws.Config
	var err error

	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		// Static credentials (for MinIO or AWS with explicit keys)
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.S3Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.S3AccessKey,
				cfg.S3SecretKey,
				"",
			)),
		)
	} else {
		// Default credential chain (IAM roles, env vars, etc.)
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.S3Region),
		)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		if cfg.S3UsePathStyle {
			o.UsePathStyle = true
		}
	})

	// Create bucket if it doesn't exist (for local dev with MinIO)
	if err := createBucketIfNotExists(ctx, s3Client, cfg.S3Bucket); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return &ArchiveClient{
		client: s3Client,
		bucket: cfg.S3Bucket,
		config: cfg,
	}, nil
}

// ArchiveKey builds the object key for an export batch cut at the given time
func ArchiveKey(cutoff time.Time) string {
	return fmt.Sprintf("audit/%s/entries-%d.jsonl", cutoff.UTC().Format("2006/01/02"), cutoff.UTC().Unix())
}

// PutArchive uploads an export batch to S3
func (c *ArchiveClient) PutArchive(ctx context.Context, key string, content io.Reader) error {
	ctx, span := archiveTracer.Start(ctx, "Archive.PutArchive",
		trace.WithAttributes(
			attribute.String("s3.operation", "PutObject"),
			attribute.String("s3.bucket", c.bucket),
			attribute.String("s3.key", key),
		),
	)
	defer span.End()

	// Read content to calculate hash and size
	data, err := io.ReadAll(content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read content")
		return fmt.Errorf("failed to read content: %w", err)
	}

	span.SetAttributes(attribute.Int("content.size", len(data)))

	hash := sha256.Sum256(data)
	checksum := hex.EncodeToString(hash[:])

	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"checksum-sha256": checksum,
		},
	})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload to s3")
		return fmt.Errorf("failed to upload to s3: %w", err)
	}

	span.SetStatus(codes.Ok, "archive uploaded successfully")
	return nil
}

// GetArchive retrieves an export batch from S3
func (c *ArchiveClient) GetArchive(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx, span := archiveTracer.Start(ctx, "Archive.GetArchive",
		trace.WithAttributes(
			attribute.String("s3.operation", "GetObject"),
			attribute.String("s3.bucket", c.bucket),
			attribute.String("s3.key", key),
		),
	)
	defer span.End()

	result, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get object from s3")
		return nil, fmt.Errorf("failed to get object from s3: %w", err)
	}

	if result.ContentLength != nil {
		span.SetAttributes(attribute.Int64("content.size", *result.ContentLength))
	}
	span.SetStatus(codes.Ok, "archive retrieved successfully")
	return result.Body, nil
}

// ArchiveExists checks if an export batch already exists
func (c *ArchiveClient) ArchiveExists(ctx context.Context, key string) (bool, error) {
	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})

	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}

	return true, nil
}

// HealthCheck verifies S3 connectivity
func (c *ArchiveClient) HealthCheck(ctx context.Context) error {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})

	if err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}

	return nil
}

func createBucketIfNotExists(ctx context.Context, client *s3.Client, bucket string) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})

	if err == nil {
		return nil
	}

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	})

	if err != nil {
		// Lost the creation race; another node owns the bucket now
		if !isBucketAlreadyExistsError(err) {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

func isNotFoundError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey"))
}

func isBucketAlreadyExistsError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "BucketAlreadyExists") || strings.Contains(err.Error(), "BucketAlreadyOwnedByYou"))
}
