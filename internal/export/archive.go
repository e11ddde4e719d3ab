package export

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"brokerdesk/api/internal/reports"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ArchiveConfig configures the S3-compatible bucket for generated reports.
type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// Archive stores rendered reports in object storage.
type Archive struct {
	client *minio.Client
	bucket string
	newID  func() string
}

// NewArchive builds an archive client. It does not contact the server; call
// EnsureBucket at startup.
func NewArchive(cfg ArchiveConfig) (*Archive, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return &Archive{client: client, bucket: cfg.Bucket, newID: uuid.NewString}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// ObjectKey is reports/<kind>/<date>-<id>.<ext>.
func ObjectKey(kind reports.Kind, generatedAt time.Time, id string, format Format) string {
	return fmt.Sprintf("reports/%s/%s-%s.%s", kind, generatedAt.Format("2006-01-02"), id, format.Extension())
}

// Put uploads a rendered report and returns its object key.
func (a *Archive) Put(ctx context.Context, kind reports.Kind, generatedAt time.Time, format Format, res *Result) (string, error) {
	if a == nil {
		return "", ErrArchiveDisabled
	}
	key := ObjectKey(kind, generatedAt, a.newID(), format)
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(res.Data), int64(len(res.Data)), minio.PutObjectOptions{
		ContentType:        res.MimeType,
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", res.Filename),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}

// PresignedURL returns a time-limited download link for an archived report.
func (a *Archive) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if a == nil {
		return "", ErrArchiveDisabled
	}
	u, err := a.client.PresignedGetObject(ctx, a.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}
