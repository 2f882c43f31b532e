// internal/media/s3.go
// S3-compatible object store uploader used alongside the direct Postgres backend.
package media

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/purrfectlabs/purrfect-admin-go/internal/datauri"
	"github.com/purrfectlabs/purrfect-admin-go/internal/metrics"
)

// S3Options configures an S3Uploader.
type S3Options struct {
	Endpoint      string // Empty for AWS; set for MinIO and other S3-compatible services
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string // Overrides the derived public URL prefix
	MaxRetries    uint64 // Extra attempts after the first PutObject failure
}

// S3Uploader wraps the AWS S3 client for media uploads.
type S3Uploader struct {
	client  *s3.Client
	opts    S3Options
	metrics *metrics.Metrics
}

// NewS3Uploader creates an uploader for the given bucket.
// It supports both AWS S3 and S3-compatible services like MinIO.
func NewS3Uploader(ctx context.Context, opts S3Options) (*S3Uploader, error) {
	if opts.Bucket == "" {
		return nil, ErrNotConfigured
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.Endpoint != "" {
		loadOpts = append(loadOpts, config.WithBaseEndpoint(opts.Endpoint))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Path-style addressing is required for MinIO and other S3-compatible services
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.Endpoint != ""
	})

	return &S3Uploader{client: client, opts: opts, metrics: metrics.NewMetrics()}, nil
}

// Upload decodes dataURI and puts it at path with public-read access.
// PutObject overwrites, so repeated uploads of the same item are safe.
func (u *S3Uploader) Upload(ctx context.Context, dataURI, path string) (string, error) {
	mime, data, err := datauri.Parse(dataURI)
	if err != nil {
		u.metrics.UploadTotal.WithLabelValues("s3", "error").Inc()
		return "", err
	}

	put := func() error {
		_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:       aws.String(u.opts.Bucket),
			Key:          aws.String(path),
			Body:         bytes.NewReader(data),
			ContentType:  aws.String(mime),
			CacheControl: aws.String(cacheControl),
			ACL:          types.ObjectCannedACLPublicRead,
		})
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	err = backoff.Retry(put, backoff.WithContext(backoff.WithMaxRetries(policy, u.opts.MaxRetries), ctx))
	u.metrics.UploadTotal.WithLabelValues("s3", metrics.Status(err)).Inc()
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", path, err)
	}

	return u.PublicURL(path), nil
}

// PublicURL returns the public address of the object at path.
func (u *S3Uploader) PublicURL(path string) string {
	escaped := escapePath(path)
	switch {
	case u.opts.PublicBaseURL != "":
		return strings.TrimRight(u.opts.PublicBaseURL, "/") + "/" + escaped
	case u.opts.Endpoint != "":
		return strings.TrimRight(u.opts.Endpoint, "/") + "/" + u.opts.Bucket + "/" + escaped
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.opts.Bucket, u.opts.Region, escaped)
	}
}

// escapePath escapes each segment of an object key but keeps the separators.
func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
