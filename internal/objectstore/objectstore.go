// Package objectstore is a thin boundary over an S3-compatible store,
// issuing presigned PUT/GET, HEAD existence checks, and local
// upload/download for the job runner.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"

	"videobrief/internal/apperr"
	"videobrief/internal/config"
)

// Gateway is the ObjectStoreGateway implementation.
type Gateway struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// Open constructs a Gateway and verifies bucket access.
func Open(ctx context.Context, cfg config.ObjectStoreConfig) (*Gateway, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
			awsconfig.WithRegion(cfg.Region),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = cfg.UsePathStyle
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("access bucket %s: %w", cfg.Bucket, err)
	}

	slog.Info("object store gateway initialized", "bucket", cfg.Bucket, "endpoint", cfg.EndpointURL)
	return &Gateway{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
	}, nil
}

// Key builds the owner-prefixed storage key.
func Key(ownerID, videoID, suffix string) string {
	return fmt.Sprintf("videos/%s/%s%s", ownerID, videoID, suffix)
}

// IssuePut returns a time-limited URL that accepts a single PUT of the
// given content type.
func (g *Gateway) IssuePut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	req, err := g.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, func(o *s3.PresignOptions) { o.Expires = ttl })
	if err != nil {
		return "", apperr.StorageUnavailable(err, "issue presigned PUT for %s", key)
	}
	return req.URL, nil
}

// IssueGet returns a time-limited read URL.
func (g *Gateway) IssueGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := g.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignOptions) { o.Expires = ttl })
	if err != nil {
		return "", apperr.StorageUnavailable(err, "issue presigned GET for %s", key)
	}
	return req.URL, nil
}

// Exists performs a HEAD check.
func (g *Gateway) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(g.bucket), Key: aws.String(key)})
	if err != nil {
		var notFound *types.NotFound
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
			return false, nil
		}
		return false, apperr.StorageUnavailable(err, "head object %s", key)
	}
	return true, nil
}

// Delete removes an object; a missing object is treated as success so the
// call stays idempotent.
func (g *Gateway) Delete(ctx context.Context, key string) error {
	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(g.bucket), Key: aws.String(key)})
	if err != nil {
		return apperr.StorageUnavailable(err, "delete object %s", key)
	}
	return nil
}

// PutLocal uploads a local file, retrying transient failures, and returns
// the number of bytes written.
func (g *Gateway) PutLocal(ctx context.Context, path, key, contentType string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}

	op := func() error {
		file, err := os.Open(path)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("open %s: %w", path, err))
		}
		defer file.Close()

		input := &s3.PutObjectInput{
			Bucket: aws.String(g.bucket),
			Key:    aws.String(key),
			Body:   file,
		}
		if contentType != "" {
			input.ContentType = aws.String(contentType)
		}
		_, err = g.client.PutObject(ctx, input)
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		return 0, apperr.StorageUnavailable(err, "upload %s to %s", path, key)
	}
	slog.Info("object uploaded", "key", key, "bytes", info.Size())
	return info.Size(), nil
}

// GetToLocal streams an object to a new temporary file and returns its path.
func (g *Gateway) GetToLocal(ctx context.Context, key, tmpDir string) (string, error) {
	var path string
	op := func() error {
		result, err := g.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(g.bucket), Key: aws.String(key)})
		if err != nil {
			return err
		}
		defer result.Body.Close()

		tmp, err := os.CreateTemp(tmpDir, "objectstore-*")
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create temp file: %w", err))
		}
		defer tmp.Close()

		if _, err := io.Copy(tmp, result.Body); err != nil {
			return fmt.Errorf("write temp file: %w", err)
		}
		path = tmp.Name()
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		return "", apperr.StorageUnavailable(err, "download %s", key)
	}
	return path, nil
}
