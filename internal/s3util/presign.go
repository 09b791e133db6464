package s3util

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	// ViewURLExpiry is the lifetime of presigned GET URLs handed to browsers.
	ViewURLExpiry = time.Hour
	// UploadURLExpiry is the lifetime of presigned PUT URLs.
	UploadURLExpiry = 5 * time.Minute
)

// GeneratePresignedURL creates a pre-signed GET URL for an S3 object.
func GeneratePresignedURL(ctx context.Context, presigner Presigner, bucket, key string, expiry time.Duration) (string, error) {
	result, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket, Key: &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject: %w", err)
	}
	return result.URL, nil
}

// GeneratePresignedUploadURL creates a pre-signed PUT URL. The signature
// covers contentType, so the browser must send the same Content-Type header.
func GeneratePresignedUploadURL(ctx context.Context, presigner Presigner, bucket, key, contentType string, expiry time.Duration) (string, error) {
	result, err := presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		ContentType: &contentType,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign PutObject: %w", err)
	}
	return result.URL, nil
}
