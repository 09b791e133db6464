package s3util

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
)

// IsNotFound reports whether err is S3's answer for a missing key.
// HeadObject has no body, so it surfaces as a generic "NotFound" API error
// rather than *types.NoSuchKey.
func IsNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// ObjectInfo is the subset of HeadObject output the handlers use.
type ObjectInfo struct {
	Size        int64
	ContentType string
}

// Head returns size and content type of an object.
func Head(ctx context.Context, client ObjectAPI, bucket, key string) (*ObjectInfo, error) {
	out, err := client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, fmt.Errorf("S3 HeadObject %s: %w", key, err)
	}
	return &ObjectInfo{
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
	}, nil
}

// ReadPrefix downloads at most n bytes from the start of an object using a
// ranged GET. Image headers and EXIF blocks live at the front of the file.
func ReadPrefix(ctx context.Context, client ObjectAPI, bucket, key string, n int64) ([]byte, error) {
	rng := fmt.Sprintf("bytes=0-%d", n-1)
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Range:  &rng,
	})
	if err != nil {
		return nil, fmt.Errorf("S3 GetObject %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, n))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	log.Debug().Str("key", key).Int("bytes", len(data)).Msg("Read object prefix from S3")
	return data, nil
}

// DeleteObject removes an object. A key that is already gone is not an error.
func DeleteObject(ctx context.Context, client ObjectAPI, bucket, key string) error {
	_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		if IsNotFound(err) {
			log.Debug().Str("key", key).Msg("Object already deleted")
			return nil
		}
		return fmt.Errorf("S3 DeleteObject %s: %w", key, err)
	}
	return nil
}
