// Package s3util provides the S3 helpers shared by the Lambda handlers:
// presigned URLs, header reads, idempotent deletes and object tagging.
//
// Functions take the narrow ObjectAPI and Presigner interfaces rather than
// *s3.Client so handlers can be tested with fakes.
package s3util

import (
	"context"
	"path"
	"strings"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectAPI is the subset of the S3 client used by the handlers.
type ObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	PutObjectTagging(ctx context.Context, params *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error)
}

// Presigner is the subset of *s3.PresignClient used for browser URLs.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// imageContentTypes is the upload allow-list, keyed by lower-case extension.
// The content type is always image/{ext}; browsers upload with exactly the
// type the PUT URL was signed for.
var imageContentTypes = map[string]string{
	".jpg":  "image/jpg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
}

// ImageContentType returns the content type for an allowed image file name
// or object key, and false when the extension is not on the allow-list.
func ImageContentType(name string) (string, bool) {
	ct, ok := imageContentTypes[strings.ToLower(path.Ext(name))]
	return ct, ok
}

// Ext returns the lower-case extension of name without the leading dot.
func Ext(name string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
}
