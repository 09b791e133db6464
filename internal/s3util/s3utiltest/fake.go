// Package s3utiltest provides in-memory fakes for s3util.ObjectAPI and
// s3util.Presigner.
package s3utiltest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/fpang/image-analysis-pipeline/internal/s3util"
)

// Objects is an in-memory bucket. Keys are object keys; the bucket name is ignored.
type Objects struct {
	mu      sync.Mutex
	data    map[string][]byte
	Tags    map[string][]s3types.Tag
	Deleted []string

	// DeleteErr and TagErr, when set, are returned by the matching calls.
	DeleteErr error
	TagErr    error
}

var _ s3util.ObjectAPI = (*Objects)(nil)

func NewObjects() *Objects {
	return &Objects{data: make(map[string][]byte), Tags: make(map[string][]s3types.Tag)}
}

// Put stores an object.
func (o *Objects) Put(key string, body []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.data[key] = body
}

// Has reports whether key exists.
func (o *Objects) Has(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.data[key]
	return ok
}

func (o *Objects) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	body, ok := o.data[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(body)))}, nil
}

func (o *Objects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	body, ok := o.data[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	if r := aws.ToString(in.Range); r != "" {
		// Only "bytes=0-N" is supported.
		end, err := strconv.Atoi(strings.TrimPrefix(r, "bytes=0-"))
		if err != nil {
			return nil, fmt.Errorf("unsupported range %q", r)
		}
		if end+1 < len(body) {
			body = body[:end+1]
		}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (o *Objects) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.DeleteErr != nil {
		return nil, o.DeleteErr
	}
	key := aws.ToString(in.Key)
	delete(o.data, key)
	o.Deleted = append(o.Deleted, key)
	return &s3.DeleteObjectOutput{}, nil
}

func (o *Objects) PutObjectTagging(_ context.Context, in *s3.PutObjectTaggingInput, _ ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.TagErr != nil {
		return nil, o.TagErr
	}
	o.Tags[aws.ToString(in.Key)] = in.Tagging.TagSet
	return &s3.PutObjectTaggingOutput{}, nil
}

// Presigner returns deterministic fake URLs of the form
// https://{bucket}.s3.test/{key}?method=GET&expires=3600.
type Presigner struct {
	Err error
	// LastContentType is the content type of the most recent PUT request.
	LastContentType string
}

var _ s3util.Presigner = (*Presigner)(nil)

func (p *Presigner) sign(method, bucket, key string, optFns []func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	q := url.Values{}
	q.Set("method", method)
	q.Set("expires", strconv.Itoa(int(opts.Expires.Seconds())))
	return &v4.PresignedHTTPRequest{
		URL:    fmt.Sprintf("https://%s.s3.test/%s?%s", bucket, key, q.Encode()),
		Method: method,
	}, nil
}

func (p *Presigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return p.sign("GET", aws.ToString(in.Bucket), aws.ToString(in.Key), optFns)
}

func (p *Presigner) PresignPutObject(_ context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	p.LastContentType = aws.ToString(in.ContentType)
	return p.sign("PUT", aws.ToString(in.Bucket), aws.ToString(in.Key), optFns)
}
