package s3util

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	projectTagKey   = "Project"
	projectTagValue = "image-analysis-pipeline"
)

// TagObject applies the Project cost-allocation tag to an existing object.
// Browser uploads go through presigned URLs and cannot be tagged at
// creation time, so the trigger tags them after the fact.
func TagObject(ctx context.Context, client ObjectAPI, bucket, key string) error {
	_, err := client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket: &bucket,
		Key:    &key,
		Tagging: &s3types.Tagging{
			TagSet: []s3types.Tag{
				{Key: aws.String(projectTagKey), Value: aws.String(projectTagValue)},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("PutObjectTagging: %w", err)
	}
	return nil
}
