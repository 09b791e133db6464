// Package vision adapts Amazon Rekognition responses into the stage result
// types of package analysis. Each stage is one Rekognition call against an
// S3 object reference; the adapter flattens the nested SDK structures,
// rounds confidences to two decimals and sorts detections by confidence.
package vision

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-analysis-pipeline/internal/analysis"
	"github.com/fpang/image-analysis-pipeline/internal/metrics"
)

// Detection thresholds.
const (
	MaxLabels               = 50
	LabelMinConfidence      = 70
	ModerationMinConfidence = 50
	// EmotionMinConfidence drops emotions the detector is unsure about.
	EmotionMinConfidence = 10
)

// RekognitionAPI is the subset of the Rekognition client used by the stages.
type RekognitionAPI interface {
	DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
	DetectFaces(ctx context.Context, params *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
	DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
	DetectModerationLabels(ctx context.Context, params *rekognition.DetectModerationLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectModerationLabelsOutput, error)
	RecognizeCelebrities(ctx context.Context, params *rekognition.RecognizeCelebritiesInput, optFns ...func(*rekognition.Options)) (*rekognition.RecognizeCelebritiesOutput, error)
}

// Analyzer runs vision stages against images stored in S3.
type Analyzer struct {
	client RekognitionAPI
	bucket string
	now    func() time.Time
}

// NewAnalyzer creates an Analyzer. bucket is used when an ImageRef does not
// name one.
func NewAnalyzer(client RekognitionAPI, bucket string) *Analyzer {
	return &Analyzer{client: client, bucket: bucket, now: time.Now}
}

func (a *Analyzer) image(ref analysis.ImageRef) *types.Image {
	bucket := ref.Bucket
	if bucket == "" {
		bucket = a.bucket
	}
	return &types.Image{
		S3Object: &types.S3Object{
			Bucket: aws.String(bucket),
			Name:   aws.String(ref.ObjectKey),
		},
	}
}

// Run executes one stage and wraps its result in the workflow envelope.
func (a *Analyzer) Run(ctx context.Context, stage analysis.Stage, ref analysis.ImageRef) (analysis.StageOutput, error) {
	if ref.ObjectKey == "" {
		return analysis.StageOutput{}, fmt.Errorf("%s: objectKey is required", stage)
	}

	start := time.Now()
	var (
		result analysis.StageResult
		err    error
	)
	switch stage {
	case analysis.StageLabels:
		result, err = a.Labels(ctx, ref)
	case analysis.StageFaces:
		result, err = a.Faces(ctx, ref)
	case analysis.StageText:
		result, err = a.Text(ctx, ref)
	case analysis.StageModeration:
		result, err = a.Moderation(ctx, ref)
	case analysis.StageCelebrities:
		result, err = a.Celebrities(ctx, ref)
	default:
		return analysis.StageOutput{}, fmt.Errorf("unknown vision stage %q", stage)
	}
	if err != nil {
		return analysis.StageOutput{}, err
	}

	elapsed := time.Since(start)
	metrics.New().
		Dimension("Stage", string(stage)).
		Duration(metrics.MetricStageLatency, elapsed).
		Flush()
	log.Info().
		Str("stage", string(stage)).
		Str("objectKey", ref.ObjectKey).
		Dur("duration", elapsed).
		Msg("Vision stage complete")
	return analysis.NewStageOutput(ref, result), nil
}

func round32(f *float32) float64 {
	return analysis.Round2(float64(aws.ToFloat32(f)))
}

func box(b *types.BoundingBox) *analysis.BoundingBox {
	if b == nil {
		return nil
	}
	return &analysis.BoundingBox{
		Width:  float64(aws.ToFloat32(b.Width)),
		Height: float64(aws.ToFloat32(b.Height)),
		Left:   float64(aws.ToFloat32(b.Left)),
		Top:    float64(aws.ToFloat32(b.Top)),
	}
}

// sortByConfidence sorts items by confidence, highest first, keeping the
// detector's order for ties.
func sortByConfidence[T any](items []T, conf func(T) float64) {
	slices.SortStableFunc(items, func(a, b T) int {
		return cmp.Compare(conf(b), conf(a))
	})
}
