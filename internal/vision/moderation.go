package vision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"

	"github.com/fpang/image-analysis-pipeline/internal/analysis"
)

// Moderation detects unsafe content. The image is safe when no label
// reaches ModerationMinConfidence.
func (a *Analyzer) Moderation(ctx context.Context, ref analysis.ImageRef) (*analysis.ModerationResult, error) {
	out, err := a.client.DetectModerationLabels(ctx, &rekognition.DetectModerationLabelsInput{
		Image:         a.image(ref),
		MinConfidence: aws.Float32(ModerationMinConfidence),
	})
	if err != nil {
		return nil, fmt.Errorf("DetectModerationLabels %s: %w", ref.ObjectKey, err)
	}

	labels := make([]analysis.ModerationLabel, 0, len(out.ModerationLabels))
	for _, l := range out.ModerationLabels {
		labels = append(labels, analysis.ModerationLabel{
			Name:       aws.ToString(l.Name),
			ParentName: aws.ToString(l.ParentName),
			Confidence: round32(l.Confidence),
		})
	}
	sortByConfidence(labels, func(l analysis.ModerationLabel) float64 { return l.Confidence })

	return &analysis.ModerationResult{
		Timestamp:        a.now().Unix(),
		IsSafe:           len(labels) == 0,
		ModerationLabels: labels,
	}, nil
}
