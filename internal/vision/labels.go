package vision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"

	"github.com/fpang/image-analysis-pipeline/internal/analysis"
)

// Labels detects objects and scenes.
func (a *Analyzer) Labels(ctx context.Context, ref analysis.ImageRef) (*analysis.LabelsResult, error) {
	out, err := a.client.DetectLabels(ctx, &rekognition.DetectLabelsInput{
		Image:         a.image(ref),
		MaxLabels:     aws.Int32(MaxLabels),
		MinConfidence: aws.Float32(LabelMinConfidence),
	})
	if err != nil {
		return nil, fmt.Errorf("DetectLabels %s: %w", ref.ObjectKey, err)
	}

	labels := make([]analysis.Label, 0, len(out.Labels))
	for _, l := range out.Labels {
		label := analysis.Label{
			Name:       aws.ToString(l.Name),
			Confidence: round32(l.Confidence),
			Parents:    make([]string, 0, len(l.Parents)),
		}
		for _, p := range l.Parents {
			label.Parents = append(label.Parents, aws.ToString(p.Name))
		}
		for _, inst := range l.Instances {
			label.Instances = append(label.Instances, analysis.LabelInstance{
				Confidence:  round32(inst.Confidence),
				BoundingBox: box(inst.BoundingBox),
			})
		}
		labels = append(labels, label)
	}
	sortByConfidence(labels, func(l analysis.Label) float64 { return l.Confidence })

	return &analysis.LabelsResult{Timestamp: a.now().Unix(), Labels: labels}, nil
}
