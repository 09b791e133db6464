package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/fpang/image-analysis-pipeline/internal/analysis"
)

// Text runs OCR. Lines and words are sorted by confidence and combinedText
// joins the lines in that order.
func (a *Analyzer) Text(ctx context.Context, ref analysis.ImageRef) (*analysis.TextResult, error) {
	out, err := a.client.DetectText(ctx, &rekognition.DetectTextInput{Image: a.image(ref)})
	if err != nil {
		return nil, fmt.Errorf("DetectText %s: %w", ref.ObjectKey, err)
	}

	lines := []analysis.TextDetection{}
	words := []analysis.TextDetection{}
	for _, td := range out.TextDetections {
		det := analysis.TextDetection{
			DetectedText: aws.ToString(td.DetectedText),
			Confidence:   round32(td.Confidence),
		}
		if td.Geometry != nil {
			det.BoundingBox = box(td.Geometry.BoundingBox)
		}
		switch td.Type {
		case types.TextTypesLine:
			lines = append(lines, det)
		case types.TextTypesWord:
			words = append(words, det)
		}
	}
	sortByConfidence(lines, func(d analysis.TextDetection) float64 { return d.Confidence })
	sortByConfidence(words, func(d analysis.TextDetection) float64 { return d.Confidence })

	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, l.DetectedText)
	}

	return &analysis.TextResult{
		Timestamp:    a.now().Unix(),
		HasText:      len(lines) > 0,
		CombinedText: strings.Join(parts, " "),
		Lines:        lines,
		Words:        words,
	}, nil
}
