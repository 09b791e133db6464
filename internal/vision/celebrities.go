package vision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"

	"github.com/fpang/image-analysis-pipeline/internal/analysis"
)

// Celebrities recognizes well-known people and reports the remaining faces
// as unrecognized.
func (a *Analyzer) Celebrities(ctx context.Context, ref analysis.ImageRef) (*analysis.CelebritiesResult, error) {
	out, err := a.client.RecognizeCelebrities(ctx, &rekognition.RecognizeCelebritiesInput{Image: a.image(ref)})
	if err != nil {
		return nil, fmt.Errorf("RecognizeCelebrities %s: %w", ref.ObjectKey, err)
	}

	celebs := make([]analysis.Celebrity, 0, len(out.CelebrityFaces))
	for _, c := range out.CelebrityFaces {
		celeb := analysis.Celebrity{
			Name:       aws.ToString(c.Name),
			Confidence: round32(c.MatchConfidence),
			URLs:       c.Urls,
		}
		if c.Face != nil {
			celeb.BoundingBox = box(c.Face.BoundingBox)
		}
		celebs = append(celebs, celeb)
	}
	sortByConfidence(celebs, func(c analysis.Celebrity) float64 { return c.Confidence })

	unrecognized := make([]analysis.UnrecognizedFace, 0, len(out.UnrecognizedFaces))
	for _, f := range out.UnrecognizedFaces {
		unrecognized = append(unrecognized, analysis.UnrecognizedFace{
			BoundingBox: box(f.BoundingBox),
			Confidence:  round32(f.Confidence),
		})
	}

	return &analysis.CelebritiesResult{
		Timestamp:         a.now().Unix(),
		CelebrityCount:    len(celebs),
		Celebrities:       celebs,
		UnrecognizedFaces: unrecognized,
	}, nil
}
