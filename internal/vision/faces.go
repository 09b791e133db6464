package vision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/fpang/image-analysis-pipeline/internal/analysis"
)

// Faces detects faces with the full attribute set.
func (a *Analyzer) Faces(ctx context.Context, ref analysis.ImageRef) (*analysis.FacesResult, error) {
	out, err := a.client.DetectFaces(ctx, &rekognition.DetectFacesInput{
		Image:      a.image(ref),
		Attributes: []types.Attribute{types.AttributeAll},
	})
	if err != nil {
		return nil, fmt.Errorf("DetectFaces %s: %w", ref.ObjectKey, err)
	}

	faces := make([]analysis.Face, 0, len(out.FaceDetails))
	for _, fd := range out.FaceDetails {
		faces = append(faces, convertFace(fd))
	}
	sortByConfidence(faces, func(f analysis.Face) float64 { return f.Confidence })

	return &analysis.FacesResult{
		Timestamp: a.now().Unix(),
		FaceCount: len(faces),
		Faces:     faces,
	}, nil
}

func convertFace(fd types.FaceDetail) analysis.Face {
	face := analysis.Face{
		Confidence:  round32(fd.Confidence),
		BoundingBox: box(fd.BoundingBox),
		Emotions:    []analysis.Emotion{},
	}
	if fd.AgeRange != nil {
		face.AgeRange = &analysis.AgeRange{
			Low:  aws.ToInt32(fd.AgeRange.Low),
			High: aws.ToInt32(fd.AgeRange.High),
		}
	}
	if fd.Gender != nil {
		face.Gender = &analysis.Gender{
			Value:      string(fd.Gender.Value),
			Confidence: round32(fd.Gender.Confidence),
		}
	}
	for _, e := range fd.Emotions {
		// The threshold applies to the raw score.
		if aws.ToFloat32(e.Confidence) <= EmotionMinConfidence {
			continue
		}
		face.Emotions = append(face.Emotions, analysis.Emotion{Type: string(e.Type), Confidence: round32(e.Confidence)})
	}
	sortByConfidence(face.Emotions, func(e analysis.Emotion) float64 { return e.Confidence })

	if fd.Smile != nil {
		face.Smile = attr(fd.Smile.Value, fd.Smile.Confidence)
	}
	if fd.Eyeglasses != nil {
		face.Eyeglasses = attr(fd.Eyeglasses.Value, fd.Eyeglasses.Confidence)
	}
	if fd.Sunglasses != nil {
		face.Sunglasses = attr(fd.Sunglasses.Value, fd.Sunglasses.Confidence)
	}
	if fd.Beard != nil {
		face.Beard = attr(fd.Beard.Value, fd.Beard.Confidence)
	}
	if fd.Mustache != nil {
		face.Mustache = attr(fd.Mustache.Value, fd.Mustache.Confidence)
	}
	if fd.EyesOpen != nil {
		face.EyesOpen = attr(fd.EyesOpen.Value, fd.EyesOpen.Confidence)
	}
	if fd.MouthOpen != nil {
		face.MouthOpen = attr(fd.MouthOpen.Value, fd.MouthOpen.Confidence)
	}
	if fd.Quality != nil {
		face.Quality = &analysis.Quality{
			Brightness: round32(fd.Quality.Brightness),
			Sharpness:  round32(fd.Quality.Sharpness),
		}
	}
	if fd.Pose != nil {
		face.Pose = &analysis.Pose{
			Roll:  round32(fd.Pose.Roll),
			Yaw:   round32(fd.Pose.Yaw),
			Pitch: round32(fd.Pose.Pitch),
		}
	}
	return face
}

func attr(value bool, confidence *float32) *analysis.Attribute {
	return &analysis.Attribute{Value: value, Confidence: round32(confidence)}
}
