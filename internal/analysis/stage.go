// Package analysis defines the result types produced by each vision stage,
// the envelope the stages hand to the workflow engine, and the cross-stage
// summary computed by the aggregator.
//
// Every stage result is a concrete type implementing StageResult. The
// aggregator never inspects untyped JSON: it decodes each branch output into
// a StageOutput, extracts the single populated result and validates it.
package analysis

import (
	"errors"
	"fmt"
	"math"
)

// Stage names a workflow stage. The value doubles as the key under which the
// stage's result is stored in the record's results document.
type Stage string

const (
	StageValidation  Stage = "validation"
	StageLabels      Stage = "labels"
	StageFaces       Stage = "faces"
	StageModeration  Stage = "moderation"
	StageText        Stage = "text"
	StageCelebrities Stage = "celebrities"
)

// AnalysisStages lists the parallel vision stages in the order the summary
// is built. Validation runs before them and is not part of the fan-out.
var AnalysisStages = []Stage{StageLabels, StageModeration, StageFaces, StageCelebrities, StageText}

// StageResult is implemented by every per-stage result type.
type StageResult interface {
	// Stage reports which stage produced the result.
	Stage() Stage
	// Validate checks the structural invariants of the result.
	Validate() error
}

// ErrMalformedStage is wrapped by every Validate failure.
var ErrMalformedStage = errors.New("malformed stage result")

// Round2 rounds a confidence or measurement to two decimal places.
// Adapters round once; nothing downstream re-rounds.
func Round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func checkConfidence(stage Stage, field string, c float64) error {
	if math.IsNaN(c) || c < 0 || c > 100 {
		return fmt.Errorf("%w: %s %s confidence %v outside [0,100]", ErrMalformedStage, stage, field, c)
	}
	return nil
}

// BoundingBox is a detection rectangle expressed as ratios of the image size.
type BoundingBox struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
}

// --- Labels ---

type LabelInstance struct {
	Confidence  float64      `json:"confidence"`
	BoundingBox *BoundingBox `json:"boundingBox,omitempty"`
}

type Label struct {
	Name       string          `json:"name"`
	Confidence float64         `json:"confidence"`
	Parents    []string        `json:"parents"`
	Instances  []LabelInstance `json:"instances,omitempty"`
}

// LabelsResult holds object and scene labels sorted by confidence, highest first.
type LabelsResult struct {
	Timestamp int64   `json:"timestamp"`
	Labels    []Label `json:"labels"`
}

func (r *LabelsResult) Stage() Stage { return StageLabels }

func (r *LabelsResult) Validate() error {
	for i, l := range r.Labels {
		if err := checkConfidence(StageLabels, fmt.Sprintf("labels[%d]", i), l.Confidence); err != nil {
			return err
		}
		for j, inst := range l.Instances {
			if err := checkConfidence(StageLabels, fmt.Sprintf("labels[%d].instances[%d]", i, j), inst.Confidence); err != nil {
				return err
			}
		}
	}
	return nil
}

// --- Faces ---

type AgeRange struct {
	Low  int32 `json:"low"`
	High int32 `json:"high"`
}

// Attribute is a boolean facial feature with the detector's confidence.
type Attribute struct {
	Value      bool    `json:"value"`
	Confidence float64 `json:"confidence"`
}

type Gender struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

type Emotion struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type Quality struct {
	Brightness float64 `json:"brightness"`
	Sharpness  float64 `json:"sharpness"`
}

type Pose struct {
	Roll  float64 `json:"roll"`
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
}

type Face struct {
	Confidence  float64      `json:"confidence"`
	BoundingBox *BoundingBox `json:"boundingBox,omitempty"`
	AgeRange    *AgeRange    `json:"ageRange,omitempty"`
	Gender      *Gender      `json:"gender,omitempty"`
	Emotions    []Emotion    `json:"emotions"`
	Smile       *Attribute   `json:"smile,omitempty"`
	Eyeglasses  *Attribute   `json:"eyeglasses,omitempty"`
	Sunglasses  *Attribute   `json:"sunglasses,omitempty"`
	Beard       *Attribute   `json:"beard,omitempty"`
	Mustache    *Attribute   `json:"mustache,omitempty"`
	EyesOpen    *Attribute   `json:"eyesopen,omitempty"`
	MouthOpen   *Attribute   `json:"mouthopen,omitempty"`
	Quality     *Quality     `json:"quality,omitempty"`
	Pose        *Pose        `json:"pose,omitempty"`
}

// FacesResult holds detected faces sorted by detection confidence, highest
// first. Each face's emotions are sorted the same way.
type FacesResult struct {
	Timestamp int64  `json:"timestamp"`
	FaceCount int    `json:"faceCount"`
	Faces     []Face `json:"faces"`
}

func (r *FacesResult) Stage() Stage { return StageFaces }

func (r *FacesResult) Validate() error {
	if r.FaceCount != len(r.Faces) {
		return fmt.Errorf("%w: faces faceCount %d does not match %d faces", ErrMalformedStage, r.FaceCount, len(r.Faces))
	}
	for i, f := range r.Faces {
		if err := checkConfidence(StageFaces, fmt.Sprintf("faces[%d]", i), f.Confidence); err != nil {
			return err
		}
		for j, e := range f.Emotions {
			if err := checkConfidence(StageFaces, fmt.Sprintf("faces[%d].emotions[%d]", i, j), e.Confidence); err != nil {
				return err
			}
		}
		if f.AgeRange != nil && f.AgeRange.Low > f.AgeRange.High {
			return fmt.Errorf("%w: faces[%d] ageRange low %d > high %d", ErrMalformedStage, i, f.AgeRange.Low, f.AgeRange.High)
		}
	}
	return nil
}

// --- Moderation ---

type ModerationLabel struct {
	Name       string  `json:"name"`
	ParentName string  `json:"parentName"`
	Confidence float64 `json:"confidence"`
}

// ModerationResult reports unsafe-content labels. IsSafe is true when no
// label met the stage's confidence threshold.
type ModerationResult struct {
	Timestamp        int64             `json:"timestamp"`
	IsSafe           bool              `json:"isSafe"`
	ModerationLabels []ModerationLabel `json:"moderationLabels"`
}

func (r *ModerationResult) Stage() Stage { return StageModeration }

func (r *ModerationResult) Validate() error {
	for i, l := range r.ModerationLabels {
		if err := checkConfidence(StageModeration, fmt.Sprintf("moderationLabels[%d]", i), l.Confidence); err != nil {
			return err
		}
	}
	return nil
}

// --- Text ---

type TextDetection struct {
	DetectedText string       `json:"detectedText"`
	Confidence   float64      `json:"confidence"`
	BoundingBox  *BoundingBox `json:"boundingBox,omitempty"`
}

// TextResult holds OCR output. CombinedText is the LINE detections joined
// with single spaces, in detector order.
type TextResult struct {
	Timestamp    int64           `json:"timestamp"`
	HasText      bool            `json:"hasText"`
	CombinedText string          `json:"combinedText"`
	Lines        []TextDetection `json:"lines"`
	Words        []TextDetection `json:"words"`
}

func (r *TextResult) Stage() Stage { return StageText }

func (r *TextResult) Validate() error {
	for i, l := range r.Lines {
		if err := checkConfidence(StageText, fmt.Sprintf("lines[%d]", i), l.Confidence); err != nil {
			return err
		}
	}
	for i, w := range r.Words {
		if err := checkConfidence(StageText, fmt.Sprintf("words[%d]", i), w.Confidence); err != nil {
			return err
		}
	}
	return nil
}

// --- Celebrities ---

type Celebrity struct {
	Name        string       `json:"name"`
	Confidence  float64      `json:"confidence"`
	BoundingBox *BoundingBox `json:"boundingBox,omitempty"`
	URLs        []string     `json:"urls,omitempty"`
}

type UnrecognizedFace struct {
	BoundingBox *BoundingBox `json:"boundingBox,omitempty"`
	Confidence  float64      `json:"confidence"`
}

type CelebritiesResult struct {
	Timestamp         int64              `json:"timestamp"`
	CelebrityCount    int                `json:"celebrityCount"`
	Celebrities       []Celebrity        `json:"celebrities"`
	UnrecognizedFaces []UnrecognizedFace `json:"unrecognizedFaces"`
}

func (r *CelebritiesResult) Stage() Stage { return StageCelebrities }

func (r *CelebritiesResult) Validate() error {
	if r.CelebrityCount != len(r.Celebrities) {
		return fmt.Errorf("%w: celebrities celebrityCount %d does not match %d celebrities",
			ErrMalformedStage, r.CelebrityCount, len(r.Celebrities))
	}
	for i, c := range r.Celebrities {
		if err := checkConfidence(StageCelebrities, fmt.Sprintf("celebrities[%d]", i), c.Confidence); err != nil {
			return err
		}
	}
	for i, f := range r.UnrecognizedFaces {
		if err := checkConfidence(StageCelebrities, fmt.Sprintf("unrecognizedFaces[%d]", i), f.Confidence); err != nil {
			return err
		}
	}
	return nil
}

// --- Validation ---

// MetadataResult is what the validation stage learns from the image header
// and EXIF block. Camera and location fields are empty when absent.
type MetadataResult struct {
	Format      string   `json:"format"`
	Width       int      `json:"width"`
	Height      int      `json:"height"`
	SizeBytes   int64    `json:"sizeBytes"`
	CameraMake  string   `json:"cameraMake,omitempty"`
	CameraModel string   `json:"cameraModel,omitempty"`
	DateTaken   string   `json:"dateTaken,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
}

// ValidationResult is the output of the first workflow step. An invalid
// image is reported with Valid=false, never as an error.
type ValidationResult struct {
	Timestamp int64           `json:"timestamp"`
	Valid     bool            `json:"valid"`
	Message   string          `json:"validationMessage"`
	Metadata  *MetadataResult `json:"metadata,omitempty"`
}

func (r *ValidationResult) Stage() Stage { return StageValidation }

func (r *ValidationResult) Validate() error {
	if r.Valid && r.Metadata == nil {
		return fmt.Errorf("%w: validation marked valid without metadata", ErrMalformedStage)
	}
	if r.Metadata != nil && (r.Metadata.Width < 0 || r.Metadata.Height < 0) {
		return fmt.Errorf("%w: validation negative dimensions %dx%d", ErrMalformedStage, r.Metadata.Width, r.Metadata.Height)
	}
	return nil
}
