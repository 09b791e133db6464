package analysis

import (
	"fmt"
	"path"
	"strings"
)

// ImageRef identifies one image as it moves through the workflow. It is the
// state machine's initial input and the input of every stage.
type ImageRef struct {
	OwnerID   string `json:"ownerId"`
	ImageID   string `json:"imageId,omitempty"`
	ObjectKey string `json:"objectKey"`
	Bucket    string `json:"bucket,omitempty"`
}

// ParseObjectKey splits an object key of the form {ownerId}/{imageId}.{ext}.
// Only the last extension is removed from the image id.
// Keys with fewer than two path segments are rejected. Segments beyond the
// second are ignored.
func ParseObjectKey(key string) (ownerID, imageID string, err error) {
	parts := strings.Split(key, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid object key format: %q", key)
	}
	imageID = strings.TrimSuffix(parts[1], path.Ext(parts[1]))
	if imageID == "" {
		return "", "", fmt.Errorf("invalid object key format: %q", key)
	}
	return parts[0], imageID, nil
}

// StageOutput is the envelope a stage Lambda returns to the workflow engine.
// Exactly one of the result fields is populated; it is the tagged union of
// all stage result types.
type StageOutput struct {
	ObjectKey string `json:"objectKey"`
	OwnerID   string `json:"ownerId"`
	ImageID   string `json:"imageId,omitempty"`

	Validation  *ValidationResult  `json:"validation,omitempty"`
	Labels      *LabelsResult      `json:"labels,omitempty"`
	Faces       *FacesResult       `json:"faces,omitempty"`
	Moderation  *ModerationResult  `json:"moderation,omitempty"`
	Text        *TextResult        `json:"text,omitempty"`
	Celebrities *CelebritiesResult `json:"celebrities,omitempty"`
}

// NewStageOutput wraps result in an envelope for ref.
func NewStageOutput(ref ImageRef, result StageResult) StageOutput {
	out := StageOutput{ObjectKey: ref.ObjectKey, OwnerID: ref.OwnerID, ImageID: ref.ImageID}
	switch r := result.(type) {
	case *ValidationResult:
		out.Validation = r
	case *LabelsResult:
		out.Labels = r
	case *FacesResult:
		out.Faces = r
	case *ModerationResult:
		out.Moderation = r
	case *TextResult:
		out.Text = r
	case *CelebritiesResult:
		out.Celebrities = r
	}
	return out
}

// Result returns the single populated stage result.
func (o *StageOutput) Result() (StageResult, error) {
	var found []StageResult
	if o.Validation != nil {
		found = append(found, o.Validation)
	}
	if o.Labels != nil {
		found = append(found, o.Labels)
	}
	if o.Faces != nil {
		found = append(found, o.Faces)
	}
	if o.Moderation != nil {
		found = append(found, o.Moderation)
	}
	if o.Text != nil {
		found = append(found, o.Text)
	}
	if o.Celebrities != nil {
		found = append(found, o.Celebrities)
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: envelope for %q carries no result", ErrMalformedStage, o.ObjectKey)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("%w: envelope for %q carries %d results", ErrMalformedStage, o.ObjectKey, len(found))
	}
}
