package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	topLabelCount       = 5
	moderationIssueMax  = 3
	celebritySummaryMax = 3
	textSnippetRunes    = 100
)

// Score is a name with its confidence, the reduced form used in summaries.
type Score struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Summary is the cross-stage projection stored alongside the stage results.
// A field is present only when the stage it derives from produced output.
type Summary struct {
	TopLabels             []Score   `json:"topLabels,omitzero"`
	IsSafe                *bool     `json:"isSafe,omitempty"`
	ModerationIssues      []Score   `json:"moderationIssues,omitempty"`
	FaceCount             *int      `json:"faceCount,omitempty"`
	PrimaryEmotion        string    `json:"primaryEmotion,omitempty"`
	AgeRange              *AgeRange `json:"ageRange,omitempty"`
	CelebrityCount        *int      `json:"celebrityCount,omitempty"`
	RecognizedCelebrities []Score   `json:"recognizedCelebrities,omitempty"`
	HasText               *bool     `json:"hasText,omitempty"`
	TextSnippet           string    `json:"textSnippet,omitempty"`
}

// Results is the merged document the aggregator persists under a record's
// results attribute. Absent stages are omitted.
type Results struct {
	Validation  *ValidationResult  `json:"validation,omitempty"`
	Labels      *LabelsResult      `json:"labels,omitempty"`
	Faces       *FacesResult       `json:"faces,omitempty"`
	Moderation  *ModerationResult  `json:"moderation,omitempty"`
	Text        *TextResult        `json:"text,omitempty"`
	Celebrities *CelebritiesResult `json:"celebrities,omitempty"`
	Summary     Summary            `json:"summary"`
}

// Set stores result under its stage key, replacing any earlier value.
func (r *Results) Set(result StageResult) {
	switch v := result.(type) {
	case *ValidationResult:
		r.Validation = v
	case *LabelsResult:
		r.Labels = v
	case *FacesResult:
		r.Faces = v
	case *ModerationResult:
		r.Moderation = v
	case *TextResult:
		r.Text = v
	case *CelebritiesResult:
		r.Celebrities = v
	}
}

// StageCount reports how many stage results are present.
func (r *Results) StageCount() int {
	n := 0
	for _, present := range []bool{
		r.Validation != nil, r.Labels != nil, r.Faces != nil,
		r.Moderation != nil, r.Text != nil, r.Celebrities != nil,
	} {
		if present {
			n++
		}
	}
	return n
}

// Summarize derives the summary from the stage results. Inputs are assumed
// to be sorted upstream; values are copied without re-rounding.
func Summarize(r *Results) Summary {
	var s Summary

	if r.Labels != nil {
		s.TopLabels = make([]Score, 0, topLabelCount)
		for _, l := range head(r.Labels.Labels, topLabelCount) {
			s.TopLabels = append(s.TopLabels, Score{Name: l.Name, Confidence: l.Confidence})
		}
	}

	if r.Moderation != nil {
		safe := r.Moderation.IsSafe
		s.IsSafe = &safe
		if !safe {
			for _, l := range head(r.Moderation.ModerationLabels, moderationIssueMax) {
				s.ModerationIssues = append(s.ModerationIssues, Score{Name: l.Name, Confidence: l.Confidence})
			}
		}
	}

	if r.Faces != nil {
		count := r.Faces.FaceCount
		s.FaceCount = &count
		if count > 0 && len(r.Faces.Faces) > 0 {
			primary := r.Faces.Faces[0]
			if len(primary.Emotions) > 0 {
				s.PrimaryEmotion = primary.Emotions[0].Type
			}
			if primary.AgeRange != nil {
				ar := *primary.AgeRange
				s.AgeRange = &ar
			}
		}
	}

	if r.Celebrities != nil {
		count := r.Celebrities.CelebrityCount
		s.CelebrityCount = &count
		if count > 0 {
			for _, c := range head(r.Celebrities.Celebrities, celebritySummaryMax) {
				s.RecognizedCelebrities = append(s.RecognizedCelebrities, Score{Name: c.Name, Confidence: c.Confidence})
			}
		}
	}

	if r.Text != nil {
		has := r.Text.HasText
		s.HasText = &has
		if has && r.Text.CombinedText != "" {
			s.TextSnippet = Snippet(r.Text.CombinedText, textSnippetRunes)
		}
	}

	return s
}

// Snippet returns the first n code points of text, followed by "..." only
// when text is longer than n code points.
func Snippet(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

func head[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}

// Document converts v into a generic JSON document, keeping every number as
// a json.Number so its printed form survives untouched.
func Document(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}
