package analysis

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func labels(n int) *LabelsResult {
	r := &LabelsResult{Timestamp: 1700000000}
	for i := 0; i < n; i++ {
		r.Labels = append(r.Labels, Label{
			Name:       string(rune('A' + i)),
			Confidence: 99.5 - float64(i),
			Parents:    []string{},
		})
	}
	return r
}

func TestSummarize_TopLabelsAndSafeModeration(t *testing.T) {
	r := &Results{
		Labels:     labels(5),
		Moderation: &ModerationResult{IsSafe: true, ModerationLabels: []ModerationLabel{}},
	}
	s := Summarize(r)

	if len(s.TopLabels) != 5 {
		t.Fatalf("expected 5 top labels, got %d", len(s.TopLabels))
	}
	for i, l := range s.TopLabels {
		if l.Name != r.Labels.Labels[i].Name || l.Confidence != r.Labels.Labels[i].Confidence {
			t.Errorf("topLabels[%d] = %+v, want %+v", i, l, r.Labels.Labels[i])
		}
	}
	if s.IsSafe == nil || !*s.IsSafe {
		t.Error("expected isSafe=true")
	}

	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "moderationIssues") {
		t.Errorf("expected no moderationIssues key, got %s", raw)
	}
}

func TestSummarize_TruncatesLists(t *testing.T) {
	r := &Results{
		Labels: labels(8),
		Moderation: &ModerationResult{IsSafe: false, ModerationLabels: []ModerationLabel{
			{Name: "Violence", Confidence: 90}, {Name: "Weapons", Confidence: 80},
			{Name: "Blood", Confidence: 70}, {Name: "Gore", Confidence: 60},
		}},
		Celebrities: &CelebritiesResult{CelebrityCount: 4, Celebrities: []Celebrity{
			{Name: "A", Confidence: 99}, {Name: "B", Confidence: 98}, {Name: "C", Confidence: 97}, {Name: "D", Confidence: 96},
		}},
	}
	s := Summarize(r)

	if len(s.TopLabels) != 5 {
		t.Errorf("expected 5 top labels, got %d", len(s.TopLabels))
	}
	if len(s.ModerationIssues) != 3 || s.ModerationIssues[0].Name != "Violence" {
		t.Errorf("unexpected moderationIssues: %+v", s.ModerationIssues)
	}
	if s.CelebrityCount == nil || *s.CelebrityCount != 4 {
		t.Errorf("unexpected celebrityCount: %v", s.CelebrityCount)
	}
	if len(s.RecognizedCelebrities) != 3 || s.RecognizedCelebrities[2].Name != "C" {
		t.Errorf("unexpected recognizedCelebrities: %+v", s.RecognizedCelebrities)
	}
}

func TestSummarize_PrimaryFace(t *testing.T) {
	r := &Results{Faces: &FacesResult{FaceCount: 2, Faces: []Face{
		{Confidence: 99.9, AgeRange: &AgeRange{Low: 25, High: 35}, Emotions: []Emotion{{Type: "HAPPY", Confidence: 95.1}, {Type: "CALM", Confidence: 20}}},
		{Confidence: 80, AgeRange: &AgeRange{Low: 5, High: 9}, Emotions: []Emotion{{Type: "SAD", Confidence: 90}}},
	}}}
	s := Summarize(r)

	if s.PrimaryEmotion != "HAPPY" {
		t.Errorf("primaryEmotion = %q, want HAPPY", s.PrimaryEmotion)
	}
	if s.AgeRange == nil || s.AgeRange.Low != 25 || s.AgeRange.High != 35 {
		t.Errorf("unexpected ageRange: %+v", s.AgeRange)
	}
}

func TestSummarize_NoFaces(t *testing.T) {
	s := Summarize(&Results{Faces: &FacesResult{FaceCount: 0, Faces: []Face{}}})
	if s.FaceCount == nil || *s.FaceCount != 0 {
		t.Fatalf("expected faceCount=0, got %v", s.FaceCount)
	}
	if s.PrimaryEmotion != "" || s.AgeRange != nil {
		t.Errorf("expected no primary face fields, got %+v", s)
	}
}

func TestSummarize_TextSnippet(t *testing.T) {
	long := strings.Repeat("x", 150)
	s := Summarize(&Results{Text: &TextResult{HasText: true, CombinedText: long}})
	if len(s.TextSnippet) != 103 {
		t.Errorf("expected snippet of 103 characters, got %d", len(s.TextSnippet))
	}
	if !strings.HasSuffix(s.TextSnippet, "...") {
		t.Errorf("expected trailing ellipsis, got %q", s.TextSnippet)
	}

	exact := strings.Repeat("y", 100)
	s = Summarize(&Results{Text: &TextResult{HasText: true, CombinedText: exact}})
	if s.TextSnippet != exact {
		t.Errorf("expected untouched 100-character text, got %d chars", len(s.TextSnippet))
	}

	s = Summarize(&Results{Text: &TextResult{HasText: false}})
	if s.HasText == nil || *s.HasText || s.TextSnippet != "" {
		t.Errorf("expected hasText=false without snippet, got %+v", s)
	}
}

func TestSummarize_EmptyLabelsKeepTopLabelsKey(t *testing.T) {
	raw, err := json.Marshal(Summarize(&Results{Labels: &LabelsResult{Labels: []Label{}}}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"topLabels":[]}` {
		t.Errorf("expected empty topLabels list, got %s", raw)
	}
}

func TestSnippet_CountsCodePoints(t *testing.T) {
	text := strings.Repeat("日", 120)
	got := Snippet(text, 100)
	if n := utf8.RuneCountInString(got); n != 103 {
		t.Errorf("expected 103 code points, got %d", n)
	}
}

func TestSummarize_AbsentStagesOmitted(t *testing.T) {
	raw, err := json.Marshal(Summarize(&Results{}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != "{}" {
		t.Errorf("expected empty summary, got %s", raw)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		result  StageResult
		wantErr bool
	}{
		{"labels ok", labels(3), false},
		{"labels bad confidence", &LabelsResult{Labels: []Label{{Name: "x", Confidence: 101}}}, true},
		{"faces count mismatch", &FacesResult{FaceCount: 2, Faces: []Face{{Confidence: 90}}}, true},
		{"faces ok", &FacesResult{FaceCount: 1, Faces: []Face{{Confidence: 90}}}, false},
		{"faces bad emotion", &FacesResult{FaceCount: 1, Faces: []Face{{Confidence: 90, Emotions: []Emotion{{Type: "HAPPY", Confidence: -1}}}}}, true},
		{"celebrities count mismatch", &CelebritiesResult{CelebrityCount: 1}, true},
		{"moderation ok", &ModerationResult{IsSafe: true}, false},
		{"text bad word", &TextResult{Words: []TextDetection{{DetectedText: "a", Confidence: 300}}}, true},
		{"validation valid without metadata", &ValidationResult{Valid: true}, true},
		{"validation invalid", &ValidationResult{Valid: false, Message: "Invalid file type"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.result.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrMalformedStage) {
				t.Errorf("expected ErrMalformedStage, got %v", err)
			}
		})
	}
}

func TestStageOutput_Result(t *testing.T) {
	ref := ImageRef{OwnerID: "u1", ImageID: "i1", ObjectKey: "u1/i1.png"}
	out := NewStageOutput(ref, labels(1))
	r, err := out.Result()
	if err != nil {
		t.Fatalf("Result() error: %v", err)
	}
	if r.Stage() != StageLabels {
		t.Errorf("stage = %s, want labels", r.Stage())
	}

	empty := StageOutput{ObjectKey: "u1/i1.png"}
	if _, err := empty.Result(); err == nil {
		t.Error("expected error for empty envelope")
	}

	both := NewStageOutput(ref, labels(1))
	both.Text = &TextResult{}
	if _, err := both.Result(); err == nil {
		t.Error("expected error for envelope with two results")
	}
}

func TestParseObjectKey(t *testing.T) {
	tests := []struct {
		key       string
		owner, id string
		wantErr   bool
	}{
		{"user-1/abc.png", "user-1", "abc", false},
		{"user-1/abc", "user-1", "abc", false},
		{"user-1/abc.tar.gz", "user-1", "abc.tar", false},
		{"u1/my.photo.jpg", "u1", "my.photo", false},
		{"user-1/abc.png/extra", "user-1", "abc", false},
		{"justone.png", "", "", true},
		{"/abc.png", "", "", true},
		{"user-1/", "", "", true},
	}
	for _, tt := range tests {
		owner, id, err := ParseObjectKey(tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseObjectKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			continue
		}
		if owner != tt.owner || id != tt.id {
			t.Errorf("ParseObjectKey(%q) = (%q, %q), want (%q, %q)", tt.key, owner, id, tt.owner, tt.id)
		}
	}
}

func TestDocument_KeepsNumberText(t *testing.T) {
	doc, err := Document(&Results{Labels: &LabelsResult{Labels: []Label{{Name: "Dog", Confidence: 97.345}}}})
	if err != nil {
		t.Fatalf("Document() error: %v", err)
	}
	lbls := doc["labels"].(map[string]any)["labels"].([]any)
	conf := lbls[0].(map[string]any)["confidence"].(json.Number)
	if conf.String() != "97.345" {
		t.Errorf("confidence = %s, want 97.345", conf)
	}
}

func TestRound2(t *testing.T) {
	if got := Round2(97.34567); got != 97.35 {
		t.Errorf("Round2 = %v, want 97.35", got)
	}
	if got := Round2(12.001); got != 12 {
		t.Errorf("Round2 = %v, want 12", got)
	}
}
