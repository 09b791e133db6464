package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/fpang/image-analysis-pipeline/internal/analysis"
	"github.com/fpang/image-analysis-pipeline/internal/metrics"
	"github.com/fpang/image-analysis-pipeline/internal/store"
	"github.com/fpang/image-analysis-pipeline/internal/store/storetest"
)

func TestMain(m *testing.M) {
	metrics.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type fakeEvents struct {
	inputs []*eventbridge.PutEventsInput
	err    error
	failed int32
}

func (f *fakeEvents) PutEvents(_ context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	out := &eventbridge.PutEventsOutput{FailedEntryCount: f.failed}
	if f.failed > 0 {
		out.Entries = []ebtypes.PutEventsResultEntry{{ErrorCode: aws.String("InternalFailure")}}
	}
	return out, nil
}

func processingRecord() *store.ImageRecord {
	return &store.ImageRecord{
		OwnerID: "u1", ImageID: "i1", ObjectKey: "u1/i1.png",
		Status: store.StatusProcessing, CreatedAt: 100,
	}
}

func ref() analysis.ImageRef {
	return analysis.ImageRef{OwnerID: "u1", ImageID: "i1", ObjectKey: "u1/i1.png"}
}

func envelope(r analysis.StageResult) *analysis.StageOutput {
	out := analysis.NewStageOutput(ref(), r)
	return &out
}

func fiveLabels() *analysis.LabelsResult {
	r := &analysis.LabelsResult{Timestamp: 1}
	for i, n := range []string{"Dog", "Pet", "Animal", "Mammal", "Canine"} {
		r.Labels = append(r.Labels, analysis.Label{Name: n, Confidence: 99 - float64(i), Parents: []string{}})
	}
	return r
}

func TestAggregate_CompletesAndSummarizes(t *testing.T) {
	st := storetest.NewMemory(processingRecord())
	events := &fakeEvents{}
	agg := New(st, NewPublisher(events, "bus"))

	in := Input{
		OwnerID: "u1", ImageID: "i1", ObjectKey: "u1/i1.png",
		Labels:     envelope(fiveLabels()),
		Moderation: envelope(&analysis.ModerationResult{IsSafe: true, ModerationLabels: []analysis.ModerationLabel{}}),
		Text:       envelope(&analysis.TextResult{HasText: true, CombinedText: strings.Repeat("a", 150), Lines: []analysis.TextDetection{}}),
	}
	out, err := agg.Aggregate(context.Background(), in)
	if err != nil {
		t.Fatalf("Aggregate() error: %v", err)
	}
	if out.Status != store.StatusCompleted {
		t.Errorf("status = %s", out.Status)
	}
	if len(out.Summary.TopLabels) != 5 || out.Summary.ModerationIssues != nil {
		t.Errorf("unexpected summary %+v", out.Summary)
	}
	if len(out.Summary.TextSnippet) != 103 {
		t.Errorf("snippet length = %d", len(out.Summary.TextSnippet))
	}

	rec := st.Record("u1", "i1")
	if rec.Status != store.StatusCompleted || rec.Error != "" {
		t.Errorf("unexpected record %+v", rec)
	}
	for _, key := range []string{"labels", "moderation", "text", "summary"} {
		if _, ok := rec.Results[key]; !ok {
			t.Errorf("results missing %q", key)
		}
	}
	if _, ok := rec.Results["faces"]; ok {
		t.Error("absent stage must be omitted from results")
	}
	if st.Calls["CompleteImage"] != 1 {
		t.Errorf("expected a single results write, got %d", st.Calls["CompleteImage"])
	}

	if len(events.inputs) != 1 || aws.ToString(events.inputs[0].Entries[0].DetailType) != detailTypeCompleted {
		t.Errorf("expected one completed event, got %+v", events.inputs)
	}
}

func TestAggregate_DerivesImageIDFromKey(t *testing.T) {
	st := storetest.NewMemory(processingRecord())
	out, err := New(st, nil).Aggregate(context.Background(), Input{
		OwnerID: "u1", ObjectKey: "u1/i1.png",
		Labels: envelope(fiveLabels()),
	})
	if err != nil {
		t.Fatalf("Aggregate() error: %v", err)
	}
	if out.ImageID != "i1" {
		t.Errorf("imageId = %q, want i1", out.ImageID)
	}
}

func TestAggregate_UnresolvedIdentifiersWriteNothing(t *testing.T) {
	st := storetest.NewMemory(processingRecord())
	_, err := New(st, nil).Aggregate(context.Background(), Input{ObjectKey: "u1/i1.png"})
	if !errors.Is(err, ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved, got %v", err)
	}
	if st.Calls["FailImage"] != 0 || st.Calls["CompleteImage"] != 0 {
		t.Errorf("no store writes expected, got %v", st.Calls)
	}

	_, err = New(st, nil).Aggregate(context.Background(), Input{OwnerID: "u1", ObjectKey: "nokey"})
	if err == nil {
		t.Error("expected error when imageId cannot be derived")
	}
	if st.Calls["FailImage"] != 0 {
		t.Error("no failure write expected for an underivable key")
	}
}

func TestAggregate_MalformedStageMarksFailed(t *testing.T) {
	st := storetest.NewMemory(processingRecord())
	events := &fakeEvents{}
	in := Input{
		OwnerID: "u1", ImageID: "i1", ObjectKey: "u1/i1.png",
		Faces: envelope(&analysis.FacesResult{FaceCount: 3, Faces: []analysis.Face{{Confidence: 90}}}),
	}

	_, err := New(st, NewPublisher(events, "bus")).Aggregate(context.Background(), in)
	if !errors.Is(err, analysis.ErrMalformedStage) {
		t.Fatalf("expected ErrMalformedStage, got %v", err)
	}
	rec := st.Record("u1", "i1")
	if rec.Status != store.StatusFailed || !strings.Contains(rec.Error, "faceCount") {
		t.Errorf("unexpected record %+v", rec)
	}
	if aws.ToString(events.inputs[0].Entries[0].DetailType) != detailTypeFailed {
		t.Error("expected a failed event")
	}
}

func TestAggregate_MislabeledEnvelope(t *testing.T) {
	st := storetest.NewMemory(processingRecord())
	in := Input{
		OwnerID: "u1", ImageID: "i1", ObjectKey: "u1/i1.png",
		Labels: envelope(&analysis.TextResult{}),
	}
	if _, err := New(st, nil).Aggregate(context.Background(), in); err == nil {
		t.Fatal("expected error for a text result under the labels key")
	}
	if st.Record("u1", "i1").Status != store.StatusFailed {
		t.Error("expected record marked failed")
	}
}

func TestAggregate_InvalidImageRecordedWithoutError(t *testing.T) {
	st := storetest.NewMemory(processingRecord())
	in := Input{
		OwnerID: "u1", ImageID: "i1", ObjectKey: "u1/i1.png",
		Validation: envelope(&analysis.ValidationResult{Valid: false, Message: "Invalid image format"}),
	}
	out, err := New(st, nil).Aggregate(context.Background(), in)
	if err != nil {
		t.Fatalf("Aggregate() error: %v", err)
	}
	if out.Status != store.StatusFailed || out.Error != "validation failed: Invalid image format" {
		t.Errorf("unexpected output %+v", out)
	}
	if st.Record("u1", "i1").Error != out.Error {
		t.Error("record error must match output")
	}
}

func TestAggregate_WorkflowErrorRecorded(t *testing.T) {
	st := storetest.NewMemory(processingRecord())
	in := Input{
		OwnerID: "u1", ImageID: "i1", ObjectKey: "u1/i1.png",
		WorkflowError: &WorkflowError{Error: "States.TaskFailed", Cause: "labels timed out"},
	}
	out, err := New(st, nil).Aggregate(context.Background(), in)
	if err != nil {
		t.Fatalf("Aggregate() error: %v", err)
	}
	if out.Status != store.StatusFailed || !strings.Contains(out.Error, "labels timed out") {
		t.Errorf("unexpected output %+v", out)
	}
}

func TestAggregate_PersistFailureStillReturnsError(t *testing.T) {
	// No record: the conditional update is rejected and so is the failure write.
	st := storetest.NewMemory()
	_, err := New(st, nil).Aggregate(context.Background(), Input{
		OwnerID: "u1", ImageID: "ghost", ObjectKey: "u1/ghost.png",
		Labels: envelope(fiveLabels()),
	})
	if !errors.Is(err, store.ErrTransitionRejected) {
		t.Fatalf("expected ErrTransitionRejected, got %v", err)
	}
	if st.Record("u1", "ghost") != nil {
		t.Error("aggregator must not create a phantom record")
	}
	if st.Calls["FailImage"] != 1 {
		t.Errorf("expected one best-effort failure write, got %d", st.Calls["FailImage"])
	}
}

func TestAggregate_RetryOverwritesTerminal(t *testing.T) {
	rec := processingRecord()
	rec.Status = store.StatusFailed
	rec.Error = "previous attempt"
	st := storetest.NewMemory(rec)

	if _, err := New(st, nil).Aggregate(context.Background(), Input{
		OwnerID: "u1", ImageID: "i1", ObjectKey: "u1/i1.png",
		Labels: envelope(fiveLabels()),
	}); err != nil {
		t.Fatalf("Aggregate() error: %v", err)
	}
	got := st.Record("u1", "i1")
	if got.Status != store.StatusCompleted || got.Error != "" {
		t.Errorf("expected completed without error, got %+v", got)
	}
}

func TestAggregate_PublishFailureIsNonFatal(t *testing.T) {
	st := storetest.NewMemory(processingRecord())
	events := &fakeEvents{failed: 1}
	out, err := New(st, NewPublisher(events, "bus")).Aggregate(context.Background(), Input{
		OwnerID: "u1", ImageID: "i1", ObjectKey: "u1/i1.png",
		Labels: envelope(fiveLabels()),
	})
	if err != nil || out.Status != store.StatusCompleted {
		t.Fatalf("publish failure must not fail aggregation: %v %+v", err, out)
	}
}

func TestInput_DecodesWorkflowState(t *testing.T) {
	raw := `{
		"ownerId": "u1", "imageId": "i1", "objectKey": "u1/i1.png",
		"labels": {"objectKey": "u1/i1.png", "ownerId": "u1",
			"labels": {"timestamp": 1, "labels": [{"name": "Dog", "confidence": 97.345, "parents": []}]}},
		"moderation": {"objectKey": "u1/i1.png", "ownerId": "u1",
			"moderation": {"timestamp": 1, "isSafe": true, "moderationLabels": []}}
	}`
	var in Input
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	results, err := merge(in)
	if err != nil {
		t.Fatalf("merge() error: %v", err)
	}
	if results.Labels.Labels[0].Confidence != 97.345 || results.Moderation == nil || results.Faces != nil {
		t.Errorf("unexpected merge %+v", results)
	}
}

func TestNewPublisher_Disabled(t *testing.T) {
	if NewPublisher(nil, "bus") != nil || NewPublisher(&fakeEvents{}, "") != nil {
		t.Error("publisher must be nil without a client and bus name")
	}
}

func TestPreview(t *testing.T) {
	out, results, err := Preview(Input{
		OwnerID: "u1", ObjectKey: "u1/i1.png",
		Labels: envelope(fiveLabels()),
		Faces:  envelope(&analysis.FacesResult{FaceCount: 0, Faces: []analysis.Face{}}),
	})
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}
	if out.ImageID != "i1" || out.Status != store.StatusCompleted || out.Summary == nil {
		t.Fatalf("unexpected output %+v", out)
	}
	if len(out.Summary.TopLabels) != 5 || out.Summary.FaceCount == nil || *out.Summary.FaceCount != 0 {
		t.Errorf("unexpected summary %+v", out.Summary)
	}
	if results.StageCount() != 2 {
		t.Errorf("stage count = %d", results.StageCount())
	}

	bad := &analysis.FacesResult{FaceCount: 2, Faces: []analysis.Face{}}
	out, _, err = Preview(Input{OwnerID: "u1", ObjectKey: "u1/i1.png", Faces: envelope(bad)})
	if !errors.Is(err, analysis.ErrMalformedStage) || out.Status != store.StatusFailed {
		t.Errorf("malformed faces: out %+v err %v", out, err)
	}

	if _, _, err := Preview(Input{ObjectKey: "u1/i1.png"}); !errors.Is(err, ErrUnresolved) {
		t.Errorf("expected ErrUnresolved, got %v", err)
	}
}
