package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fpang/image-analysis-pipeline/internal/analysis"
)

// fakeDynamo records the last request of each kind and returns canned responses.
type fakeDynamo struct {
	putIn    *dynamodb.PutItemInput
	updateIn *dynamodb.UpdateItemInput
	deleteIn *dynamodb.DeleteItemInput
	queries  int

	getOut   *dynamodb.GetItemOutput
	pages    []*dynamodb.QueryOutput
	err      error
	queryErr error
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putIn = in
	return &dynamodb.PutItemOutput{}, f.err
}

func (f *fakeDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.getOut == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return f.getOut, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateIn = in
	return &dynamodb.UpdateItemOutput{}, f.err
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.deleteIn = in
	return &dynamodb.DeleteItemOutput{}, f.err
}

func (f *fakeDynamo) Query(_ context.Context, _ *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	page := f.pages[f.queries]
	f.queries++
	return page, nil
}

func newTestStore(f *fakeDynamo) *DynamoStore {
	s := NewDynamoStore(f, "images")
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s
}

func attrS(t *testing.T, m map[string]types.AttributeValue, key string) string {
	t.Helper()
	v, ok := m[key].(*types.AttributeValueMemberS)
	if !ok {
		t.Fatalf("attribute %s is not a string: %#v", key, m[key])
	}
	return v.Value
}

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusProcessing, StatusProcessing, true},
		{StatusPending, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusCompleted, StatusFailed, true},
		{StatusFailed, StatusCompleted, true},
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusProcessing, false},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusPending, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCreateImage_WritesPendingWithCondition(t *testing.T) {
	f := &fakeDynamo{}
	s := newTestStore(f)

	rec := &ImageRecord{OwnerID: "u1", ImageID: "i1", ObjectKey: "u1/i1.png", FileName: "cat.png"}
	if err := s.CreateImage(context.Background(), rec); err != nil {
		t.Fatalf("CreateImage() error: %v", err)
	}

	if got := attrS(t, f.putIn.Item, "status"); got != "pending" {
		t.Errorf("status = %q, want pending", got)
	}
	if *f.putIn.ConditionExpression != "attribute_not_exists(imageId)" {
		t.Errorf("unexpected condition: %s", *f.putIn.ConditionExpression)
	}
	if rec.CreatedAt != 1700000000 || rec.UpdatedAt != rec.CreatedAt {
		t.Errorf("unexpected timestamps: created=%d updated=%d", rec.CreatedAt, rec.UpdatedAt)
	}
	if _, ok := f.putIn.Item["results"]; ok {
		t.Error("expected no results attribute on a new record")
	}
}

func TestCreateImage_Duplicate(t *testing.T) {
	f := &fakeDynamo{err: &types.ConditionalCheckFailedException{}}
	err := newTestStore(f).CreateImage(context.Background(), &ImageRecord{OwnerID: "u1", ImageID: "i1"})
	if !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
}

func TestMarkProcessing_ConditionCoversAllowedPredecessors(t *testing.T) {
	f := &fakeDynamo{}
	if err := newTestStore(f).MarkProcessing(context.Background(), "u1", "i1"); err != nil {
		t.Fatalf("MarkProcessing() error: %v", err)
	}

	cond := *f.updateIn.ConditionExpression
	if !strings.HasPrefix(cond, "attribute_exists(imageId)") {
		t.Errorf("condition must require an existing record: %s", cond)
	}

	var from []string
	for k, v := range f.updateIn.ExpressionAttributeValues {
		if strings.HasPrefix(k, ":from") {
			from = append(from, v.(*types.AttributeValueMemberS).Value)
		}
	}
	if len(from) != 2 {
		t.Fatalf("expected 2 predecessor statuses, got %v", from)
	}
	for _, s := range from {
		if s != "pending" && s != "processing" {
			t.Errorf("unexpected predecessor %q", s)
		}
	}
	if got := attrS(t, f.updateIn.ExpressionAttributeValues, ":next"); got != "processing" {
		t.Errorf(":next = %q", got)
	}
}

func TestTransition_Rejected(t *testing.T) {
	f := &fakeDynamo{err: &types.ConditionalCheckFailedException{}}
	err := newTestStore(f).MarkProcessing(context.Background(), "u1", "missing")
	if !errors.Is(err, ErrTransitionRejected) {
		t.Errorf("expected ErrTransitionRejected, got %v", err)
	}
}

func TestCompleteImage_SingleUpdateWithDecimals(t *testing.T) {
	f := &fakeDynamo{}
	results := &analysis.Results{
		Labels: &analysis.LabelsResult{Timestamp: 1700000000, Labels: []analysis.Label{
			{Name: "Dog", Confidence: 97.345, Parents: []string{"Animal"}},
		}},
	}
	results.Summary = analysis.Summarize(results)

	if err := newTestStore(f).CompleteImage(context.Background(), "u1", "i1", results); err != nil {
		t.Fatalf("CompleteImage() error: %v", err)
	}

	expr := *f.updateIn.UpdateExpression
	if !strings.Contains(expr, "REMOVE #e") || !strings.Contains(expr, "#r = :results") {
		t.Errorf("unexpected update expression: %s", expr)
	}
	if f.updateIn.ExpressionAttributeNames["#s"] != "status" {
		t.Error("expected #s to alias status")
	}

	res := f.updateIn.ExpressionAttributeValues[":results"].(*types.AttributeValueMemberM).Value
	lbls := res["labels"].(*types.AttributeValueMemberM).Value["labels"].(*types.AttributeValueMemberL).Value
	conf := lbls[0].(*types.AttributeValueMemberM).Value["confidence"].(*types.AttributeValueMemberN).Value
	if conf != "97.345" {
		t.Errorf("confidence stored as %q, want 97.345", conf)
	}
	ts := res["labels"].(*types.AttributeValueMemberM).Value["timestamp"].(*types.AttributeValueMemberN).Value
	if ts != "1700000000" {
		t.Errorf("timestamp stored as %q", ts)
	}
}

func TestFailImage_SetsError(t *testing.T) {
	f := &fakeDynamo{}
	if err := newTestStore(f).FailImage(context.Background(), "u1", "i1", "labels: boom"); err != nil {
		t.Fatalf("FailImage() error: %v", err)
	}
	if got := attrS(t, f.updateIn.ExpressionAttributeValues, ":err"); got != "labels: boom" {
		t.Errorf(":err = %q", got)
	}
	if got := attrS(t, f.updateIn.ExpressionAttributeValues, ":next"); got != "failed" {
		t.Errorf(":next = %q", got)
	}
}

func TestGetImage_NotFound(t *testing.T) {
	rec, err := newTestStore(&fakeDynamo{}).GetImage(context.Background(), "u1", "nope")
	if err != nil || rec != nil {
		t.Errorf("expected nil, nil; got %v, %v", rec, err)
	}
}

func TestListImages_PaginatesNewestFirst(t *testing.T) {
	item := func(id string, created int64) map[string]types.AttributeValue {
		m, err := attributevalue.MarshalMap(&ImageRecord{OwnerID: "u1", ImageID: id, CreatedAt: created, Status: StatusPending})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return m
	}
	f := &fakeDynamo{pages: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{item("old", 100), item("new", 300)},
			LastEvaluatedKey: map[string]types.AttributeValue{"imageId": &types.AttributeValueMemberS{Value: "new"}}},
		{Items: []map[string]types.AttributeValue{item("mid", 200)}},
	}}

	recs, err := newTestStore(f).ListImages(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListImages() error: %v", err)
	}
	if f.queries != 2 {
		t.Errorf("expected 2 query pages, got %d", f.queries)
	}
	var ids []string
	for _, r := range recs {
		ids = append(ids, r.ImageID)
	}
	if strings.Join(ids, ",") != "new,mid,old" {
		t.Errorf("order = %v, want new,mid,old", ids)
	}
}

func TestDecimalMap_RoundTrip(t *testing.T) {
	doc, err := analysis.Document(map[string]any{
		"score":  97.345,
		"nested": map[string]any{"values": []any{0.1, 12.5, 3}},
		"name":   "x",
		"flag":   true,
	})
	if err != nil {
		t.Fatalf("Document() error: %v", err)
	}
	attrs, err := decimalMap(doc)
	if err != nil {
		t.Fatalf("decimalMap() error: %v", err)
	}
	if n := attrs["score"].(*types.AttributeValueMemberN).Value; n != "97.345" {
		t.Errorf("score = %q, want 97.345", n)
	}

	var back map[string]any
	if err := attributevalue.UnmarshalMap(attrs, &back); err != nil {
		t.Fatalf("UnmarshalMap() error: %v", err)
	}
	if back["score"].(float64) != 97.345 {
		t.Errorf("round trip score = %v", back["score"])
	}
	vals := back["nested"].(map[string]any)["values"].([]any)
	if vals[0].(float64) != 0.1 || vals[1].(float64) != 12.5 || vals[2].(float64) != 3 {
		t.Errorf("round trip nested = %v", vals)
	}
	if back["name"] != "x" || back["flag"] != true {
		t.Errorf("round trip scalars = %v", back)
	}
}
