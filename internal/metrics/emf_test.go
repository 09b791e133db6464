package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	functionName = ""
	initOnce.Do(func() {})
	return &buf
}

func TestRecorder_FlushOutput(t *testing.T) {
	buf := capture(t)

	New().
		Dimension("Endpoint", "GET /images").
		Duration(MetricRequestLatency, 1234*time.Millisecond).
		Count(MetricRequestCount).
		Property("ownerId", "u1").
		Flush()

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse EMF output: %v\n%s", err, buf.String())
	}

	aws, ok := doc["_aws"].(map[string]any)
	if !ok {
		t.Fatal("missing _aws directive")
	}
	cw := aws["CloudWatchMetrics"].([]any)[0].(map[string]any)
	if cw["Namespace"] != Namespace {
		t.Errorf("expected namespace %s, got %v", Namespace, cw["Namespace"])
	}
	dims := cw["Dimensions"].([]any)[0].([]any)
	if len(dims) != 1 || dims[0] != "Endpoint" {
		t.Errorf("unexpected dimensions %v", dims)
	}
	if doc[MetricRequestLatency] != float64(1234) {
		t.Errorf("latency = %v", doc[MetricRequestLatency])
	}
	if doc["ownerId"] != "u1" || doc["Endpoint"] != "GET /images" {
		t.Errorf("missing property or dimension value: %v", doc)
	}
	if strings.Count(buf.String(), "\n") != 1 {
		t.Error("EMF record must be a single line")
	}
}

func TestRecorder_EmptyFlushWritesNothing(t *testing.T) {
	buf := capture(t)
	New().Dimension("Stage", "labels").Flush()
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestNew_FunctionNameDimension(t *testing.T) {
	capture(t)
	functionName = "aggregate-lambda"
	defer func() { functionName = "" }()

	r := New()
	if r.dimensions["FunctionName"] != "aggregate-lambda" {
		t.Errorf("expected FunctionName dimension, got %v", r.dimensions)
	}
}
