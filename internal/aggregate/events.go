package aggregate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-analysis-pipeline/internal/store"
)

const (
	eventSource         = "image-analysis.aggregator"
	detailTypeCompleted = "ImageAnalysisCompleted"
	detailTypeFailed    = "ImageAnalysisFailed"
)

// EventPublisher is the subset of the EventBridge client used here.
type EventPublisher interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher emits one EventBridge event per aggregation so downstream
// consumers (notifications, search indexing) need not poll the table.
type Publisher struct {
	client  EventPublisher
	busName string
}

// NewPublisher returns nil when client is nil, which disables publishing.
func NewPublisher(client EventPublisher, busName string) *Publisher {
	if client == nil || busName == "" {
		return nil
	}
	return &Publisher{client: client, busName: busName}
}

// BusName returns the target event bus.
func (p *Publisher) BusName() string { return p.busName }

// Publish sends the aggregation outcome. The Output is the event detail.
func (p *Publisher) Publish(ctx context.Context, out *Output) error {
	detail, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal event detail: %w", err)
	}

	detailType := detailTypeCompleted
	if out.Status == store.StatusFailed {
		detailType = detailTypeFailed
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{{
			EventBusName: aws.String(p.busName),
			Source:       aws.String(eventSource),
			DetailType:   aws.String(detailType),
			Detail:       aws.String(string(detail)),
			Resources:    []string{},
		}},
	})
	if err != nil {
		return fmt.Errorf("PutEvents: %w", err)
	}
	if result.FailedEntryCount > 0 {
		code, msg := "", ""
		if len(result.Entries) > 0 {
			code = aws.ToString(result.Entries[0].ErrorCode)
			msg = aws.ToString(result.Entries[0].ErrorMessage)
		}
		return fmt.Errorf("PutEvents rejected entry: %s %s", code, msg)
	}

	log.Debug().
		Str("detailType", detailType).
		Str("imageId", out.ImageID).
		Msg("Analysis event published")
	return nil
}
