// Package store persists image records in DynamoDB.
//
// The table holds exactly one item per uploaded image, keyed by ownerId
// (partition key) and imageId (sort key). Items are created only when an
// upload URL is issued. Every later write is an UpdateItem guarded by
// attribute_exists(imageId) and by the set of statuses the transition may
// start from, so no writer can create a phantom record or move a record
// backwards.
package store

import (
	"context"
	"errors"

	"github.com/fpang/image-analysis-pipeline/internal/analysis"
)

// Status is the lifecycle state of an image record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether a record in status s may move to next.
// Status only moves forward. processing->processing is allowed so a retried
// trigger is harmless, and terminal->terminal is allowed so a retried
// aggregator can overwrite its own outcome.
func (s Status) CanTransitionTo(next Status) bool {
	switch next {
	case StatusProcessing:
		return s == StatusPending || s == StatusProcessing
	case StatusCompleted, StatusFailed:
		return s == StatusPending || s == StatusProcessing || s.Terminal()
	default:
		return false
	}
}

// predecessors returns every status from which next may be reached.
func predecessors(next Status) []Status {
	var out []Status
	for _, s := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		if s.CanTransitionTo(next) {
			out = append(out, s)
		}
	}
	return out
}

// ImageRecord is one uploaded image and its analysis state.
type ImageRecord struct {
	OwnerID      string         `json:"ownerId" dynamodbav:"ownerId"`
	ImageID      string         `json:"imageId" dynamodbav:"imageId"`
	ObjectKey    string         `json:"objectKey" dynamodbav:"objectKey"`
	FileName     string         `json:"fileName" dynamodbav:"fileName"`
	ContentType  string         `json:"contentType,omitempty" dynamodbav:"contentType,omitempty"`
	CreatedAt    int64          `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt    int64          `json:"updatedAt" dynamodbav:"updatedAt"`
	Status       Status         `json:"status" dynamodbav:"status"`
	Results      map[string]any `json:"results,omitempty" dynamodbav:"results,omitempty"`
	Error        string         `json:"error,omitempty" dynamodbav:"error,omitempty"`
	ExecutionARN string         `json:"executionArn,omitempty" dynamodbav:"executionArn,omitempty"`
}

var (
	// ErrExists is returned by CreateImage when the key is already taken.
	ErrExists = errors.New("image record already exists")
	// ErrTransitionRejected is returned when an update's condition fails:
	// the record is missing or its status does not allow the transition.
	ErrTransitionRejected = errors.New("status transition rejected")
)

// Store defines the persistence interface for image records.
//
// Get methods return (nil, nil) when the record does not exist. Status
// writes never create a record.
type Store interface {
	// CreateImage writes a new pending record. Fails with ErrExists if the
	// (ownerId, imageId) pair is taken.
	CreateImage(ctx context.Context, rec *ImageRecord) error

	// GetImage retrieves a record. Returns nil, nil if not found.
	GetImage(ctx context.Context, ownerID, imageID string) (*ImageRecord, error)

	// ListImages returns every record for an owner, newest first.
	ListImages(ctx context.Context, ownerID string) ([]*ImageRecord, error)

	// MarkProcessing moves a pending (or already processing) record to processing.
	MarkProcessing(ctx context.Context, ownerID, imageID string) error

	// SetExecution records the workflow execution handling the image.
	SetExecution(ctx context.Context, ownerID, imageID, executionARN string) error

	// CompleteImage writes the merged results and marks the record completed
	// in a single update. Any previous error attribute is removed.
	CompleteImage(ctx context.Context, ownerID, imageID string, results *analysis.Results) error

	// FailImage marks the record failed with a message.
	FailImage(ctx context.Context, ownerID, imageID, message string) error

	// DeleteImage removes the record. Deleting a missing record is not an error.
	DeleteImage(ctx context.Context, ownerID, imageID string) error
}
