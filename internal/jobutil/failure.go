package jobutil

import (
	"context"

	"github.com/rs/zerolog"
)

// FailureWriter persists a failed status for one image record.
// store.Store.FailImage satisfies it.
type FailureWriter func(ctx context.Context, ownerID, imageID, errMsg string) error

// RecordFailure logs the failure and runs write under op's policy. The
// returned Outcome tells the caller whether the write itself failed.
func RecordFailure(ctx context.Context, logger zerolog.Logger, op Operation, ownerID, imageID, msg string, write FailureWriter) Outcome {
	logger.Error().
		Str("ownerId", ownerID).
		Str("imageId", imageID).
		Str("error", msg).
		Msg("Image processing failed")
	return Do(ctx, logger, op, func(ctx context.Context) error {
		return write(ctx, ownerID, imageID, msg)
	})
}
