package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp" // register BMP decoder

	"github.com/fpang/image-analysis-pipeline/internal/analysis"
	"github.com/fpang/image-analysis-pipeline/internal/s3util"
)

const (
	// headerBytes is how much of the object is fetched for header and EXIF decoding.
	headerBytes = 1 << 20
	// MaxImageBytes is Rekognition's limit for images passed by S3 reference.
	MaxImageBytes = 15 << 20
)

// Validation messages reported with Valid=false.
const (
	msgMissingParams = "Missing required parameters"
	msgInvalidFormat = "Invalid image format"
	msgNotFound      = "Image not found"
	msgEmpty         = "Image is empty"
	msgTooLarge      = "Image exceeds 15 MB limit"
	msgUndecodable   = "Image data could not be decoded"
	msgValid         = "Image appears valid"
)

// Validator is the first workflow step. It checks that the uploaded object
// is an image Rekognition can process before the parallel stages run.
type Validator struct {
	objects s3util.ObjectAPI
	bucket  string
	now     func() time.Time
}

func NewValidator(objects s3util.ObjectAPI, bucket string) *Validator {
	return &Validator{objects: objects, bucket: bucket, now: time.Now}
}

// Validate inspects the object behind ref. Problems with the image itself
// are reported as Valid=false; only S3 failures other than a missing key
// are returned as errors, so the workflow can retry them.
func (v *Validator) Validate(ctx context.Context, ref analysis.ImageRef) (*analysis.ValidationResult, error) {
	res := &analysis.ValidationResult{Timestamp: v.now().Unix()}
	invalid := func(msg string) (*analysis.ValidationResult, error) {
		res.Message = msg
		log.Info().Str("objectKey", ref.ObjectKey).Str("reason", msg).Msg("Image failed validation")
		return res, nil
	}

	if ref.ObjectKey == "" || ref.OwnerID == "" {
		return invalid(msgMissingParams)
	}
	if _, ok := s3util.ImageContentType(ref.ObjectKey); !ok {
		return invalid(msgInvalidFormat)
	}

	bucket := ref.Bucket
	if bucket == "" {
		bucket = v.bucket
	}

	info, err := s3util.Head(ctx, v.objects, bucket, ref.ObjectKey)
	if err != nil {
		if s3util.IsNotFound(err) {
			return invalid(msgNotFound)
		}
		return nil, fmt.Errorf("validate %s: %w", ref.ObjectKey, err)
	}
	switch {
	case info.Size == 0:
		return invalid(msgEmpty)
	case info.Size > MaxImageBytes:
		return invalid(msgTooLarge)
	}

	data, err := s3util.ReadPrefix(ctx, v.objects, bucket, ref.ObjectKey, headerBytes)
	if err != nil {
		if s3util.IsNotFound(err) {
			return invalid(msgNotFound)
		}
		return nil, fmt.Errorf("validate %s: %w", ref.ObjectKey, err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Str("objectKey", ref.ObjectKey).Msg("DecodeConfig failed")
		return invalid(msgUndecodable)
	}

	meta := &analysis.MetadataResult{
		Format:    format,
		Width:     cfg.Width,
		Height:    cfg.Height,
		SizeBytes: info.Size,
	}
	readEXIF(data, meta)

	res.Valid = true
	res.Message = msgValid
	res.Metadata = meta
	log.Debug().
		Str("objectKey", ref.ObjectKey).
		Str("format", format).
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Msg("Image validated")
	return res, nil
}

// readEXIF fills camera, date and GPS fields when the header carries an EXIF
// block. Missing or unreadable EXIF leaves the fields empty.
func readEXIF(data []byte, meta *analysis.MetadataResult) {
	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Msg("No EXIF metadata")
		return
	}

	meta.CameraMake = strings.TrimSpace(exifData.Make)
	meta.CameraModel = strings.TrimSpace(exifData.Model)

	// Priority: DateTimeOriginal > CreateDate > ModifyDate
	for _, t := range []time.Time{exifData.DateTimeOriginal(), exifData.CreateDate(), exifData.ModifyDate()} {
		if !t.IsZero() {
			meta.DateTaken = t.UTC().Format(time.RFC3339)
			break
		}
	}

	gps := exifData.GPS
	if lat, lon := gps.Latitude(), gps.Longitude(); lat != 0 || lon != 0 {
		meta.Latitude = &lat
		meta.Longitude = &lon
	}
}
