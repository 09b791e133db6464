package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-analysis-pipeline/internal/apperr"
	"github.com/fpang/image-analysis-pipeline/internal/httputil"
	"github.com/fpang/image-analysis-pipeline/internal/jobutil"
	"github.com/fpang/image-analysis-pipeline/internal/logging"
	"github.com/fpang/image-analysis-pipeline/internal/s3util"
	"github.com/fpang/image-analysis-pipeline/internal/store"
)

// ImageView is the client representation of an image record.
type ImageView struct {
	ImageID   string         `json:"imageId"`
	ImageURL  string         `json:"imageUrl"`
	CreatedAt int64          `json:"createdAt"`
	Status    store.Status   `json:"status"`
	FileName  string         `json:"fileName"`
	Results   map[string]any `json:"results,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// UploadURLResponse is returned by POST /upload-url.
type UploadURLResponse struct {
	UploadURL string `json:"uploadUrl"`
	ImageID   string `json:"imageId"`
	ImageKey  string `json:"imageKey"`
	ImageURL  string `json:"imageUrl"`
}

type uploadURLRequest struct {
	FileName string `json:"fileName"`
}

// GET /images
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.auth.OwnerID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	logger := log.With().Str("ownerId", ownerID).Logger()

	var records []*store.ImageRecord
	list := jobutil.Do(r.Context(), logger, jobutil.APIList, func(ctx context.Context) error {
		var err error
		records, err = s.store.ListImages(ctx, ownerID)
		return err
	})
	if list.Degraded() {
		httputil.RespondJSON(w, http.StatusOK, map[string][]ImageView{"images": {}})
		return
	}

	images := make([]ImageView, 0, len(records))
	for _, rec := range records {
		if rec.ObjectKey == "" {
			logger.Warn().Str("imageId", rec.ImageID).Msg("Record has no objectKey, skipping")
			continue
		}
		images = append(images, s.view(r.Context(), logger, rec))
	}
	logger.Debug().Int("count", len(images)).Msg("Listed images")
	httputil.RespondJSON(w, http.StatusOK, map[string][]ImageView{"images": images})
}

// GET /images/{id}
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, logger, err := s.lookup(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, s.view(r.Context(), logger, rec))
}

// GET /images/{id}/results
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	rec, logger, err := s.lookup(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	v := s.view(r.Context(), logger, rec)
	v.Results = rec.Results
	if v.Results == nil {
		v.Results = map[string]any{}
	}
	if rec.Status == store.StatusFailed {
		v.Error = rec.Error
	}
	httputil.RespondJSON(w, http.StatusOK, v)
}

// DELETE /images/{id}
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	rec, logger, err := s.lookup(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if rec.ObjectKey != "" {
		blob := jobutil.Do(r.Context(), logger, jobutil.APIDeleteBlob, func(ctx context.Context) error {
			return s3util.DeleteObject(ctx, s.objects, s.bucket, rec.ObjectKey)
		})
		if err := blob.Abort(); err != nil {
			httputil.WriteError(w, apperr.Upstream(msgDeleteFailed, err))
			return
		}
	}
	if err := s.store.DeleteImage(r.Context(), rec.OwnerID, rec.ImageID); err != nil {
		httputil.WriteError(w, apperr.Upstream(msgDeleteFailed, err))
		return
	}

	logger.Info().Str("objectKey", rec.ObjectKey).Msg("Image deleted")
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"message": msgDeleted})
}

// POST /upload-url {"fileName": "..."}
//
// The record is created as pending only after the PUT URL has been signed,
// so a signing failure leaves nothing behind.
func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.auth.OwnerID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req uploadURLRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, apperr.Validation(msgInvalidBody))
			return
		}
	}
	if req.FileName == "" {
		httputil.WriteError(w, apperr.Validation(msgFileNameNeeded))
		return
	}
	contentType, ok := s3util.ImageContentType(req.FileName)
	if !ok {
		httputil.WriteError(w, apperr.Validation(msgInvalidType))
		return
	}

	imageID := s.newID()
	key := fmt.Sprintf("%s/%s.%s", ownerID, imageID, s3util.Ext(req.FileName))
	logger := logging.ForImage(ownerID, imageID)

	uploadURL, err := s3util.GeneratePresignedUploadURL(r.Context(), s.presigner, s.bucket, key, contentType, s3util.UploadURLExpiry)
	if err != nil {
		httputil.WriteError(w, apperr.Upstream(msgUploadFailed, err))
		return
	}

	now := s.now().Unix()
	rec := &store.ImageRecord{
		OwnerID:     ownerID,
		ImageID:     imageID,
		ObjectKey:   key,
		FileName:    path.Base(req.FileName),
		ContentType: contentType,
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      store.StatusPending,
	}
	if err := s.store.CreateImage(r.Context(), rec); err != nil {
		httputil.WriteError(w, apperr.Upstream(msgUploadFailed, err))
		return
	}

	logger.Info().Str("objectKey", key).Str("contentType", contentType).Msg("Issued upload URL")
	httputil.RespondJSON(w, http.StatusOK, UploadURLResponse{
		UploadURL: uploadURL,
		ImageID:   imageID,
		ImageKey:  key,
		ImageURL:  s.viewURL(r.Context(), logger, key),
	})
}

// lookup authenticates the caller and loads the record named by the {id}
// path value.
func (s *Server) lookup(r *http.Request) (*store.ImageRecord, zerolog.Logger, error) {
	ownerID, err := s.auth.OwnerID(r)
	if err != nil {
		return nil, log.Logger, err
	}
	imageID := r.PathValue("id")
	logger := logging.ForImage(ownerID, imageID)

	rec, err := s.store.GetImage(r.Context(), ownerID, imageID)
	if err != nil {
		return nil, logger, apperr.Upstream(msgLookupFailed, err)
	}
	if rec == nil {
		return nil, logger, apperr.NotFound(msgNotFound)
	}
	return rec, logger, nil
}

func (s *Server) view(ctx context.Context, logger zerolog.Logger, rec *store.ImageRecord) ImageView {
	v := ImageView{
		ImageID:   rec.ImageID,
		ImageURL:  s.viewURL(ctx, logger, rec.ObjectKey),
		CreatedAt: rec.CreatedAt,
		Status:    rec.Status,
		FileName:  rec.FileName,
	}
	if v.Status == "" {
		v.Status = store.StatusPending
	}
	if v.FileName == "" {
		v.FileName = "unknown"
	}
	return v
}

func (s *Server) viewURL(ctx context.Context, logger zerolog.Logger, key string) string {
	if key == "" {
		return placeholderURL
	}
	var url string
	presign := jobutil.Do(ctx, logger, jobutil.APIPresignView, func(ctx context.Context) error {
		var err error
		url, err = s3util.GeneratePresignedURL(ctx, s.presigner, s.bucket, key, s3util.ViewURLExpiry)
		return err
	})
	if presign.Failed() {
		return placeholderURL
	}
	return url
}
