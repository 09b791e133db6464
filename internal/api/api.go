// Package api serves the image CRUD HTTP API:
//
//	GET    /images               list the caller's images, newest first
//	GET    /images/{id}          one image with a presigned view URL
//	GET    /images/{id}/results  the image plus its analysis results
//	DELETE /images/{id}          delete the blob, then the record
//	POST   /upload-url           reserve an image ID and return a PUT URL
//
// Every response carries permissive CORS headers and OPTIONS requests are
// answered by the middleware. Lambdas mount Handler behind
// aws-lambda-go-api-proxy's httpadapter.
package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fpang/image-analysis-pipeline/internal/httputil"
	"github.com/fpang/image-analysis-pipeline/internal/s3util"
	"github.com/fpang/image-analysis-pipeline/internal/store"
)

// Client-facing messages.
const (
	msgNotFound       = "Image not found"
	msgInvalidRequest = "Invalid request"
	msgInvalidBody    = "Invalid request body"
	msgFileNameNeeded = "fileName is required"
	msgInvalidType    = "Invalid file type"
	msgUploadFailed   = "Error generating upload URL"
	msgDeleteFailed   = "Error deleting image"
	msgDeleted        = "Image deleted successfully"
	msgLookupFailed   = "Error retrieving image"
)

// placeholderURL stands in for a view URL that could not be signed.
const placeholderURL = "#"

// Server holds the collaborators of the HTTP API.
type Server struct {
	store     store.Store
	objects   s3util.ObjectAPI
	presigner s3util.Presigner
	bucket    string
	auth      *Authenticator
	newID     func() string
	now       func() time.Time
}

// NewServer creates a Server.
func NewServer(st store.Store, objects s3util.ObjectAPI, presigner s3util.Presigner, bucket string, auth *Authenticator) *Server {
	return &Server{
		store:     st,
		objects:   objects,
		presigner: presigner,
		bucket:    bucket,
		auth:      auth,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Handler returns the routed handler wrapped in the CORS and metrics
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /images", s.handleList)
	mux.HandleFunc("GET /images/{id}", s.handleGet)
	mux.HandleFunc("GET /images/{id}/results", s.handleResults)
	mux.HandleFunc("DELETE /images/{id}", s.handleDelete)
	mux.HandleFunc("POST /upload-url", s.handleUploadURL)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		httputil.Error(w, http.StatusBadRequest, msgInvalidRequest)
	})
	return httputil.WithMetrics(endpoint, httputil.WithCORS(allowMethods, mux))
}
