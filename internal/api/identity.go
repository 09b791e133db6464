package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/image-analysis-pipeline/internal/apperr"
)

const msgUnauthorized = "Unauthorized"

// Verifier turns a bearer token into an owner ID.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Authenticator resolves the owner of a request.
type Authenticator struct {
	allowQuery bool
	verifier   Verifier
}

// NewAuthenticator creates an Authenticator. When allowQuery is set an
// explicit userId query parameter is trusted ahead of the Authorization
// header; it exists for tests and older clients only. verifier may be nil,
// in which case only the query path can succeed.
func NewAuthenticator(allowQuery bool, verifier Verifier) *Authenticator {
	return &Authenticator{allowQuery: allowQuery, verifier: verifier}
}

// OwnerID returns the caller's owner ID or an apperr Auth error.
func (a *Authenticator) OwnerID(r *http.Request) (string, error) {
	if a.allowQuery {
		if id := r.URL.Query().Get("userId"); id != "" {
			return id, nil
		}
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return "", apperr.Auth(msgUnauthorized, errors.New("no credentials"))
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if a.verifier == nil {
		return "", apperr.Auth(msgUnauthorized, errors.New("bearer tokens not configured"))
	}

	sub, err := a.verifier.Verify(r.Context(), token)
	if err != nil {
		log.Debug().Err(err).Msg("Rejected bearer token")
		return "", apperr.Auth(msgUnauthorized, err)
	}
	return sub, nil
}
