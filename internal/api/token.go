package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// CognitoIssuer returns the issuer URL of a user pool. The region is the
// pool ID prefix ("us-east-1_AbCd" -> "us-east-1").
func CognitoIssuer(userPoolID string) (string, error) {
	region, _, ok := strings.Cut(userPoolID, "_")
	if !ok || region == "" {
		return "", fmt.Errorf("malformed user pool id %q", userPoolID)
	}
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, userPoolID), nil
}

// CognitoKeys loads the signing keys a user pool publishes under its issuer.
// The key set is refreshed in the background until ctx is done, and an
// unknown kid triggers a rate-limited refresh.
func CognitoKeys(ctx context.Context, issuer string) (keyfunc.Keyfunc, error) {
	url := issuer + "/.well-known/jwks.json"
	k, err := keyfunc.NewDefaultCtx(ctx, []string{url})
	if err != nil {
		return nil, fmt.Errorf("load JWKS %s: %w", url, err)
	}
	log.Debug().Str("url", url).Msg("JWKS loaded")
	return k, nil
}

// cognitoClaims are the claims checked on Cognito ID and access tokens.
type cognitoClaims struct {
	jwt.RegisteredClaims
	TokenUse string `json:"token_use"`
	ClientID string `json:"client_id"`
}

// TokenVerifier checks RS256 bearer tokens issued by one Cognito user pool.
type TokenVerifier struct {
	keys     jwt.Keyfunc
	issuer   string
	clientID string
	now      func() time.Time
}

// NewTokenVerifier creates a verifier. keys resolves the signing key from the
// token header, usually CognitoKeys(...).Keyfunc. When clientID is non-empty
// the token must have been issued to that app client.
func NewTokenVerifier(keys jwt.Keyfunc, issuer, clientID string) *TokenVerifier {
	return &TokenVerifier{keys: keys, issuer: issuer, clientID: clientID, now: time.Now}
}

// Verify validates the signature, issuer and expiry of raw and returns its
// subject.
func (v *TokenVerifier) Verify(_ context.Context, raw string) (string, error) {
	var claims cognitoClaims
	_, err := jwt.ParseWithClaims(raw, &claims, v.keys,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}

	if err := v.checkClient(claims); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func (v *TokenVerifier) checkClient(c cognitoClaims) error {
	if v.clientID == "" {
		return nil
	}
	switch c.TokenUse {
	case "id":
		for _, aud := range c.Audience {
			if aud == v.clientID {
				return nil
			}
		}
		return errors.New("token audience mismatch")
	case "access":
		if c.ClientID == v.clientID {
			return nil
		}
		return errors.New("token client mismatch")
	default:
		return fmt.Errorf("unsupported token_use %q", c.TokenUse)
	}
}
