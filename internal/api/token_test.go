package api

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fpang/image-analysis-pipeline/internal/store"
)

const (
	testPoolID   = "us-east-1_TestPool"
	testClientID = "client-123"
)

var testIssuer = "https://cognito-idp.us-east-1.amazonaws.com/" + testPoolID

type jwksServer struct {
	*httptest.Server
	key  *rsa.PrivateKey
	hits atomic.Int32
}

func newJWKSServer(t *testing.T) *jwksServer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s := &jwksServer{key: key}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		s.hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		pub := key.PublicKey
		json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kid": "k1",
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}}})
	}))
	t.Cleanup(s.Close)
	return s
}

// keys loads the served key set the way the API Lambda loads the user pool's.
func (s *jwksServer) keys(t *testing.T) jwt.Keyfunc {
	t.Helper()
	k, err := CognitoKeys(t.Context(), s.URL)
	if err != nil {
		t.Fatalf("CognitoKeys() error: %v", err)
	}
	return k.Keyfunc
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	raw, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func idClaims(sub string, exp time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":       sub,
		"iss":       testIssuer,
		"aud":       testClientID,
		"token_use": "id",
		"exp":       exp.Unix(),
	}
}

func TestCognitoIssuer(t *testing.T) {
	iss, err := CognitoIssuer(testPoolID)
	if err != nil || iss != testIssuer {
		t.Errorf("CognitoIssuer() = %q, %v", iss, err)
	}
	if _, err := CognitoIssuer("nounderscore"); err == nil {
		t.Error("expected error for malformed pool id")
	}
}

func TestTokenVerifier(t *testing.T) {
	srv := newJWKSServer(t)
	other, _ := rsa.GenerateKey(rand.Reader, 2048)
	future := time.Now().Add(time.Hour)

	accessClaims := jwt.MapClaims{"sub": "u1", "iss": testIssuer, "client_id": testClientID, "token_use": "access", "exp": future.Unix()}
	wrongIssuer := idClaims("u1", future)
	wrongIssuer["iss"] = "https://cognito-idp.us-east-1.amazonaws.com/other"
	wrongAudience := idClaims("u1", future)
	wrongAudience["aud"] = "someone-else"
	noExpiry := idClaims("u1", future)
	delete(noExpiry, "exp")

	tests := []struct {
		name    string
		token   string
		wantSub string
	}{
		{"valid id token", signToken(t, srv.key, "k1", idClaims("u1", future)), "u1"},
		{"valid access token", signToken(t, srv.key, "k1", accessClaims), "u1"},
		{"bad signature", signToken(t, other, "k1", idClaims("u1", future)), ""},
		{"unknown kid", signToken(t, srv.key, "k2", idClaims("u1", future)), ""},
		{"expired", signToken(t, srv.key, "k1", idClaims("u1", time.Now().Add(-time.Hour))), ""},
		{"no expiry", signToken(t, srv.key, "k1", noExpiry), ""},
		{"wrong issuer", signToken(t, srv.key, "k1", wrongIssuer), ""},
		{"wrong audience", signToken(t, srv.key, "k1", wrongAudience), ""},
		{"garbage", "not.a.jwt", ""},
	}
	v := NewTokenVerifier(srv.keys(t), testIssuer, testClientID)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := v.Verify(context.Background(), tt.token)
			if tt.wantSub == "" {
				if err == nil {
					t.Fatalf("expected rejection, got sub %q", sub)
				}
				return
			}
			if err != nil || sub != tt.wantSub {
				t.Fatalf("Verify() = %q, %v", sub, err)
			}
		})
	}
}

func TestTokenVerifier_RejectsHS256(t *testing.T) {
	srv := newJWKSServer(t)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, idClaims("u1", time.Now().Add(time.Hour)))
	tok.Header["kid"] = "k1"
	raw, _ := tok.SignedString([]byte("shared-secret"))

	v := NewTokenVerifier(srv.keys(t), testIssuer, testClientID)
	if _, err := v.Verify(context.Background(), raw); err == nil {
		t.Fatal("HS256 token must be rejected")
	}
}

func TestCognitoKeys_FetchesOnce(t *testing.T) {
	srv := newJWKSServer(t)
	v := NewTokenVerifier(srv.keys(t), testIssuer, testClientID)
	token := signToken(t, srv.key, "k1", idClaims("u1", time.Now().Add(time.Hour)))

	if _, err := v.Verify(context.Background(), token); err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	fetched := srv.hits.Load()
	if fetched == 0 {
		t.Fatal("expected the key set to be fetched")
	}
	for i := 0; i < 3; i++ {
		if _, err := v.Verify(context.Background(), token); err != nil {
			t.Fatalf("Verify() error: %v", err)
		}
	}
	if got := srv.hits.Load(); got != fetched {
		t.Errorf("known kid refetched the key set: %d fetches, want %d", got, fetched)
	}
}

func TestBearerAuthThroughHandler(t *testing.T) {
	srv := newJWKSServer(t)
	verifier := NewTokenVerifier(srv.keys(t), testIssuer, testClientID)
	env := newTestEnv(record("i1", 100, store.StatusCompleted))
	api := NewServer(env.store, env.objects, env.presigner, testBucket, NewAuthenticator(false, verifier))
	h := api.Handler()

	good := signToken(t, srv.key, "k1", idClaims("u1", time.Now().Add(time.Hour)))
	req := httptest.NewRequest(http.MethodGet, "/images/i1", nil)
	req.Header.Set("Authorization", "Bearer "+good)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}

	other, _ := rsa.GenerateKey(rand.Reader, 2048)
	forged := signToken(t, other, "k1", idClaims("u1", time.Now().Add(time.Hour)))
	req = httptest.NewRequest(http.MethodGet, "/images/i1", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("forged token: status = %d", w.Code)
	}
	if msg := decode[map[string]string](t, w)["message"]; msg != msgUnauthorized {
		t.Errorf("message = %q", msg)
	}
}
