// Package identity implements the login and registration endpoint on top
// of a Cognito user pool. Passwords never touch this service beyond the
// Cognito calls; the returned token is the pool's ID token.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	ciptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-analysis-pipeline/internal/apperr"
	"github.com/fpang/image-analysis-pipeline/internal/httputil"
)

// Client-facing messages.
const (
	msgInvalidAction      = "Invalid action specified"
	msgInvalidBody        = "Invalid request body"
	msgCredentialsNeeded  = "Email and password are required"
	msgInvalidCredentials = "Invalid credentials"
	msgUserExists         = "User already exists"
	msgInvalidPassword    = "Password does not meet requirements"
	msgAuthFailed         = "Authentication service error"
)

// Actions accepted in the request body.
const (
	ActionLogin    = "login"
	ActionRegister = "register"
)

// allowMethods is the Access-Control-Allow-Methods value of the auth API.
const allowMethods = "OPTIONS,POST"

// CognitoAPI is the subset of the Cognito Identity Provider client used here.
type CognitoAPI interface {
	SignUp(ctx context.Context, params *cip.SignUpInput, optFns ...func(*cip.Options)) (*cip.SignUpOutput, error)
	AdminConfirmSignUp(ctx context.Context, params *cip.AdminConfirmSignUpInput, optFns ...func(*cip.Options)) (*cip.AdminConfirmSignUpOutput, error)
	InitiateAuth(ctx context.Context, params *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	GetUser(ctx context.Context, params *cip.GetUserInput, optFns ...func(*cip.Options)) (*cip.GetUserOutput, error)
}

// Request is the POST /auth body.
type Request struct {
	Action   string `json:"action"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is returned on successful login or registration.
type Session struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// Service talks to one user pool through one app client.
type Service struct {
	cognito    CognitoAPI
	userPoolID string
	clientID   string
}

// NewService creates a Service.
func NewService(client CognitoAPI, userPoolID, clientID string) *Service {
	return &Service{cognito: client, userPoolID: userPoolID, clientID: clientID}
}

// Handler returns POST /auth wrapped in the CORS and metrics middleware.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth", s.handleAuth)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		httputil.Error(w, http.StatusBadRequest, msgInvalidAction)
	})
	return httputil.WithMetrics(func(r *http.Request) string {
		return r.Method + " /auth"
	}, httputil.WithCORS(allowMethods, mux))
}

func (s *Service) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperr.Validation(msgInvalidBody))
		return
	}

	switch req.Action {
	case ActionLogin:
		sess, err := s.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.RespondJSON(w, http.StatusOK, sess)
	case ActionRegister:
		sess, err := s.Register(r.Context(), req.Email, req.Password)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.RespondJSON(w, http.StatusCreated, sess)
	default:
		httputil.WriteError(w, apperr.Validation(msgInvalidAction))
	}
}

func normalizeCredentials(email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return "", apperr.Validation(msgCredentialsNeeded)
	}
	return email, nil
}

// Login authenticates with USER_PASSWORD_AUTH and resolves the user's sub.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email, err := normalizeCredentials(email, password)
	if err != nil {
		return nil, err
	}

	out, err := s.cognito.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow: ciptypes.AuthFlowTypeUserPasswordAuth,
		ClientId: aws.String(s.clientID),
		AuthParameters: map[string]string{
			"USERNAME": email,
			"PASSWORD": password,
		},
	})
	if err != nil {
		return nil, classify(err)
	}
	if out.AuthenticationResult == nil {
		// A challenge (new password, MFA) is not supported by this client.
		name := string(out.ChallengeName)
		log.Warn().Str("challenge", name).Msg("Login requires an unsupported challenge")
		return nil, apperr.Auth(msgInvalidCredentials, fmt.Errorf("unsupported challenge %s", name))
	}

	user, err := s.cognito.GetUser(ctx, &cip.GetUserInput{AccessToken: out.AuthenticationResult.AccessToken})
	if err != nil {
		return nil, apperr.Upstream(msgAuthFailed, fmt.Errorf("GetUser: %w", err))
	}
	sub := attribute(user.UserAttributes, "sub")
	if sub == "" {
		return nil, apperr.Upstream(msgAuthFailed, errors.New("user has no sub attribute"))
	}

	log.Info().Str("userId", sub).Msg("User logged in")
	return &Session{Token: aws.ToString(out.AuthenticationResult.IdToken), UserID: sub, Email: email}, nil
}

// Register creates and confirms a user, then logs them in.
func (s *Service) Register(ctx context.Context, email, password string) (*Session, error) {
	email, err := normalizeCredentials(email, password)
	if err != nil {
		return nil, err
	}

	_, err = s.cognito.SignUp(ctx, &cip.SignUpInput{
		ClientId: aws.String(s.clientID),
		Username: aws.String(email),
		Password: aws.String(password),
		UserAttributes: []ciptypes.AttributeType{
			{Name: aws.String("email"), Value: aws.String(email)},
		},
	})
	if err != nil {
		return nil, classify(err)
	}

	_, err = s.cognito.AdminConfirmSignUp(ctx, &cip.AdminConfirmSignUpInput{
		UserPoolId: aws.String(s.userPoolID),
		Username:   aws.String(email),
	})
	if err != nil {
		return nil, apperr.Upstream(msgAuthFailed, fmt.Errorf("AdminConfirmSignUp: %w", err))
	}
	log.Info().Msg("User registered")

	return s.Login(ctx, email, password)
}

// classify maps Cognito exceptions onto the apperr taxonomy.
func classify(err error) error {
	var (
		notAuthorized *ciptypes.NotAuthorizedException
		notFound      *ciptypes.UserNotFoundException
		notConfirmed  *ciptypes.UserNotConfirmedException
		exists        *ciptypes.UsernameExistsException
		badPassword   *ciptypes.InvalidPasswordException
		badParam      *ciptypes.InvalidParameterException
	)
	switch {
	case errors.As(err, &notAuthorized), errors.As(err, &notFound), errors.As(err, &notConfirmed):
		return apperr.Auth(msgInvalidCredentials, err)
	case errors.As(err, &exists):
		return apperr.Conflict(msgUserExists, err)
	case errors.As(err, &badPassword):
		return apperr.Validation(msgInvalidPassword)
	case errors.As(err, &badParam):
		return apperr.Validation(msgCredentialsNeeded)
	default:
		return apperr.Upstream(msgAuthFailed, err)
	}
}

func attribute(attrs []ciptypes.AttributeType, name string) string {
	for _, a := range attrs {
		if aws.ToString(a.Name) == name {
			return aws.ToString(a.Value)
		}
	}
	return ""
}
