package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/rs/zerolog/log"
)

// ParameterGetter is the subset of the SSM client used to look up the
// state machine ARN.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ARNResolver finds the state machine ARN. A static ARN wins; otherwise the
// named SSM parameter is read lazily and cached once it has a value. The
// state machine is deployed after the bucket notification that invokes the
// trigger, so early uploads may legitimately find no ARN yet.
type ARNResolver struct {
	static    string
	paramName string
	ssm       ParameterGetter

	mu     sync.Mutex
	cached string
}

// NewARNResolver creates a resolver. Either argument may be empty.
func NewARNResolver(staticARN, paramName string, client ParameterGetter) *ARNResolver {
	return &ARNResolver{static: staticARN, paramName: paramName, ssm: client}
}

// Resolve returns the ARN, or "" with a nil error when none is configured
// yet. SSM failures other than a missing parameter are returned.
func (r *ARNResolver) Resolve(ctx context.Context) (string, error) {
	if r.static != "" {
		return r.static, nil
	}
	if r.paramName == "" || r.ssm == nil {
		return "", nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached != "" {
		return r.cached, nil
	}

	out, err := r.ssm.GetParameter(ctx, &ssm.GetParameterInput{Name: aws.String(r.paramName)})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			log.Debug().Str("param", r.paramName).Msg("State machine ARN parameter not found yet")
			return "", nil
		}
		return "", fmt.Errorf("GetParameter %s: %w", r.paramName, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", nil
	}

	r.cached = aws.ToString(out.Parameter.Value)
	log.Debug().Str("param", r.paramName).Msg("State machine ARN resolved from SSM")
	return r.cached, nil
}
