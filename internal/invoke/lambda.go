package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/booksapi/release-pipeline/internal/core/ports"
)

// LambdaAPI is the subset of the Lambda client used for invocation.
type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaInvoker synchronously invokes a function version. The target is a
// function name, optionally qualified ("books-create:7"). The body is wrapped
// in a gateway proxy request, the same shape the function receives from the
// public gateway.
type LambdaInvoker struct {
	api LambdaAPI
}

var _ ports.Invoker = (*LambdaInvoker)(nil)

// NewLambda wraps a Lambda API client.
func NewLambda(api LambdaAPI) *LambdaInvoker {
	return &LambdaInvoker{api: api}
}

// NewLambdaFromConfig creates an invoker from an AWS config.
func NewLambdaFromConfig(cfg aws.Config) *LambdaInvoker {
	return NewLambda(lambda.NewFromConfig(cfg))
}

func (i *LambdaInvoker) Invoke(ctx context.Context, inv *ports.Invocation) (*ports.InvocationResult, error) {
	payload, err := json.Marshal(events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Body:       string(inv.Body),
	})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	out, err := i.api.Invoke(ctx, &lambda.InvokeInput{
		FunctionName: aws.String(inv.Target),
		Payload:      payload,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", inv.Target, err)
	}

	// Unhandled errors inside the function come back as a 200 invoke with
	// FunctionError set.
	if out.FunctionError != nil {
		return &ports.InvocationResult{StatusCode: http.StatusInternalServerError, Body: out.Payload}, nil
	}

	var resp events.APIGatewayProxyResponse
	if err := json.Unmarshal(out.Payload, &resp); err != nil || resp.StatusCode == 0 {
		return &ports.InvocationResult{StatusCode: http.StatusBadGateway, Body: out.Payload}, nil
	}
	return &ports.InvocationResult{StatusCode: resp.StatusCode, Body: []byte(resp.Body)}, nil
}
