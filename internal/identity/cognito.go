package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"

	"github.com/booksapi/release-pipeline/internal/awsutil"
	"github.com/booksapi/release-pipeline/internal/core/ports"
)

// CognitoAPI is the subset of the user pool API used for disposable users.
type CognitoAPI interface {
	AdminCreateUser(ctx context.Context, params *cip.AdminCreateUserInput, optFns ...func(*cip.Options)) (*cip.AdminCreateUserOutput, error)
	AdminSetUserPassword(ctx context.Context, params *cip.AdminSetUserPasswordInput, optFns ...func(*cip.Options)) (*cip.AdminSetUserPasswordOutput, error)
	InitiateAuth(ctx context.Context, params *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	AdminDeleteUser(ctx context.Context, params *cip.AdminDeleteUserInput, optFns ...func(*cip.Options)) (*cip.AdminDeleteUserOutput, error)
}

// Cognito issues disposable users in a user pool.
type Cognito struct {
	api CognitoAPI
}

var _ ports.IdentityProvider = (*Cognito)(nil)

// NewCognito wraps a user pool client.
func NewCognito(api CognitoAPI) *Cognito {
	return &Cognito{api: api}
}

// NewCognitoFromConfig creates a provider from an AWS config.
func NewCognitoFromConfig(cfg aws.Config) *Cognito {
	return NewCognito(cip.NewFromConfig(cfg))
}

// CreateIdentity creates a confirmed user with a permanent password. The
// invitation message is suppressed.
func (c *Cognito) CreateIdentity(ctx context.Context, userPoolID string) (*ports.Identity, error) {
	id := newIdentity()

	_, err := c.api.AdminCreateUser(ctx, &cip.AdminCreateUserInput{
		UserPoolId:    aws.String(userPoolID),
		Username:      aws.String(id.Username),
		MessageAction: types.MessageActionTypeSuppress,
		UserAttributes: []types.AttributeType{
			{Name: aws.String("email_verified"), Value: aws.String("True")},
			{Name: aws.String("email"), Value: aws.String(id.Username)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	_, err = c.api.AdminSetUserPassword(ctx, &cip.AdminSetUserPasswordInput{
		UserPoolId: aws.String(userPoolID),
		Username:   aws.String(id.Username),
		Password:   aws.String(id.Password),
		Permanent:  true,
	})
	if err != nil {
		// The user exists but cannot sign in; remove it before giving up.
		if delErr := c.DeleteIdentity(ctx, userPoolID, id); delErr != nil {
			return nil, errors.Join(fmt.Errorf("set password: %w", err), delErr)
		}
		return nil, fmt.Errorf("set password: %w", err)
	}
	return id, nil
}

func (c *Cognito) AccessToken(ctx context.Context, clientID string, id *ports.Identity) (string, error) {
	out, err := c.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow: types.AuthFlowTypeUserPasswordAuth,
		ClientId: aws.String(clientID),
		AuthParameters: map[string]string{
			"USERNAME": id.Username,
			"PASSWORD": id.Password,
		},
	})
	if err != nil {
		if awsutil.HasErrorCode(err, "NotAuthorizedException", "UserNotFoundException") {
			return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return "", fmt.Errorf("initiate auth: %w", err)
	}
	if out.AuthenticationResult == nil || aws.ToString(out.AuthenticationResult.AccessToken) == "" {
		return "", fmt.Errorf("initiate auth: no access token (challenge %q)", out.ChallengeName)
	}
	return aws.ToString(out.AuthenticationResult.AccessToken), nil
}

// DeleteIdentity removes the user. A user that no longer exists counts as
// deleted.
func (c *Cognito) DeleteIdentity(ctx context.Context, userPoolID string, id *ports.Identity) error {
	_, err := c.api.AdminDeleteUser(ctx, &cip.AdminDeleteUserInput{
		UserPoolId: aws.String(userPoolID),
		Username:   aws.String(id.Username),
	})
	if err != nil && !awsutil.HasErrorCode(err, "UserNotFoundException") {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
