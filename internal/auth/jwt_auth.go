package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingProject is returned for a valid JWT without a project_id claim.
var ErrMissingProject = errors.New("token has no project_id claim")

// Claims are the JWT claims accepted by JWTAuthenticator.
type Claims struct {
	jwt.RegisteredClaims
	ProjectID string `json:"project_id"`
}

// JWTAuthenticator accepts HS256 tokens signed with a shared secret.
type JWTAuthenticator struct {
	secret   []byte
	issuer   string
	audience string
}

// NewJWTAuthenticator creates a JWTAuthenticator. Empty issuer or audience
// skips that check.
func NewJWTAuthenticator(secret []byte, issuer, audience string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: secret, issuer: issuer, audience: audience}
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (*ProjectContext, error) {
	if IsAPIKey(token) {
		return nil, ErrUnauthenticated
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.ProjectID == "" {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, ErrMissingProject)
	}
	return &ProjectContext{ProjectID: claims.ProjectID, Subject: claims.Subject}, nil
}
