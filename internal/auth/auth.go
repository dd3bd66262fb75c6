package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Authenticator resolves a bearer token to the project it belongs to.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*ProjectContext, error)
}

// ProjectContext holds the authenticated project's identity. Sessions, rate
// windows and throttles are keyed by ProjectID.
type ProjectContext struct {
	ProjectID string
	Subject   string // JWT subject or API key prefix
}

// ErrUnauthenticated is returned when no valid credentials are found.
var ErrUnauthenticated = errors.New("unauthenticated")

// apiKeyPrefix marks project API keys, as opposed to JWTs.
const apiKeyPrefix = "tsk_"

// ExtractBearerToken returns the token from an "Authorization: Bearer" header.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrUnauthenticated
	}
	token := strings.TrimPrefix(header, "Bearer ")
	token = strings.TrimPrefix(token, "bearer ")
	token = strings.TrimSpace(token)
	if token == "" || token == header {
		return "", ErrUnauthenticated
	}
	return token, nil
}

// IsAPIKey reports whether token looks like a project API key.
func IsAPIKey(token string) bool {
	return strings.HasPrefix(token, apiKeyPrefix)
}

// Chain tries each authenticator in order and returns the first success.
// Only ErrUnauthenticated moves on to the next one; other errors stop the chain.
type Chain []Authenticator

func (c Chain) Authenticate(ctx context.Context, token string) (*ProjectContext, error) {
	for _, a := range c {
		project, err := a.Authenticate(ctx, token)
		if err == nil {
			return project, nil
		}
		if !errors.Is(err, ErrUnauthenticated) {
			return nil, err
		}
	}
	return nil, ErrUnauthenticated
}
