package auth

import (
	"context"
	"fmt"
	"strings"
)

// StaticAuthenticator checks API keys against a fixed key -> project table.
// With an empty table it is development-only and accepts any tsk_ key.
type StaticAuthenticator struct {
	keys map[string]string
}

func NewStaticAuthenticator(keys map[string]string) *StaticAuthenticator {
	return &StaticAuthenticator{keys: keys}
}

// ParseStaticKeys parses "key:project,key:project" as set in the environment.
func ParseStaticKeys(raw string) (map[string]string, error) {
	keys := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, project, ok := strings.Cut(pair, ":")
		if !ok || !IsAPIKey(key) || project == "" {
			return nil, fmt.Errorf("ParseStaticKeys: malformed entry %q", pair)
		}
		keys[key] = project
	}
	return keys, nil
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, token string) (*ProjectContext, error) {
	if !IsAPIKey(token) || len(token) < 8 {
		return nil, ErrUnauthenticated
	}
	if len(a.keys) == 0 {
		// Accept any tsk_ prefixed key with a static project ID
		return &ProjectContext{ProjectID: "static-" + token[:8], Subject: token[:8]}, nil
	}
	project, ok := a.keys[token]
	if !ok {
		return nil, ErrUnauthenticated
	}
	return &ProjectContext{ProjectID: project, Subject: token[:8]}, nil
}
