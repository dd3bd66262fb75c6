package gateway

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies why a gateway call failed.
type Kind string

const (
	KindPolicy   Kind = "policy"
	KindBudget   Kind = "budget"
	KindTimeout  Kind = "timeout"
	KindDispatch Kind = "dispatch"
)

// ErrBudgetExceeded is wrapped by every CallError of KindBudget.
var ErrBudgetExceeded = errors.New("tool call budget exceeded")

// CallError is returned by Gateway.CallTool for any call that did not produce
// a dispatcher result.
type CallError struct {
	Kind     Kind
	Tool     string
	Messages []string      // policy failures, in check order
	Limit    int           // KindBudget only
	Timeout  time.Duration // KindTimeout only
	Err      error
}

func (e *CallError) Error() string {
	switch e.Kind {
	case KindPolicy:
		return "tool call validation failed: " + strings.Join(e.Messages, "; ")
	case KindBudget:
		return fmt.Sprintf("exceeded max tool calls (%d) in plan", e.Limit)
	case KindTimeout:
		return fmt.Sprintf("tool call to '%s' timed out after %s", e.Tool, e.Timeout)
	default:
		return fmt.Sprintf("tool call to '%s' failed: %v", e.Tool, e.Err)
	}
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err if it is a CallError.
func KindOf(err error) (Kind, bool) {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}
