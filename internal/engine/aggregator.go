package engine

import "strings"

// Result is the outcome of one or more checks. It passes iff it carries no
// failure messages.
type Result struct {
	Errors []string
}

// OK reports whether every constituent check passed.
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// Summary joins the failure messages the way they are surfaced to plans.
func (r Result) Summary() string {
	return strings.Join(r.Errors, "; ")
}

// Add records err as a failure, with an optional prefix. Nil errors are ignored.
func (r *Result) Add(prefix string, err error) {
	if err == nil {
		return
	}
	r.Errors = append(r.Errors, prefix+err.Error())
}

// Aggregate concatenates results in order. The aggregate passes iff all inputs pass.
func Aggregate(results ...Result) Result {
	var out Result
	for _, r := range results {
		out.Errors = append(out.Errors, r.Errors...)
	}
	return out
}
