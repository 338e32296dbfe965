// Package errors classifies errors into short, stable names for metric tags.
package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strings"

	"github.com/target/mmk-jobqueue/internal/core"
)

// known maps sentinel errors to their tag value. Checked in order with errors.Is.
var known = []struct {
	err   error
	class string
}{
	{context.Canceled, "canceled"},
	{context.DeadlineExceeded, "timeout"},
	{core.ErrJobNotFound, "job_not_found"},
	{core.ErrJobNotRunning, "job_not_running"},
	{core.ErrRetryBudgetExhausted, "retry_budget_exhausted"},
	{core.ErrDuplicateIdempotencyKey, "duplicate_idempotency_key"},
}

// Classify returns a normalized error name suitable for tagging metrics and logs.
// Known sentinels map to fixed names; anything else is named after its innermost concrete type.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range known {
		if goerrors.Is(err, k.err) {
			return k.class
		}
	}

	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), ".", "_"))
	if name == "" {
		return "unknown"
	}
	return name
}
