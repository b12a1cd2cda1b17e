package flow

import (
	"context"

	"github.com/kuitang/flowcheck/internal/obs"
)

// Pacer blocks until the next run may start. *ratelimit.Pacer satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// RunRepeated runs the flow n times in sequence, waiting on pacer before each
// run. It stops early when ctx is done. onResult, if non-nil, sees every result
// as soon as it is produced.
func RunRepeated(ctx context.Context, v *Verifier, n int, pacer Pacer, onResult func(*Result)) []*Result {
	results := make([]*Result, 0, n)
	for attempt := 1; attempt <= n; attempt++ {
		if pacer != nil {
			if err := pacer.Wait(ctx); err != nil {
				obs.From(ctx).Info("repeat_stopped", "pkg", "flow", "attempt", attempt, "error", err)
				break
			}
		}
		res := v.RunAttempt(ctx, attempt)
		results = append(results, res)
		if onResult != nil {
			onResult(res)
		}
	}
	return results
}

// ExitStatus aggregates results: the status of the last failed run, else 0.
// No results at all counts as a browser error.
func ExitStatus(results []*Result) int {
	if len(results) == 0 {
		return OutcomeBrowserError.ExitStatus()
	}
	status := 0
	for _, r := range results {
		if !r.Outcome.Succeeded() {
			status = r.ExitStatus()
		}
	}
	return status
}
