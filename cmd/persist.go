package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentic-research/flowgraph/api"
	"github.com/agentic-research/flowgraph/internal/facts"
)

// errSource reports a latched failure, such as a cache refill that came back
// short.
type errSource interface {
	Err() error
}

// checkCache refuses to persist anything derived from an incomplete cache.
func checkCache(c errSource, what string) error {
	if err := c.Err(); err != nil {
		return fmt.Errorf("not storing %s: %w", what, err)
	}
	return nil
}

// interrupted reports whether err only says the run was stopped early.
func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// persistFlows writes the flows of a run. Partial results of an interrupted
// run are kept; results of a run that failed any other way are not.
func persistFlows(ctx context.Context, store *facts.Store, c errSource, flows []api.ResolvedFlow, runErr error) (int, error) {
	if err := checkCache(c, "flows"); err != nil {
		return 0, err
	}
	if runErr != nil && !interrupted(runErr) {
		return 0, fmt.Errorf("not storing flows: %w", runErr)
	}
	// The run context may already be cancelled.
	return store.WriteFlows(context.WithoutCancel(ctx), flows)
}
