package awx

import (
	"context"
	"time"

	"github.com/azimuth-cloud/azimuth-portal/internal/apperrors"
)

// Poll invokes check until it reports done, the attempt budget is exhausted,
// or the context is cancelled. Unbounded polling is a defect: exhaustion
// surfaces as an operation-timed-out error rather than a hang.
func Poll(ctx context.Context, attempts int, interval time.Duration, check func(context.Context) (bool, error)) error {
	for i := 0; i < attempts; i++ {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return apperrors.Wrap(apperrors.KindOperationTimedOut, ctx.Err(), "poll cancelled")
		case <-time.After(interval):
		}
	}
	return apperrors.OperationTimedOut("condition not met after %d attempts", attempts)
}
