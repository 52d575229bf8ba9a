package playback

import (
	"context"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"playsync/internal/core"
)

// deviceRetry retries a remote call exactly once, after delay, when it failed
// because the device was not registered yet.
type deviceRetry struct {
	policy retrypolicy.RetryPolicy[any]
}

func newDeviceRetry(delay time.Duration) *deviceRetry {
	policy := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return core.StatusCode(err) == http.StatusNotFound
		}).
		WithMaxRetries(1).
		WithDelay(delay).
		ReturnLastFailure().
		Build()

	return &deviceRetry{policy: policy}
}

func (r *deviceRetry) run(ctx context.Context, fn func() error) error {
	return failsafe.With[any](r.policy).WithContext(ctx).Run(fn)
}
