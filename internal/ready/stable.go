package ready

import (
	"context"
	"fmt"
	"time"

	"github.com/telemetrylab/convoy/internal/service"
)

// DefaultHold is how long a unit must stay alive for a Stable check when the
// spec doesn't say otherwise.
const DefaultHold = 500 * time.Millisecond

// Stable checks readiness by confirming the unit is still running after a
// hold period. It covers services with no probeable endpoint (one-way
// feeders, bridges) where "didn't crash right away" is the only readiness
// signal the deployment has.
type Stable struct {
	Runtime service.Runtime
	Hold    time.Duration
}

func (c *Stable) Check(ctx context.Context) error {
	hold := c.Hold
	if hold <= 0 {
		hold = DefaultHold
	}

	alive, err := c.Runtime.Alive(ctx)
	if err != nil {
		return fmt.Errorf("liveness: %w", err)
	}
	if !alive {
		return fmt.Errorf("unit %s is not running", c.Runtime.Ref())
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(hold):
	}

	alive, err = c.Runtime.Alive(ctx)
	if err != nil {
		return fmt.Errorf("liveness: %w", err)
	}
	if !alive {
		return fmt.Errorf("unit %s exited within %s of starting", c.Runtime.Ref(), hold)
	}
	return nil
}
