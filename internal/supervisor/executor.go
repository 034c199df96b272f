package supervisor

import (
	"context"
	"fmt"
	"time"
)

// Executor is the execution collaborator: it accepts a task and
// eventually reports completion or failure with a result payload. The
// real system hands tasks to model-backed workers; the default here
// simulates that with a timer.
type Executor interface {
	Run(ctx context.Context, task Task, delay time.Duration, report func(result map[string]interface{}, err error))
}

// SimulatedExecutor completes every task after the given delay with a
// canned result.
type SimulatedExecutor struct{}

// Run schedules the canned completion. A cancelled context fails the
// task instead.
func (SimulatedExecutor) Run(ctx context.Context, task Task, delay time.Duration, report func(result map[string]interface{}, err error)) {
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			report(nil, ctx.Err())
		case <-timer.C:
			report(map[string]interface{}{
				"summary":    fmt.Sprintf("%s completed by %s agent", task.Description, task.AgentRole),
				"data":       map[string]interface{}{},
				"confidence": 0.85,
			}, nil)
		}
	}()
}
