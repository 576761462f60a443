package harness

import (
	"context"
	"fmt"
	"time"

	"nascert/pkg/logging"
)

// Engine runs cases sequentially against one mounted target.
type Engine struct {
	// Timeout bounds a single case. Zero means no per-case limit.
	Timeout time.Duration
}

// stepLog collects the steps of a single case invocation.
type stepLog struct {
	steps []string
}

func (s *stepLog) Step(format string, args ...interface{}) {
	s.steps = append(s.steps, fmt.Sprintf(format, args...))
}

// Run invokes every eligible case in declaration order and records one
// result per invocation into rec. Cases whose scope or access
// requirements do not match the target are skipped without a result.
// A case that panics or returns an error is recorded as failed and
// execution continues with the next case.
func (e *Engine) Run(ctx context.Context, cases []Case, env Env, rec *Recorder) {
	for _, c := range cases {
		if !c.Eligible(env.Target) {
			logging.Debug("Harness", "Skipping %s: not eligible for %s %s/%s",
				c.Name, env.Target.VersionLabel(), env.Target.MountType, env.Target.HostAccess)
			continue
		}
		if err := ctx.Err(); err != nil {
			rec.Record(Result{
				Name:        c.Name,
				Description: c.Description,
				Passed:      false,
				Message:     fmt.Sprintf("not run: %v", err),
				Timestamp:   time.Now(),
			})
			continue
		}
		rec.Record(e.runOne(ctx, c, env))
	}
}

func (e *Engine) runOne(ctx context.Context, c Case, env Env) (res Result) {
	steps := &stepLog{}
	res = Result{
		Name:        c.Name,
		Description: c.Description,
	}

	defer func() {
		res.Timestamp = time.Now()
		res.Steps = steps.steps
		if r := recover(); r != nil {
			res.Passed = false
			res.Message = fmt.Sprintf("panic: %v", r)
			logging.Error("Harness", nil, "Case %s panicked: %v", c.Name, r)
		}
	}()

	runCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	logging.Debug("Harness", "Running case %s", c.Name)
	msg, err := c.Run(runCtx, env, steps)
	if err != nil {
		res.Passed = false
		res.Message = err.Error()
		logging.Info("Harness", "FAIL %s: %v", c.Name, err)
		return res
	}
	res.Passed = true
	res.Message = msg
	logging.Debug("Harness", "PASS %s", c.Name)
	return res
}
