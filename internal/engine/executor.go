package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hostplane/provision/internal/action"
	"github.com/hostplane/provision/internal/config"
	"github.com/hostplane/provision/internal/events"
	"github.com/hostplane/provision/internal/model"
	proverrors "github.com/hostplane/provision/pkg/errors"
)

// Execute walks the plan in order, probing then conditionally applying each
// action, and returns the per-action results in plan order.
//
// Actions run sequentially by default. When the catalog raises
// settings.parallel above 1, actions within the same level may run
// concurrently since levels contain only dependency-independent actions.
// A fatal failure halts the remaining plan; actions marked non_fatal record
// their failure and let execution continue.
func Execute(execCtx *ExecutionContext, plan *Plan) ([]model.ActionResult, error) {
	if execCtx == nil {
		return nil, proverrors.NewActionError("", fmt.Errorf("execution context is nil"))
	}
	if execCtx.Catalog == nil {
		return nil, proverrors.NewActionError("", fmt.Errorf("execution context catalog is nil"))
	}
	if plan == nil {
		return nil, proverrors.NewActionError("", fmt.Errorf("execution plan is nil"))
	}
	if execCtx.Registry == nil {
		return nil, proverrors.NewActionError("", fmt.Errorf("execution context registry is nil"))
	}

	baseCtx := execCtx.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	if execCtx.Results == nil {
		execCtx.Results = make(map[string]*model.ActionResult)
	}
	if execCtx.Emitter == nil {
		execCtx.Emitter = events.Discard{}
	}

	specLookup := make(map[string]*config.ActionSpec, len(execCtx.Catalog.Actions))
	for i := range execCtx.Catalog.Actions {
		spec := &execCtx.Catalog.Actions[i]
		specLookup[spec.ID] = spec
	}

	parallel := execCtx.Catalog.Settings.Parallel
	if parallel < 1 {
		parallel = 1
	}

	var allResults []model.ActionResult
	var firstErr error

	for _, level := range plan.Levels {
		var levelResults []model.ActionResult
		var levelErr error

		if parallel == 1 || len(level) == 1 {
			levelResults, levelErr = runLevelSequential(ctx, execCtx, specLookup, level)
		} else {
			levelResults, levelErr = runLevelParallel(ctx, execCtx, specLookup, level, parallel, cancel)
		}

		allResults = append(allResults, levelResults...)

		// Level runners only surface fatal errors; non-fatal failures are
		// recorded in the results and execution continues.
		if levelErr != nil {
			if firstErr == nil {
				firstErr = levelErr
			}
			return allResults, firstErr
		}
	}

	return allResults, firstErr
}

func runLevelSequential(ctx context.Context, execCtx *ExecutionContext, specs map[string]*config.ActionSpec, level []string) ([]model.ActionResult, error) {
	var results []model.ActionResult

	for _, actionID := range level {
		spec, ok := specs[actionID]
		if !ok {
			return results, proverrors.NewActionError(actionID, fmt.Errorf("action not found in catalog"))
		}

		res, err := executeAction(ctx, execCtx, spec)
		if res != nil {
			results = append(results, *res)
			execCtx.Results[spec.ID] = res
		}
		if err != nil && !spec.NonFatal {
			return results, err
		}
		if err != nil {
			execCtx.Logger.WithAction(spec.ID).Warn("action failed but is marked non-fatal, continuing")
		}
	}

	return results, nil
}

func runLevelParallel(ctx context.Context, execCtx *ExecutionContext, specs map[string]*config.ActionSpec, level []string, parallel int, cancel context.CancelFunc) ([]model.ActionResult, error) {
	pool := make(chan struct{}, parallel)
	levelResults := make([]*model.ActionResult, len(level))

	var mu sync.Mutex
	var levelErr error
	var wg sync.WaitGroup

	for idx, actionID := range level {
		spec, ok := specs[actionID]
		if !ok {
			return collectLevel(levelResults), proverrors.NewActionError(actionID, fmt.Errorf("action not found in catalog"))
		}

		wg.Add(1)
		go func(idx int, spec *config.ActionSpec) {
			defer wg.Done()

			select {
			case pool <- struct{}{}:
				defer func() { <-pool }()
			case <-ctx.Done():
				return
			}

			res, err := executeAction(ctx, execCtx, spec)

			mu.Lock()
			defer mu.Unlock()
			if res != nil {
				levelResults[idx] = res
				execCtx.Results[spec.ID] = res
			}
			if err != nil && !spec.NonFatal && levelErr == nil {
				levelErr = err
				cancel()
			}
		}(idx, spec)
	}

	wg.Wait()
	return collectLevel(levelResults), levelErr
}

func collectLevel(results []*model.ActionResult) []model.ActionResult {
	var out []model.ActionResult
	for _, res := range results {
		if res != nil {
			out = append(out, *res)
		}
	}
	return out
}

// executeAction runs the probe/apply cycle for a single action, owning the
// retry loop. The host is re-probed before every attempt so a partially
// successful earlier attempt is not redone from scratch.
func executeAction(ctx context.Context, execCtx *ExecutionContext, spec *config.ActionSpec) (*model.ActionResult, error) {
	if ctx.Err() != nil {
		return nil, proverrors.NewActionError(spec.ID, ctx.Err())
	}

	impl, err := execCtx.Registry.Get(spec.Type)
	if err != nil {
		return nil, err
	}

	req := &action.Request{
		Spec:   spec,
		Facts:  execCtx.Facts,
		Params: execCtx.Params,
	}

	timeout := actionTimeout(execCtx.Catalog, spec)
	attempts := spec.Retry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := time.Duration(spec.Retry.Backoff) * time.Second

	execCtx.Emitter.Emit(events.Event{ActionID: spec.ID, Status: model.StatusRunning})
	start := time.Now()

	var result *model.ActionResult
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && backoff > 0 {
			delay := backoff << (attempt - 2)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			result, lastErr = failure(spec.ID, attempt, start, ctx.Err())
			break
		}

		result, lastErr = attemptAction(ctx, execCtx, impl, req, spec, timeout, attempt, start)
		if lastErr == nil {
			break
		}
		if attempt < attempts {
			execCtx.Logger.WithAction(spec.ID).Warn(fmt.Sprintf("attempt %d/%d failed, retrying", attempt, attempts))
		}
	}

	if result == nil {
		result = &model.ActionResult{ActionID: spec.ID, Status: model.StatusFailed, Attempts: attempts}
	}
	result.Duration = time.Since(start)
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}

	execCtx.Emitter.Emit(events.Event{ActionID: spec.ID, Status: result.Status, Duration: result.Duration})
	return result, lastErr
}

func attemptAction(ctx context.Context, execCtx *ExecutionContext, impl action.Action, req *action.Request, spec *config.ActionSpec, timeout time.Duration, attempt int, start time.Time) (*model.ActionResult, error) {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	probe, probeErr := impl.Probe(attemptCtx, req)
	if probeErr != nil {
		// A failed probe is not fatal: the target state is treated as
		// absent and apply proceeds, per the probe error policy.
		execCtx.Logger.WithAction(spec.ID).Warn(fmt.Sprintf("probe failed, treating state as absent: %v", probeErr))
		probe = &model.ProbeResult{
			ActionID: spec.ID,
			Status:   model.StatusAbsent,
			Message:  fmt.Sprintf("probe failed: %v", probeErr),
		}
	}

	if !probe.RequiresAction() {
		return &model.ActionResult{
			ActionID:  spec.ID,
			Status:    model.StatusSkipped,
			Message:   probe.Message,
			Attempts:  attempt,
			Timestamp: time.Now(),
		}, nil
	}

	if execCtx.DryRun {
		message := probe.Message
		if probe.Diff != "" {
			message = probe.Diff
		}
		return &model.ActionResult{
			ActionID:  spec.ID,
			Status:    model.StatusWouldApply,
			Message:   message,
			Attempts:  attempt,
			Timestamp: time.Now(),
		}, nil
	}

	result, applyErr := impl.Apply(attemptCtx, req, probe)
	if applyErr != nil {
		if errors.Is(applyErr, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			applyErr = fmt.Errorf("timeout exceeded: %w", context.DeadlineExceeded)
		}
		return failure(spec.ID, attempt, start, applyErr)
	}

	if result == nil {
		result = &model.ActionResult{ActionID: spec.ID}
	}
	if result.ActionID == "" {
		result.ActionID = spec.ID
	}
	if result.Status == "" {
		result.Status = model.StatusApplied
	}
	if result.Message == "" {
		result.Message = "applied"
	}
	result.Attempts = attempt
	return result, nil
}

func failure(actionID string, attempt int, start time.Time, err error) (*model.ActionResult, error) {
	return &model.ActionResult{
		ActionID:  actionID,
		Status:    model.StatusFailed,
		Message:   err.Error(),
		Error:     err,
		Attempts:  attempt,
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	}, proverrors.NewActionError(actionID, err)
}

func actionTimeout(catalog *config.Catalog, spec *config.ActionSpec) time.Duration {
	if spec.Timeout > 0 {
		return time.Duration(spec.Timeout) * time.Second
	}
	if catalog.Settings.Timeout > 0 {
		return time.Duration(catalog.Settings.Timeout) * time.Second
	}
	return 0
}
