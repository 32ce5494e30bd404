package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hostplane/provision/internal/action"
	"github.com/hostplane/provision/internal/config"
	"github.com/hostplane/provision/internal/events"
	"github.com/hostplane/provision/internal/logger"
	"github.com/hostplane/provision/internal/model"
	proverrors "github.com/hostplane/provision/pkg/errors"
)

// fakeAction records probe and apply invocations and delegates behavior to
// optional hooks, so tests can script per-action outcomes.
type fakeAction struct {
	mu      sync.Mutex
	probes  []string
	applies []string
	counts  map[string]int

	probeFn func(id string, call int) (*model.ProbeResult, error)
	applyFn func(ctx context.Context, id string, call int) (*model.ActionResult, error)
}

func newFakeAction() *fakeAction {
	return &fakeAction{counts: make(map[string]int)}
}

func (f *fakeAction) ActionMetadata() action.Metadata {
	return action.Metadata{Name: "fake", Type: "command", Version: "0.0.0"}
}

func (f *fakeAction) Schema() any { return nil }

func (f *fakeAction) Probe(_ context.Context, req *action.Request) (*model.ProbeResult, error) {
	f.mu.Lock()
	f.probes = append(f.probes, req.Spec.ID)
	f.counts["probe:"+req.Spec.ID]++
	call := f.counts["probe:"+req.Spec.ID]
	fn := f.probeFn
	f.mu.Unlock()

	if fn != nil {
		return fn(req.Spec.ID, call)
	}
	return &model.ProbeResult{ActionID: req.Spec.ID, Status: model.StatusAbsent}, nil
}

func (f *fakeAction) Apply(ctx context.Context, req *action.Request, _ *model.ProbeResult) (*model.ActionResult, error) {
	f.mu.Lock()
	f.applies = append(f.applies, req.Spec.ID)
	f.counts["apply:"+req.Spec.ID]++
	call := f.counts["apply:"+req.Spec.ID]
	fn := f.applyFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, req.Spec.ID, call)
	}
	return &model.ActionResult{ActionID: req.Spec.ID, Status: model.StatusApplied}, nil
}

func (f *fakeAction) applied() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.applies...)
}

func (f *fakeAction) probed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.probes...)
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Options{Level: "error", Writer: io.Discard})
	require.NoError(t, err)
	return log
}

func newExecContext(t *testing.T, catalog *config.Catalog, fake *fakeAction) *ExecutionContext {
	t.Helper()

	registry := action.NewRegistry()
	require.NoError(t, registry.Register("command", fake))

	return &ExecutionContext{
		Catalog:  catalog,
		Params:   map[string]string{},
		Registry: registry,
		Logger:   testLogger(t),
		Results:  make(map[string]*model.ActionResult),
		Context:  context.Background(),
	}
}

func planFor(t *testing.T, catalog *config.Catalog) *Plan {
	t.Helper()
	graph, err := BuildDAG(catalog.Actions)
	require.NoError(t, err)
	plan, err := GeneratePlan(graph, nil)
	require.NoError(t, err)
	return plan
}

func threeStepCatalog() *config.Catalog {
	return &config.Catalog{
		Version: "1.0",
		Name:    "test",
		Actions: []config.ActionSpec{
			commandAction("first"),
			commandAction("second", "first"),
			commandAction("third", "second"),
		},
	}
}

func TestExecute_AppliesInDependencyOrder(t *testing.T) {
	fake := newFakeAction()
	catalog := threeStepCatalog()
	execCtx := newExecContext(t, catalog, fake)

	results, err := Execute(execCtx, planFor(t, catalog))
	require.NoError(t, err)

	require.Len(t, results, 3)
	for _, res := range results {
		require.Equal(t, model.StatusApplied, res.Status)
	}
	require.Equal(t, []string{"first", "second", "third"}, fake.applied())
}

func TestExecute_SkipsWhenStatePresent(t *testing.T) {
	fake := newFakeAction()
	fake.probeFn = func(id string, _ int) (*model.ProbeResult, error) {
		return &model.ProbeResult{ActionID: id, Status: model.StatusPresent, Message: "already installed"}, nil
	}
	catalog := threeStepCatalog()
	execCtx := newExecContext(t, catalog, fake)

	results, err := Execute(execCtx, planFor(t, catalog))
	require.NoError(t, err)

	require.Len(t, results, 3)
	for _, res := range results {
		require.Equal(t, model.StatusSkipped, res.Status)
		require.Equal(t, "already installed", res.Message)
	}
	require.Empty(t, fake.applied())
}

func TestExecute_PartialStateTriggersApply(t *testing.T) {
	fake := newFakeAction()
	fake.probeFn = func(id string, _ int) (*model.ProbeResult, error) {
		return &model.ProbeResult{ActionID: id, Status: model.StatusPartial}, nil
	}
	catalog := &config.Catalog{Actions: []config.ActionSpec{commandAction("drifted")}}
	execCtx := newExecContext(t, catalog, fake)

	results, err := Execute(execCtx, planFor(t, catalog))
	require.NoError(t, err)
	require.Equal(t, model.StatusApplied, results[0].Status)
	require.Equal(t, []string{"drifted"}, fake.applied())
}

func TestExecute_FailFastHaltsRemainingPlan(t *testing.T) {
	fake := newFakeAction()
	fake.applyFn = func(_ context.Context, id string, _ int) (*model.ActionResult, error) {
		if id == "second" {
			return nil, errors.New("apt-get exited 100")
		}
		return &model.ActionResult{ActionID: id, Status: model.StatusApplied}, nil
	}
	catalog := threeStepCatalog()
	execCtx := newExecContext(t, catalog, fake)

	results, err := Execute(execCtx, planFor(t, catalog))

	var actionErr *proverrors.ActionError
	require.ErrorAs(t, err, &actionErr)
	require.Equal(t, "second", actionErr.ActionID)

	require.Len(t, results, 2)
	require.Equal(t, model.StatusApplied, results[0].Status)
	require.Equal(t, model.StatusFailed, results[1].Status)
	require.NotContains(t, fake.probed(), "third")
}

func TestExecute_NonFatalFailureContinues(t *testing.T) {
	fake := newFakeAction()
	fake.applyFn = func(_ context.Context, id string, _ int) (*model.ActionResult, error) {
		if id == "second" {
			return nil, errors.New("unit restart failed")
		}
		return &model.ActionResult{ActionID: id, Status: model.StatusApplied}, nil
	}
	catalog := threeStepCatalog()
	catalog.Actions[1].NonFatal = true
	execCtx := newExecContext(t, catalog, fake)

	results, err := Execute(execCtx, planFor(t, catalog))
	require.NoError(t, err)

	require.Len(t, results, 3)
	require.Equal(t, model.StatusFailed, results[1].Status)
	require.Equal(t, model.StatusApplied, results[2].Status)
	require.Contains(t, fake.applied(), "third")
}

func TestExecute_DryRunNeverApplies(t *testing.T) {
	fake := newFakeAction()
	fake.probeFn = func(id string, _ int) (*model.ProbeResult, error) {
		return &model.ProbeResult{ActionID: id, Status: model.StatusAbsent, Diff: "would install nginx"}, nil
	}
	catalog := threeStepCatalog()
	execCtx := newExecContext(t, catalog, fake)
	execCtx.DryRun = true

	results, err := Execute(execCtx, planFor(t, catalog))
	require.NoError(t, err)

	require.Len(t, results, 3)
	for _, res := range results {
		require.Equal(t, model.StatusWouldApply, res.Status)
		require.Equal(t, "would install nginx", res.Message)
	}
	require.Empty(t, fake.applied())
}

func TestExecute_ProbeErrorTreatedAsAbsent(t *testing.T) {
	fake := newFakeAction()
	fake.probeFn = func(string, int) (*model.ProbeResult, error) {
		return nil, errors.New("dpkg-query not found")
	}
	catalog := &config.Catalog{Actions: []config.ActionSpec{commandAction("blind")}}
	execCtx := newExecContext(t, catalog, fake)

	results, err := Execute(execCtx, planFor(t, catalog))
	require.NoError(t, err)
	require.Equal(t, model.StatusApplied, results[0].Status)
	require.Equal(t, []string{"blind"}, fake.applied())
}

func TestExecute_RetryReprobesBeforeEachAttempt(t *testing.T) {
	fake := newFakeAction()
	fake.applyFn = func(_ context.Context, id string, call int) (*model.ActionResult, error) {
		if call < 3 {
			return nil, fmt.Errorf("transient failure %d", call)
		}
		return &model.ActionResult{ActionID: id, Status: model.StatusApplied}, nil
	}
	catalog := &config.Catalog{Actions: []config.ActionSpec{commandAction("flaky")}}
	catalog.Actions[0].Retry = config.RetrySpec{Attempts: 3}
	execCtx := newExecContext(t, catalog, fake)

	results, err := Execute(execCtx, planFor(t, catalog))
	require.NoError(t, err)

	require.Equal(t, model.StatusApplied, results[0].Status)
	require.Equal(t, 3, results[0].Attempts)
	require.Len(t, fake.probed(), 3)
	require.Len(t, fake.applied(), 3)
}

func TestExecute_RetryExhaustedReportsFailure(t *testing.T) {
	fake := newFakeAction()
	fake.applyFn = func(_ context.Context, _ string, call int) (*model.ActionResult, error) {
		return nil, fmt.Errorf("still broken after %d", call)
	}
	catalog := &config.Catalog{Actions: []config.ActionSpec{commandAction("hopeless")}}
	catalog.Actions[0].Retry = config.RetrySpec{Attempts: 2}
	execCtx := newExecContext(t, catalog, fake)

	results, err := Execute(execCtx, planFor(t, catalog))
	require.Error(t, err)

	require.Equal(t, model.StatusFailed, results[0].Status)
	require.Equal(t, 2, results[0].Attempts)
	require.Len(t, fake.applied(), 2)
}

func TestExecute_RetrySkipsWhenReprobeFindsPresent(t *testing.T) {
	// First apply partially succeeds then errors; the re-probe before the
	// second attempt finds the target state present, so apply is not redone.
	fake := newFakeAction()
	fake.probeFn = func(id string, call int) (*model.ProbeResult, error) {
		if call == 1 {
			return &model.ProbeResult{ActionID: id, Status: model.StatusAbsent}, nil
		}
		return &model.ProbeResult{ActionID: id, Status: model.StatusPresent}, nil
	}
	fake.applyFn = func(_ context.Context, _ string, _ int) (*model.ActionResult, error) {
		return nil, errors.New("connection reset mid-install")
	}
	catalog := &config.Catalog{Actions: []config.ActionSpec{commandAction("interrupted")}}
	catalog.Actions[0].Retry = config.RetrySpec{Attempts: 2}
	execCtx := newExecContext(t, catalog, fake)

	results, err := Execute(execCtx, planFor(t, catalog))
	require.NoError(t, err)

	require.Equal(t, model.StatusSkipped, results[0].Status)
	require.Len(t, fake.applied(), 1)
}

func TestExecute_TimeoutFailsAction(t *testing.T) {
	fake := newFakeAction()
	fake.applyFn = func(ctx context.Context, _ string, _ int) (*model.ActionResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	catalog := &config.Catalog{Actions: []config.ActionSpec{commandAction("slow")}}
	catalog.Actions[0].Timeout = 1
	execCtx := newExecContext(t, catalog, fake)

	results, err := Execute(execCtx, planFor(t, catalog))
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Equal(t, model.StatusFailed, results[0].Status)
	require.Contains(t, results[0].Message, "timeout exceeded")
}

func TestExecute_CanceledContextStopsRun(t *testing.T) {
	fake := newFakeAction()
	catalog := threeStepCatalog()
	execCtx := newExecContext(t, catalog, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	execCtx.Context = ctx

	_, err := Execute(execCtx, planFor(t, catalog))
	require.Error(t, err)
	require.Empty(t, fake.applied())
}

func TestExecute_ParallelLevelRunsAllActions(t *testing.T) {
	fake := newFakeAction()
	catalog := &config.Catalog{
		Settings: config.Settings{Parallel: 2},
		Actions: []config.ActionSpec{
			commandAction("alpha"),
			commandAction("beta"),
			commandAction("gamma"),
		},
	}
	execCtx := newExecContext(t, catalog, fake)

	results, err := Execute(execCtx, planFor(t, catalog))
	require.NoError(t, err)

	require.Len(t, results, 3)
	require.ElementsMatch(t, []string{"alpha", "beta", "gamma"}, fake.applied())
}

func TestExecute_UnknownActionTypeFails(t *testing.T) {
	catalog := &config.Catalog{Actions: []config.ActionSpec{commandAction("orphan")}}
	execCtx := newExecContext(t, catalog, newFakeAction())
	execCtx.Registry = action.NewRegistry()

	_, err := Execute(execCtx, planFor(t, catalog))

	var regErr *proverrors.RegistryError
	require.ErrorAs(t, err, &regErr)
}

func TestExecute_EmitsRunningAndTerminalEvents(t *testing.T) {
	fake := newFakeAction()
	catalog := &config.Catalog{Actions: []config.ActionSpec{commandAction("observed")}}
	execCtx := newExecContext(t, catalog, fake)

	emitter := events.NewLineEmitter(io.Discard, execCtx.Logger, "run-1")
	execCtx.Emitter = emitter

	_, err := Execute(execCtx, planFor(t, catalog))
	require.NoError(t, err)

	emitted := emitter.Events()
	require.Len(t, emitted, 2)
	require.Equal(t, model.StatusRunning, emitted[0].Status)
	require.Equal(t, model.StatusApplied, emitted[1].Status)
	require.Equal(t, "observed", emitted[1].ActionID)
	require.GreaterOrEqual(t, emitted[1].Duration, time.Duration(0))
}

func TestExecute_SecondRunIsAllSkips(t *testing.T) {
	applied := map[string]bool{}
	var mu sync.Mutex

	fake := newFakeAction()
	fake.probeFn = func(id string, _ int) (*model.ProbeResult, error) {
		mu.Lock()
		defer mu.Unlock()
		status := model.StatusAbsent
		if applied[id] {
			status = model.StatusPresent
		}
		return &model.ProbeResult{ActionID: id, Status: status}, nil
	}
	fake.applyFn = func(_ context.Context, id string, _ int) (*model.ActionResult, error) {
		mu.Lock()
		applied[id] = true
		mu.Unlock()
		return &model.ActionResult{ActionID: id, Status: model.StatusApplied}, nil
	}

	catalog := threeStepCatalog()
	execCtx := newExecContext(t, catalog, fake)
	plan := planFor(t, catalog)

	first, err := Execute(execCtx, plan)
	require.NoError(t, err)
	for _, res := range first {
		require.Equal(t, model.StatusApplied, res.Status)
	}

	execCtx.Results = make(map[string]*model.ActionResult)
	second, err := Execute(execCtx, plan)
	require.NoError(t, err)
	for _, res := range second {
		require.Equal(t, model.StatusSkipped, res.Status)
	}
}
