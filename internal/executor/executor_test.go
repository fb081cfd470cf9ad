package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrun/engine/internal/registry"
	"github.com/sandboxrun/engine/internal/sandbox"
	"github.com/sandboxrun/engine/internal/types"
)

// fakeBackend returns a scripted sequence of outcomes, one per call,
// repeating the last once exhausted.
type fakeBackend struct {
	outcomes []types.RunOutcome
	calls    int
}

func (f *fakeBackend) Run(ctx context.Context, req sandbox.Request) (types.RunOutcome, error) {
	i := f.calls
	if i >= len(f.outcomes) {
		i = len(f.outcomes) - 1
	}
	f.calls++
	return f.outcomes[i], nil
}

func newExecutor(backend sandbox.Backend) *Executor {
	return New(registry.New(), backend, ".", nil)
}

func TestExecuteAcceptedNoCompileStep(t *testing.T) {
	backend := &fakeBackend{outcomes: []types.RunOutcome{
		{Stdout: "hello\n", Termination: types.TerminationExited, ExitCode: 0},
	}}
	e := newExecutor(backend)

	sub := &types.Submission{ID: "a", LanguageKey: "python", SourceCode: "print('hello')"}
	err := e.Execute(context.Background(), sub, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAccepted, sub.Status)
	assert.Equal(t, "hello\n", sub.Stdout)
}

func TestExecuteCompilationError(t *testing.T) {
	backend := &fakeBackend{outcomes: []types.RunOutcome{
		{Stderr: "syntax error", Termination: types.TerminationExited, ExitCode: 1},
	}}
	e := newExecutor(backend)

	sub := &types.Submission{ID: "b", LanguageKey: "cpp", SourceCode: "int main(} {"}
	err := e.Execute(context.Background(), sub, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompilationError, sub.Status)
}

func TestExecuteWrongAnswer(t *testing.T) {
	backend := &fakeBackend{outcomes: []types.RunOutcome{
		{Stdout: "2\n", Termination: types.TerminationExited, ExitCode: 0},
	}}
	e := newExecutor(backend)

	expected := "3\n"
	sub := &types.Submission{ID: "c", LanguageKey: "python", SourceCode: "print(2)", ExpectedOutput: &expected}
	err := e.Execute(context.Background(), sub, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StatusWrongAnswer, sub.Status)
}

func TestExecuteAcceptedIgnoresTrailingWhitespace(t *testing.T) {
	backend := &fakeBackend{outcomes: []types.RunOutcome{
		{Stdout: "3", Termination: types.TerminationExited, ExitCode: 0},
	}}
	e := newExecutor(backend)

	expected := "3\n"
	sub := &types.Submission{ID: "d", LanguageKey: "python", SourceCode: "print(3,end='')", ExpectedOutput: &expected}
	err := e.Execute(context.Background(), sub, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAccepted, sub.Status)
}

func TestExecuteMemoryLimitExceeded(t *testing.T) {
	backend := &fakeBackend{outcomes: []types.RunOutcome{
		{Termination: types.TerminationMemoryLimitExceeded},
	}}
	e := newExecutor(backend)

	sub := &types.Submission{ID: "e", LanguageKey: "python", SourceCode: "x=[0]*10**9"}
	err := e.Execute(context.Background(), sub, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StatusMemoryLimitExceeded, sub.Status)
}

func TestExecuteTimeLimitExceeded(t *testing.T) {
	backend := &fakeBackend{outcomes: []types.RunOutcome{
		{Termination: types.TerminationWallLimitExceeded},
	}}
	e := newExecutor(backend)

	sub := &types.Submission{ID: "f", LanguageKey: "python", SourceCode: "while True: pass"}
	err := e.Execute(context.Background(), sub, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StatusTimeLimitExceeded, sub.Status)
	assert.Equal(t, "Wall time limit exceeded", sub.Message)
}

func TestExecuteCPUTimeLimitExceededHasDistinctMessage(t *testing.T) {
	backend := &fakeBackend{outcomes: []types.RunOutcome{
		{Termination: types.TerminationCPULimitExceeded},
	}}
	e := newExecutor(backend)

	sub := &types.Submission{ID: "f2", LanguageKey: "python", SourceCode: "while True: pass"}
	err := e.Execute(context.Background(), sub, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StatusTimeLimitExceeded, sub.Status)
	assert.Equal(t, "CPU time limit exceeded", sub.Message)
}

// blockingBackend never returns on its own; it only unblocks when the
// request's context is cancelled, simulating a submission killed
// mid-run by Dispatcher.Cancel.
type blockingBackend struct{}

func (blockingBackend) Run(ctx context.Context, req sandbox.Request) (types.RunOutcome, error) {
	<-ctx.Done()
	sig := 9
	return types.RunOutcome{Termination: types.TerminationSignalled, Signal: &sig}, nil
}

func TestExecuteCancelledMidRun(t *testing.T) {
	e := newExecutor(blockingBackend{})

	ctx, cancel := context.WithCancel(context.Background())
	sub := &types.Submission{ID: "i", LanguageKey: "python", SourceCode: "while True: pass"}
	done := make(chan error, 1)
	go func() { done <- e.Execute(ctx, sub, nil) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-done
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, sub.Status)
	assert.Equal(t, "Execution cancelled", sub.Message)
}

func TestExecuteNumberOfRunsAggregatesMax(t *testing.T) {
	backend := &fakeBackend{outcomes: []types.RunOutcome{
		{Stdout: "1\n", Termination: types.TerminationExited, ExitCode: 0, CPUTime: 10 * time.Millisecond, WallTime: 20 * time.Millisecond},
		{Stdout: "2\n", Termination: types.TerminationExited, ExitCode: 0, CPUTime: 50 * time.Millisecond, WallTime: 80 * time.Millisecond},
		{Stdout: "3\n", Termination: types.TerminationExited, ExitCode: 0, CPUTime: 5 * time.Millisecond, WallTime: 9 * time.Millisecond},
	}}
	e := newExecutor(backend)

	sub := &types.Submission{ID: "g", LanguageKey: "python", SourceCode: "print(1)", NumberOfRuns: 3}
	err := e.Execute(context.Background(), sub, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAccepted, sub.Status)
	assert.Equal(t, "3\n", sub.Stdout, "should keep the last run's output")
	assert.InDelta(t, 0.05, sub.Time, 0.001, "should keep the max CPU time across runs")
	assert.InDelta(t, 0.08, sub.WallTime, 0.001, "should keep the max wall time across runs")
}

func TestExecuteStreamsEvents(t *testing.T) {
	backend := &fakeBackend{outcomes: []types.RunOutcome{
		{Stdout: "ok\n", Termination: types.TerminationExited, ExitCode: 0},
	}}
	e := newExecutor(backend)

	events := make(chan types.StreamEvent, 16)
	sub := &types.Submission{ID: "h", LanguageKey: "python", SourceCode: "print('ok')"}
	err := e.Execute(context.Background(), sub, events)
	require.NoError(t, err)
	close(events)

	var types_ []string
	for ev := range events {
		types_ = append(types_, ev.Type)
	}
	assert.Contains(t, types_, "status")
	assert.Contains(t, types_, "stage_start")
	assert.Contains(t, types_, "stage_end")
}
