package cancel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCancelRunPropagatesToModelTokens(t *testing.T) {
	r := NewRegistry()

	runCtx := r.NewRunToken(context.Background(), "run1")
	modelA := r.NewModelToken(runCtx, "run1", "modelA")
	modelB := r.NewModelToken(runCtx, "run1", "modelB")

	require.True(t, r.CancelRun("run1"))

	require.Error(t, runCtx.Err())
	require.Error(t, modelA.Err())
	require.Error(t, modelB.Err())
	require.True(t, r.RunCancelled("run1"))
	require.True(t, r.ModelCancelled("run1", "modelA"))
	require.True(t, r.ModelCancelled("run1", "modelB"))
}

func TestCancelModelLeavesSiblingsAlone(t *testing.T) {
	r := NewRegistry()

	runCtx := r.NewRunToken(context.Background(), "run1")
	modelA := r.NewModelToken(runCtx, "run1", "modelA")
	modelB := r.NewModelToken(runCtx, "run1", "modelB")

	require.True(t, r.CancelModel("run1", "modelA"))

	require.Error(t, modelA.Err())
	require.NoError(t, modelB.Err())
	require.NoError(t, runCtx.Err())
	require.True(t, r.ModelCancelled("run1", "modelA"))
	require.False(t, r.ModelCancelled("run1", "modelB"))
	require.False(t, r.RunCancelled("run1"))
}

func TestCancelUnknownRun(t *testing.T) {
	r := NewRegistry()

	require.False(t, r.CancelRun("ghost"))
	require.False(t, r.CancelModel("ghost", "model"))
	require.False(t, r.RunCancelled("ghost"))
	require.False(t, r.ModelCancelled("ghost", "model"))
}

func TestRunsAreIndependent(t *testing.T) {
	r := NewRegistry()

	run1 := r.NewRunToken(context.Background(), "run1")
	run2 := r.NewRunToken(context.Background(), "run2")
	m1 := r.NewModelToken(run1, "run1", "model")
	m2 := r.NewModelToken(run2, "run2", "model")

	require.True(t, r.CancelRun("run1"))

	require.Error(t, m1.Err())
	require.NoError(t, run2.Err())
	require.NoError(t, m2.Err())
}

func TestCleanupRemovesAllRunEntries(t *testing.T) {
	r := NewRegistry()

	runCtx := r.NewRunToken(context.Background(), "run1")
	r.NewModelToken(runCtx, "run1", "modelA")
	r.NewModelToken(runCtx, "run1", "modelB")

	require.True(t, r.HasRun("run1"))

	r.Cleanup("run1")

	require.False(t, r.HasRun("run1"))
	require.False(t, r.CancelRun("run1"))
	require.False(t, r.CancelModel("run1", "modelA"))
	require.False(t, r.ModelCancelled("run1", "modelB"))
}
