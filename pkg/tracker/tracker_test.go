package tracker

import (
	"testing"

	"github.com/fleetctl/fleetd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackActionStartsProposed(t *testing.T) {
	tr := New()
	id := tr.TrackAction(types.Action{Kind: types.ActionNoOp})
	require.NotEmpty(t, id)

	pending := tr.PendingActions()
	require.Len(t, pending, 1)
	assert.Equal(t, ActionProposed, pending[0].Status)
}

func TestMarkCompletedMovesToHistory(t *testing.T) {
	tr := New()
	id := tr.TrackAction(types.Action{Kind: types.ActionNoOp})
	tr.MarkExecuting(id)
	tr.MarkCompleted(id, "done")

	assert.Empty(t, tr.PendingActions())
	recent := tr.RecentActions(10)
	require.Len(t, recent, 1)
	assert.Equal(t, ActionCompleted, recent[0].Status)
	require.NotNil(t, recent[0].Result)
	assert.True(t, recent[0].Result.Success)
}

func TestMarkFailedRetriesBeforeGivingUp(t *testing.T) {
	tr := New()
	id := tr.TrackAction(types.Action{Kind: types.ActionNoOp})

	assert.True(t, tr.MarkFailed(id, "boom"))
	assert.True(t, tr.MarkFailed(id, "boom"))
	assert.False(t, tr.MarkFailed(id, "boom"), "third failure should exhaust retries")

	failures := tr.RecentFailures(10)
	require.Len(t, failures, 1)
	assert.Equal(t, 3, failures[0].RetryCount)
}

func TestUpdateGoalProgressComputesPercent(t *testing.T) {
	tr := New()
	tr.UpdateGoalProgress("g1", true, "first pass")
	tr.UpdateGoalProgress("g1", false, "")
	tr.UpdateGoalProgress("g1", true, "")

	progress, ok := tr.GoalProgress("g1")
	require.True(t, ok)
	assert.Equal(t, 3, progress.ActionsProposed)
	assert.Equal(t, 2, progress.ActionsCompleted)
	assert.Equal(t, 1, progress.ActionsFailed)
	assert.Equal(t, uint8(66), progress.EstimatedProgress)
}

func TestHasSimilarPendingDetectsDuplicateScheduleTask(t *testing.T) {
	tr := New()
	task := &types.TaskPayload{Kind: types.PayloadEcho}
	tr.TrackAction(types.Action{Kind: types.ActionScheduleTask, TargetNode: "n1", Task: task})

	dup := types.Action{Kind: types.ActionScheduleTask, TargetNode: "n1", Task: task}
	assert.True(t, tr.HasSimilarPending(dup))

	other := types.Action{Kind: types.ActionScheduleTask, TargetNode: "n2", Task: task}
	assert.False(t, tr.HasSimilarPending(other))
}

func TestStatsReflectsLiveAndHistoricalCounts(t *testing.T) {
	tr := New()
	id1 := tr.TrackAction(types.Action{Kind: types.ActionNoOp})
	tr.MarkExecuting(id1)

	id2 := tr.TrackAction(types.Action{Kind: types.ActionNoOp})
	tr.MarkCompleted(id2, "ok")

	stats := tr.Stats()
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 1, stats.Executing)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.HistorySize)
}
