package policy

import (
	"testing"

	"github.com/fleetctl/fleetd/pkg/types"
	"github.com/stretchr/testify/assert"
)

func snapshotWithNode(id string) types.Snapshot {
	return types.Snapshot{Nodes: []types.Node{{ID: id}}}
}

func TestValidateScheduleTaskUnknownNode(t *testing.T) {
	v := New(Default())
	action := types.Action{
		Kind:       types.ActionScheduleTask,
		TargetNode: "ghost",
		Task:       &types.TaskPayload{Kind: types.PayloadEcho},
	}
	err := v.Validate(action, types.Snapshot{})
	assert.Error(t, err)
}

func TestValidateScheduleTaskEchoAllowed(t *testing.T) {
	v := New(Default())
	action := types.Action{
		Kind:       types.ActionScheduleTask,
		TargetNode: "n1",
		Task:       &types.TaskPayload{Kind: types.PayloadEcho},
	}
	assert.NoError(t, v.Validate(action, snapshotWithNode("n1")))
}

func TestValidateRestartServiceBlockedByDefault(t *testing.T) {
	v := New(Default())
	action := types.Action{
		Kind:       types.ActionScheduleTask,
		TargetNode: "n1",
		Task:       &types.TaskPayload{Kind: types.PayloadRestartService, ServiceName: "nginx"},
	}
	assert.Error(t, v.Validate(action, snapshotWithNode("n1")))
}

func TestValidateRestartServiceAllowedWhenPolicyOptsIn(t *testing.T) {
	p := Default()
	p.AllowRestartServices = true
	v := New(p)
	action := types.Action{
		Kind:       types.ActionScheduleTask,
		TargetNode: "n1",
		Task:       &types.TaskPayload{Kind: types.PayloadRestartService, ServiceName: "nginx"},
	}
	assert.NoError(t, v.Validate(action, snapshotWithNode("n1")))
}

func TestValidateRunCommandAlwaysRejected(t *testing.T) {
	v := New(Default())
	action := types.Action{
		Kind:       types.ActionScheduleTask,
		TargetNode: "n1",
		Task:       &types.TaskPayload{Kind: types.PayloadRunCommand, Command: "rm -rf /"},
	}
	assert.Error(t, v.Validate(action, snapshotWithNode("n1")))
}

func TestValidateSyncDirectoryPathPolicy(t *testing.T) {
	v := New(Default())

	blocked := types.Action{
		Kind:       types.ActionScheduleTask,
		TargetNode: "n1",
		Task:       &types.TaskPayload{Kind: types.PayloadSyncDirectory, Src: "/home/alice", Dst: "/etc/passwd"},
	}
	assert.Error(t, v.Validate(blocked, snapshotWithNode("n1")))

	notAllowlisted := types.Action{
		Kind:       types.ActionScheduleTask,
		TargetNode: "n1",
		Task:       &types.TaskPayload{Kind: types.PayloadSyncDirectory, Src: "/home/alice", Dst: "/opt/app"},
	}
	assert.Error(t, v.Validate(notAllowlisted, snapshotWithNode("n1")))

	allowed := types.Action{
		Kind:       types.ActionScheduleTask,
		TargetNode: "n1",
		Task:       &types.TaskPayload{Kind: types.PayloadSyncDirectory, Src: "/home/alice", Dst: "/data/backups"},
	}
	assert.NoError(t, v.Validate(allowed, snapshotWithNode("n1")))
}

func TestValidateTaskLimitEnforced(t *testing.T) {
	p := Default()
	p.MaxConcurrentTasksPerNode = 1
	v := New(p)

	snap := snapshotWithNode("n1")
	snap.Tasks = []types.Task{{ID: "t1", TargetNode: "n1", Status: types.TaskRunning}}

	action := types.Action{
		Kind:       types.ActionScheduleTask,
		TargetNode: "n1",
		Task:       &types.TaskPayload{Kind: types.PayloadEcho},
	}
	assert.Error(t, v.Validate(action, snap))
}

func TestValidateCancelTaskRequiresExistingTask(t *testing.T) {
	v := New(Default())
	action := types.Action{Kind: types.ActionCancelTask, TaskID: "missing"}
	assert.Error(t, v.Validate(action, types.Snapshot{}))
}

func TestValidateNoOpAndApprovalAlwaysPass(t *testing.T) {
	v := New(Default())
	assert.NoError(t, v.Validate(types.Action{Kind: types.ActionNoOp}, types.Snapshot{}))
	assert.NoError(t, v.Validate(types.Action{Kind: types.ActionRequestHumanApproval}, types.Snapshot{}))
}

func TestValidateCreateAttachmentDockerPolicy(t *testing.T) {
	v := New(Default())
	action := types.Action{
		Kind:       types.ActionCreateAttachment,
		NodeID:     "n1",
		Attachment: &types.AttachmentSpec{Kind: types.AttachmentContainer, ContainerID: "abc"},
	}
	assert.Error(t, v.Validate(action, snapshotWithNode("n1")))
}
