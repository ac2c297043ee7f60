package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetctl/fleetd/pkg/errs"
	"github.com/fleetctl/fleetd/pkg/logging"
	"github.com/fleetctl/fleetd/pkg/policy"
	"github.com/fleetctl/fleetd/pkg/runner"
	"github.com/fleetctl/fleetd/pkg/types"
	"github.com/google/uuid"
)

// Applier is the subset of the replicator the executor needs: submit a
// command and read the current state. Kept as an interface so the
// executor can be tested against a fake without standing up Raft.
type Applier interface {
	Apply(cmd types.Command) error
	State() types.Snapshot
}

// Executor validates proposed Actions against policy and, once
// cleared, turns them into Raft commands; it also runs Tasks already
// targeted at this node and reports their outcome back through the
// replicator.
type Executor struct {
	nodeID    string
	applier   Applier
	validator *policy.Validator
	runner    *runner.Runner
}

// New creates an Executor for nodeID.
func New(nodeID string, applier Applier, validator *policy.Validator, taskRunner *runner.Runner) *Executor {
	return &Executor{nodeID: nodeID, applier: applier, validator: validator, runner: taskRunner}
}

// Execute validates action against the current snapshot and, if it
// passes, carries it out: scheduling/cancelling/rebalancing tasks,
// creating/removing attachments, marking nodes degraded, or just
// logging for NoOp/RequestHumanApproval.
func (e *Executor) Execute(action types.Action) error {
	snapshot := e.applier.State()
	if err := e.validator.Validate(action, snapshot); err != nil {
		return &errs.Validation{Reason: err.Error()}
	}

	log := logging.WithComponent("executor")

	switch action.Kind {
	case types.ActionScheduleTask:
		task := types.Task{
			ID:         uuid.NewString(),
			TargetNode: action.TargetNode,
			Payload:    *action.Task,
			Status:     types.TaskPending,
			Priority:   action.Priority,
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		}
		cmd, err := types.NewCommand(types.OpPutTask, task)
		if err != nil {
			return err
		}
		return e.applier.Apply(cmd)

	case types.ActionCancelTask:
		cmd, err := types.NewCommand(types.OpUpdateTaskStatus, types.UpdateTaskStatusData{
			TaskID: action.TaskID,
			Status: types.TaskCancelled,
		})
		if err != nil {
			return err
		}
		return e.applier.Apply(cmd)

	case types.ActionRebalanceTask:
		task, ok := snapshot.TaskByID(action.TaskID)
		if !ok {
			return fmt.Errorf("task %s not found", action.TaskID)
		}
		task.TargetNode = action.ToNode
		task.Status = types.TaskPending
		task.UpdatedAt = time.Now()
		cmd, err := types.NewCommand(types.OpPutTask, task)
		if err != nil {
			return err
		}
		return e.applier.Apply(cmd)

	case types.ActionMarkNodeDegraded:
		node, ok := snapshot.NodeByID(action.NodeID)
		if !ok {
			return fmt.Errorf("node %s not found", action.NodeID)
		}
		cmd, err := types.NewCommand(types.OpUpdateNodeHealth, types.UpdateNodeHealthData{
			NodeID: action.NodeID,
			Health: types.NodeHealthDegraded,
			Note:   action.Reason,
			Metrics: types.NodeMetrics{
				CPUUsage:    node.CPUUsage,
				MemoryUsage: node.MemoryUsage,
				DiskUsage:   node.DiskUsage,
			},
		})
		if err != nil {
			return err
		}
		return e.applier.Apply(cmd)

	case types.ActionCreateAttachment:
		if action.Attachment == nil {
			return fmt.Errorf("create_attachment action missing attachment spec")
		}
		attachment := types.Attachment{
			ID:           uuid.NewString(),
			NodeID:       action.NodeID,
			Spec:         *action.Attachment,
			Capabilities: action.Capabilities,
			CreatedAt:    time.Now(),
		}
		cmd, err := types.NewCommand(types.OpPutAttachment, attachment)
		if err != nil {
			return err
		}
		return e.applier.Apply(cmd)

	case types.ActionRemoveAttachment:
		cmd, err := types.NewCommand(types.OpRemoveAttachment, types.RemoveAttachmentData{
			AttachmentID: action.AttachmentID,
		})
		if err != nil {
			return err
		}
		return e.applier.Apply(cmd)

	case types.ActionUpdateGoalProgress:
		log.Info().Str("goal_id", action.GoalID).Msg("goal progress updated")
		return nil

	case types.ActionRequestHumanApproval:
		log.Warn().Str("severity", action.Severity).Str("description", action.ActionDescription).Msg("human approval required")
		return nil

	case types.ActionNoOp:
		log.Debug().Str("reason", action.Reason).Msg("no-op")
		return nil

	default:
		return fmt.Errorf("unknown action kind: %s", action.Kind)
	}
}

// RunTask executes a task already targeted at this node, transitioning
// it through Running to a terminal status and recording the result.
func (e *Executor) RunTask(ctx context.Context, task types.Task) error {
	if task.TargetNode != e.nodeID {
		return fmt.Errorf("task %s targeted at %s, but this is node %s", task.ID, task.TargetNode, e.nodeID)
	}

	runningCmd, err := types.NewCommand(types.OpUpdateTaskStatus, types.UpdateTaskStatusData{
		TaskID: task.ID,
		Status: types.TaskRunning,
	})
	if err != nil {
		return err
	}
	if err := e.applier.Apply(runningCmd); err != nil {
		return err
	}

	result, runErr := e.runner.Run(ctx, task.Payload)

	status := types.TaskCompleted
	if runErr != nil {
		status = types.TaskFailed
	}

	doneCmd, err := types.NewCommand(types.OpUpdateTaskStatus, types.UpdateTaskStatusData{
		TaskID: task.ID,
		Status: status,
		Result: result,
	})
	if err != nil {
		return err
	}
	if applyErr := e.applier.Apply(doneCmd); applyErr != nil {
		return applyErr
	}
	return runErr
}
