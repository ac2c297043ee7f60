package policy

import (
	"fmt"
	"strings"

	"github.com/fleetctl/fleetd/pkg/types"
)

// ExecutionPolicy bounds what a validated Action is allowed to do:
// which task payloads are permitted, which filesystem paths tasks may
// touch, and how many tasks may be active on a node at once.
type ExecutionPolicy struct {
	AllowRestartServices          bool
	AllowDocker                   bool
	AllowedSyncPaths              []string
	BlockedSyncPaths              []string
	RequireApprovalForDestructive bool
	MaxConcurrentTasksPerNode     int
}

// Default mirrors the conservative out-of-the-box policy: no service
// restarts, no Docker, and the usual system directories blocked from
// sync.
func Default() ExecutionPolicy {
	return ExecutionPolicy{
		AllowRestartServices: false,
		AllowDocker:          false,
		AllowedSyncPaths:     []string{"/home", "/data"},
		BlockedSyncPaths: []string{
			"/etc", "/var", "/usr", "/bin", "/sbin", "/root",
		},
		RequireApprovalForDestructive: true,
		MaxConcurrentTasksPerNode:     5,
	}
}

// Validator checks proposed actions against an ExecutionPolicy and the
// current cluster snapshot before they are allowed onto the Raft log.
type Validator struct {
	policy ExecutionPolicy
}

// New creates a Validator bound to the given policy.
func New(policy ExecutionPolicy) *Validator {
	return &Validator{policy: policy}
}

// Validate returns an error if action should not be carried out against
// snapshot under the validator's policy. A nil return means the action
// is cleared to execute.
func (v *Validator) Validate(action types.Action, snapshot types.Snapshot) error {
	switch action.Kind {
	case types.ActionScheduleTask:
		if err := v.validateNodeExists(action.TargetNode, snapshot); err != nil {
			return err
		}
		if action.Task == nil {
			return fmt.Errorf("schedule_task action missing task payload")
		}
		if err := v.validateTaskPolicy(*action.Task); err != nil {
			return err
		}
		return v.validateTaskLimit(action.TargetNode, snapshot)

	case types.ActionRebalanceTask:
		if err := v.validateNodeExists(action.ToNode, snapshot); err != nil {
			return err
		}
		return v.validateTaskExists(action.TaskID, snapshot)

	case types.ActionCancelTask:
		return v.validateTaskExists(action.TaskID, snapshot)

	case types.ActionMarkNodeDegraded:
		return v.validateNodeExists(action.NodeID, snapshot)

	case types.ActionCreateAttachment:
		if err := v.validateNodeExists(action.NodeID, snapshot); err != nil {
			return err
		}
		if action.Attachment == nil {
			return fmt.Errorf("create_attachment action missing attachment spec")
		}
		return v.validateAttachmentKind(*action.Attachment)

	case types.ActionRemoveAttachment:
		return v.validateAttachmentExists(action.AttachmentID, snapshot)

	case types.ActionUpdateGoalProgress:
		return v.validateGoalExists(action.GoalID, snapshot)

	case types.ActionRequestHumanApproval, types.ActionNoOp:
		return nil

	default:
		return fmt.Errorf("unknown action kind: %s", action.Kind)
	}
}

func (v *Validator) validateNodeExists(nodeID string, snapshot types.Snapshot) error {
	if _, ok := snapshot.NodeByID(nodeID); !ok {
		return fmt.Errorf("node '%s' not found in cluster", nodeID)
	}
	return nil
}

func (v *Validator) validateTaskExists(taskID string, snapshot types.Snapshot) error {
	if _, ok := snapshot.TaskByID(taskID); !ok {
		return fmt.Errorf("task '%s' not found", taskID)
	}
	return nil
}

func (v *Validator) validateGoalExists(goalID string, snapshot types.Snapshot) error {
	if _, ok := snapshot.GoalByID(goalID); !ok {
		return fmt.Errorf("goal '%s' not found", goalID)
	}
	return nil
}

func (v *Validator) validateAttachmentExists(attachmentID string, snapshot types.Snapshot) error {
	if _, ok := snapshot.AttachmentByID(attachmentID); !ok {
		return fmt.Errorf("attachment '%s' not found", attachmentID)
	}
	return nil
}

func (v *Validator) validateTaskPolicy(task types.TaskPayload) error {
	switch task.Kind {
	case types.PayloadEcho, types.PayloadCheckService:
		return nil

	case types.PayloadRestartService:
		if !v.policy.AllowRestartServices {
			return fmt.Errorf("policy: service restart not allowed")
		}
		return nil

	case types.PayloadContainerRun:
		if !v.policy.AllowDocker {
			return fmt.Errorf("policy: container execution not allowed")
		}
		return nil

	case types.PayloadSyncDirectory:
		if err := v.validatePathAllowed(task.Src); err != nil {
			return err
		}
		return v.validatePathAllowed(task.Dst)

	case types.PayloadRunCommand:
		return fmt.Errorf("policy: arbitrary command execution not allowed: %s", task.Command)

	case types.PayloadCustom:
		return fmt.Errorf("policy: custom tool '%s' not pre-approved", task.ToolID)

	default:
		return fmt.Errorf("policy: unknown task payload kind: %s", task.Kind)
	}
}

func (v *Validator) validatePathAllowed(path string) error {
	for _, blocked := range v.policy.BlockedSyncPaths {
		if strings.HasPrefix(path, blocked) {
			return fmt.Errorf("policy: path '%s' is blocked", path)
		}
	}

	allowed := len(v.policy.AllowedSyncPaths) == 0
	for _, p := range v.policy.AllowedSyncPaths {
		if strings.HasPrefix(path, p) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("policy: path '%s' not in allowed paths", path)
	}
	return nil
}

func (v *Validator) validateAttachmentKind(spec types.AttachmentSpec) error {
	switch spec.Kind {
	case types.AttachmentDirectory, types.AttachmentFile:
		return v.validatePathAllowed(spec.Path)

	case types.AttachmentContainer:
		if !v.policy.AllowDocker {
			return fmt.Errorf("policy: Docker attachments not allowed")
		}
		return nil

	case types.AttachmentService, types.AttachmentWebhook, types.AttachmentCustom:
		return nil

	default:
		return fmt.Errorf("policy: unknown attachment kind: %s", spec.Kind)
	}
}

func (v *Validator) validateTaskLimit(nodeID string, snapshot types.Snapshot) error {
	active := 0
	for _, t := range snapshot.TasksForNode(nodeID) {
		if t.Status == types.TaskPending || t.Status == types.TaskRunning {
			active++
		}
	}
	if active >= v.policy.MaxConcurrentTasksPerNode {
		return fmt.Errorf("policy: node '%s' has %d active tasks (max: %d)", nodeID, active, v.policy.MaxConcurrentTasksPerNode)
	}
	return nil
}
