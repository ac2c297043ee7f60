package types

import (
	"encoding/json"
	"time"
)

// NodeHealth describes the observed health of a cluster member.
type NodeHealth string

const (
	NodeHealthHealthy     NodeHealth = "healthy"
	NodeHealthDegraded    NodeHealth = "degraded"
	NodeHealthUnreachable NodeHealth = "unreachable"
	NodeHealthUnknown     NodeHealth = "unknown"
)

// Node is a cluster member as known to the state machine.
type Node struct {
	ID            string            `json:"id"`
	Hostname      string            `json:"hostname"`
	Tags          []string          `json:"tags,omitempty"`
	Health        NodeHealth        `json:"health"`
	DegradedNote  string            `json:"degraded_note,omitempty"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	CPUUsage      float64           `json:"cpu_usage"`
	MemoryUsage   float64           `json:"memory_usage"`
	DiskUsage     float64           `json:"disk_usage"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NodeMetrics is the subset of Node fields a heartbeat can update.
type NodeMetrics struct {
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsage float64 `json:"memory_usage"`
	DiskUsage   float64 `json:"disk_usage"`
}

// TaskStatus is the lifecycle state of a Task. Ordering matters: it defines
// the monotonic rank enforced by the state machine (pending < scheduled <
// running < terminal).
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskScheduled TaskStatus = "scheduled"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// taskStatusRank gives the monotonic ordering used to reject stale
// UpdateTaskStatus commands replayed out of order (invariant I2).
var taskStatusRank = map[TaskStatus]int{
	TaskPending:   0,
	TaskScheduled: 1,
	TaskRunning:   2,
	TaskCompleted: 3,
	TaskFailed:    3,
	TaskCancelled: 3,
}

// TaskStatusRank returns the monotonic rank of a status, or -1 if unknown.
func TaskStatusRank(s TaskStatus) int {
	if r, ok := taskStatusRank[s]; ok {
		return r
	}
	return -1
}

// TaskPayloadKind identifies which union member TaskPayload carries.
type TaskPayloadKind string

const (
	PayloadEcho            TaskPayloadKind = "echo"
	PayloadSyncDirectory    TaskPayloadKind = "sync_directory"
	PayloadRunCommand       TaskPayloadKind = "run_command"
	PayloadCheckService     TaskPayloadKind = "check_service"
	PayloadRestartService   TaskPayloadKind = "restart_service"
	PayloadContainerRun     TaskPayloadKind = "container_run"
	PayloadCustom           TaskPayloadKind = "custom"
)

// TaskPayload is a tagged union over the task kinds the runner understands.
// Only the fields relevant to Kind are populated; this mirrors the
// original system's Rust enum using a discriminant plus flat fields, which
// is the simplest faithful translation into Go without codegen.
type TaskPayload struct {
	Kind TaskPayloadKind `json:"kind"`

	Message string `json:"message,omitempty"` // echo

	Src string `json:"src,omitempty"` // sync_directory
	Dst string `json:"dst,omitempty"` // sync_directory

	Command string   `json:"command,omitempty"` // run_command (rejected by policy)
	Args    []string `json:"args,omitempty"`    // run_command, container_run

	ServiceName string `json:"service_name,omitempty"` // check_service, restart_service
	CheckURL    string `json:"check_url,omitempty"`    // check_service: probe this URL instead of systemctl

	Image string `json:"image,omitempty"` // container_run

	ToolID     string          `json:"tool_id,omitempty"` // custom (rejected by policy)
	CustomArgs json.RawMessage `json:"custom_args,omitempty"`
}

// Task is a unit of work targeted at a specific node.
type Task struct {
	ID         string          `json:"id"`
	TargetNode string          `json:"target_node"`
	Payload    TaskPayload     `json:"payload"`
	Status     TaskStatus      `json:"status"`
	Priority   uint8           `json:"priority"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// AttachmentKind identifies which union member AttachmentSpec carries.
type AttachmentKind string

const (
	AttachmentDirectory AttachmentKind = "directory"
	AttachmentFile      AttachmentKind = "file"
	AttachmentContainer AttachmentKind = "docker_container"
	AttachmentService   AttachmentKind = "service"
	AttachmentWebhook   AttachmentKind = "webhook"
	AttachmentCustom    AttachmentKind = "custom"
)

// AttachmentSpec is the tagged union describing what an Attachment points
// at, mirrored field-for-field from the prototype's AttachmentKind enum.
type AttachmentSpec struct {
	Kind AttachmentKind `json:"kind"`

	Path string `json:"path,omitempty"` // directory, file

	ContainerID string `json:"container_id,omitempty"` // docker_container

	ServiceName string `json:"service_name,omitempty"` // service
	ServiceUnit string `json:"service_unit,omitempty"` // service

	URL string `json:"url,omitempty"` // webhook

	TypeName   string          `json:"type_name,omitempty"` // custom
	CustomArgs json.RawMessage `json:"custom_args,omitempty"`
}

// Attachment is a capability registered on a node.
type Attachment struct {
	ID           string            `json:"id"`
	NodeID       string            `json:"node_id"`
	Spec         AttachmentSpec    `json:"spec"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Goal is an operator-declared objective the deliberator plans toward.
type Goal struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Constraints []string  `json:"constraints,omitempty"`
	Priority    uint8     `json:"priority"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Snapshot is a read-only view of cluster state, handed to the policy
// validator and the deliberator.
type Snapshot struct {
	Nodes       []Node       `json:"nodes"`
	Tasks       []Task       `json:"tasks"`
	Attachments []Attachment `json:"attachments"`
	Goals       []Goal       `json:"goals"`
	LeaderID    string       `json:"leader_id,omitempty"`
	Term        uint64       `json:"term"`
}

// NodeByID returns the node with the given ID, if present.
func (s *Snapshot) NodeByID(id string) (Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// TaskByID returns the task with the given ID, if present.
func (s *Snapshot) TaskByID(id string) (Task, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// GoalByID returns the goal with the given ID, if present.
func (s *Snapshot) GoalByID(id string) (Goal, bool) {
	for _, g := range s.Goals {
		if g.ID == id {
			return g, true
		}
	}
	return Goal{}, false
}

// AttachmentByID returns the attachment with the given ID, if present.
func (s *Snapshot) AttachmentByID(id string) (Attachment, bool) {
	for _, a := range s.Attachments {
		if a.ID == id {
			return a, true
		}
	}
	return Attachment{}, false
}

// TasksForNode filters tasks targeting the given node.
func (s *Snapshot) TasksForNode(nodeID string) []Task {
	var out []Task
	for _, t := range s.Tasks {
		if t.TargetNode == nodeID {
			out = append(out, t)
		}
	}
	return out
}

// ActionKind identifies which union member Action carries.
type ActionKind string

const (
	ActionScheduleTask         ActionKind = "schedule_task"
	ActionRebalanceTask        ActionKind = "rebalance_task"
	ActionCancelTask           ActionKind = "cancel_task"
	ActionUpdateGoalProgress   ActionKind = "update_goal_progress"
	ActionCreateAttachment     ActionKind = "create_attachment"
	ActionRemoveAttachment     ActionKind = "remove_attachment"
	ActionMarkNodeDegraded     ActionKind = "mark_node_degraded"
	ActionRequestHumanApproval ActionKind = "request_human_approval"
	ActionNoOp                 ActionKind = "no_op"
)

// Action is a proposal emitted by a Planner (the deliberator's strategy),
// tracked by the action tracker and, if it passes policy, carried out by
// the executor.
type Action struct {
	Kind ActionKind `json:"kind"`

	// schedule_task
	Task       *TaskPayload `json:"task,omitempty"`
	TargetNode string       `json:"target_node,omitempty"`
	Priority   uint8        `json:"priority,omitempty"`

	// rebalance_task
	TaskID string `json:"task_id,omitempty"`
	ToNode string `json:"to_node,omitempty"`

	// update_goal_progress
	GoalID           string `json:"goal_id,omitempty"`
	ProgressPercent  uint8  `json:"progress_percent,omitempty"`
	Notes            string `json:"notes,omitempty"`

	// create_attachment
	NodeID       string   `json:"node_id,omitempty"`
	Attachment   *AttachmentSpec `json:"attachment,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`

	// remove_attachment
	AttachmentID string `json:"attachment_id,omitempty"`

	// mark_node_degraded
	Reason string `json:"reason,omitempty"`

	// request_human_approval
	ActionDescription string `json:"action_description,omitempty"`
	Severity          string `json:"severity,omitempty"`
}

// Command is the set of operations the state machine replicates, carried as
// Raft log entries. Op selects which fields are populated, mirroring the
// prototype's ClusterCommand enum.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// NewCommand marshals data and wraps it as a Command for the given op.
func NewCommand(op string, data interface{}) (Command, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Command{}, err
	}
	return Command{Op: op, Data: raw}, nil
}

const (
	OpRegisterNode     = "register_node"
	OpUpdateNodeHealth = "update_node_health"
	OpRemoveNode       = "remove_node"
	OpPutTask          = "put_task"
	OpUpdateTaskStatus = "update_task_status"
	OpPutAttachment    = "put_attachment"
	OpRemoveAttachment = "remove_attachment"
	OpPutGoal          = "put_goal"
	OpRemoveGoal       = "remove_goal"
)

// UpdateNodeHealthData is Command.Data for OpUpdateNodeHealth.
type UpdateNodeHealthData struct {
	NodeID  string      `json:"node_id"`
	Health  NodeHealth  `json:"health"`
	Note    string      `json:"note,omitempty"`
	Metrics NodeMetrics `json:"metrics"`
}

// RemoveNodeData is Command.Data for OpRemoveNode.
type RemoveNodeData struct {
	NodeID string `json:"node_id"`
}

// UpdateTaskStatusData is Command.Data for OpUpdateTaskStatus.
type UpdateTaskStatusData struct {
	TaskID string          `json:"task_id"`
	Status TaskStatus      `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// RemoveAttachmentData is Command.Data for OpRemoveAttachment.
type RemoveAttachmentData struct {
	AttachmentID string `json:"attachment_id"`
}

// RemoveGoalData is Command.Data for OpRemoveGoal.
type RemoveGoalData struct {
	GoalID string `json:"goal_id"`
}
