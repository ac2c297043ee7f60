package statemachine

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fleetctl/fleetd/pkg/types"
	"github.com/hashicorp/raft"
)

// StateMachine implements raft.FSM over fleetd's cluster state: nodes,
// tasks, attachments and goals, held in memory and replicated via Raft
// log entries of types.Command.
type StateMachine struct {
	mu sync.RWMutex

	nodes       map[string]types.Node
	tasks       map[string]types.Task
	attachments map[string]types.Attachment
	goals       map[string]types.Goal

	leaderID string
	term     uint64
}

// New creates an empty state machine.
func New() *StateMachine {
	return &StateMachine{
		nodes:       make(map[string]types.Node),
		tasks:       make(map[string]types.Task),
		attachments: make(map[string]types.Attachment),
		goals:       make(map[string]types.Goal),
	}
}

// Apply applies a committed Raft log entry. The return value is surfaced
// to the caller of raft.Apply through ApplyFuture.Response(); it is
// either nil (success) or an error.
func (s *StateMachine) Apply(log *raft.Log) interface{} {
	var cmd types.Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd.Op {
	case types.OpRegisterNode:
		var node types.Node
		if err := json.Unmarshal(cmd.Data, &node); err != nil {
			return err
		}
		if node.Health == "" {
			node.Health = types.NodeHealthHealthy
		}
		node.LastHeartbeat = time.Now()
		s.nodes[node.ID] = node
		return nil

	case types.OpUpdateNodeHealth:
		var data types.UpdateNodeHealthData
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return err
		}
		node, ok := s.nodes[data.NodeID]
		if !ok {
			return nil
		}
		node.Health = data.Health
		node.DegradedNote = data.Note
		node.LastHeartbeat = time.Now()
		node.CPUUsage = data.Metrics.CPUUsage
		node.MemoryUsage = data.Metrics.MemoryUsage
		node.DiskUsage = data.Metrics.DiskUsage
		s.nodes[data.NodeID] = node
		return nil

	case types.OpRemoveNode:
		var data types.RemoveNodeData
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return err
		}
		delete(s.nodes, data.NodeID)
		return nil

	case types.OpPutTask:
		var task types.Task
		if err := json.Unmarshal(cmd.Data, &task); err != nil {
			return err
		}
		if existing, ok := s.tasks[task.ID]; ok {
			if types.TaskStatusRank(task.Status) < types.TaskStatusRank(existing.Status) {
				return nil
			}
			task.CreatedAt = existing.CreatedAt
		} else if task.CreatedAt.IsZero() {
			task.CreatedAt = time.Now()
		}
		task.UpdatedAt = time.Now()
		s.tasks[task.ID] = task
		return nil

	case types.OpUpdateTaskStatus:
		var data types.UpdateTaskStatusData
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return err
		}
		task, ok := s.tasks[data.TaskID]
		if !ok {
			return nil
		}
		if types.TaskStatusRank(data.Status) < types.TaskStatusRank(task.Status) {
			return nil
		}
		task.Status = data.Status
		if data.Result != nil {
			task.Result = data.Result
		}
		task.UpdatedAt = time.Now()
		s.tasks[data.TaskID] = task
		return nil

	case types.OpPutAttachment:
		var attachment types.Attachment
		if err := json.Unmarshal(cmd.Data, &attachment); err != nil {
			return err
		}
		if attachment.CreatedAt.IsZero() {
			attachment.CreatedAt = time.Now()
		}
		s.attachments[attachment.ID] = attachment
		return nil

	case types.OpRemoveAttachment:
		var data types.RemoveAttachmentData
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return err
		}
		delete(s.attachments, data.AttachmentID)
		return nil

	case types.OpPutGoal:
		var goal types.Goal
		if err := json.Unmarshal(cmd.Data, &goal); err != nil {
			return err
		}
		if goal.CreatedAt.IsZero() {
			goal.CreatedAt = time.Now()
		}
		s.goals[goal.ID] = goal
		return nil

	case types.OpRemoveGoal:
		var data types.RemoveGoalData
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return err
		}
		delete(s.goals, data.GoalID)
		return nil

	default:
		return fmt.Errorf("unknown command op: %s", cmd.Op)
	}
}

// State returns a point-in-time copy of the cluster state for read paths
// (HTTP API, policy validation, deliberation input). LeaderID/Term are
// filled in by the caller (the replicator), since the FSM itself has no
// view of Raft's leadership state.
func (s *StateMachine) State() types.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := types.Snapshot{
		Nodes:       make([]types.Node, 0, len(s.nodes)),
		Tasks:       make([]types.Task, 0, len(s.tasks)),
		Attachments: make([]types.Attachment, 0, len(s.attachments)),
		Goals:       make([]types.Goal, 0, len(s.goals)),
	}
	for _, n := range s.nodes {
		snap.Nodes = append(snap.Nodes, n)
	}
	for _, t := range s.tasks {
		snap.Tasks = append(snap.Tasks, t)
	}
	for _, a := range s.attachments {
		snap.Attachments = append(snap.Attachments, a)
	}
	for _, g := range s.goals {
		snap.Goals = append(snap.Goals, g)
	}
	return snap
}

// Snapshot creates a point-in-time Raft snapshot for log compaction.
func (s *StateMachine) Snapshot() (raft.FSMSnapshot, error) {
	return &fsmSnapshot{state: s.State()}, nil
}

// Restore replaces the in-memory state wholesale from a previously
// persisted snapshot. Called on startup when Raft has a snapshot newer
// than the local log, and when a follower falls far enough behind that
// the leader ships it a snapshot instead of individual log entries.
func (s *StateMachine) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap types.Snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	nodes := make(map[string]types.Node, len(snap.Nodes))
	for _, n := range snap.Nodes {
		nodes[n.ID] = n
	}
	tasks := make(map[string]types.Task, len(snap.Tasks))
	for _, t := range snap.Tasks {
		tasks[t.ID] = t
	}
	attachments := make(map[string]types.Attachment, len(snap.Attachments))
	for _, a := range snap.Attachments {
		attachments[a.ID] = a
	}
	goals := make(map[string]types.Goal, len(snap.Goals))
	for _, g := range snap.Goals {
		goals[g.ID] = g
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = nodes
	s.tasks = tasks
	s.attachments = attachments
	s.goals = goals
	return nil
}

type fsmSnapshot struct {
	state types.Snapshot
}

func (f *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(f.state); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (f *fsmSnapshot) Release() {}
