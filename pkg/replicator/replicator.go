package replicator

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fleetctl/fleetd/pkg/errs"
	"github.com/fleetctl/fleetd/pkg/logging"
	"github.com/fleetctl/fleetd/pkg/metrics"
	"github.com/fleetctl/fleetd/pkg/statemachine"
	"github.com/fleetctl/fleetd/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Config holds the configuration needed to bootstrap or join a Raft
// cluster and the listener it shares with the HTTP control API.
type Config struct {
	NodeID   string
	BindAddr string // host:port, shared between Raft and HTTP via cmux
	DataDir  string

	// Listener is the Raft-matched connection stream handed to this
	// replicator by the cmux split in pkg/daemon: connections that match
	// HTTP go to the control API, and every other connection comes here.
	Listener net.Listener
}

// Replicator wraps hashicorp/raft around a StateMachine, exposing the
// subset of Raft operations fleetd's control loops and HTTP API need:
// submitting commands, reading leadership state, and managing cluster
// membership.
type Replicator struct {
	nodeID  string
	dataDir string

	raft *raft.Raft
	fsm  *statemachine.StateMachine
}

// New creates (but does not start) a Replicator bound to a fresh
// StateMachine.
func New(cfg Config) (*Replicator, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &Replicator{
		nodeID:  cfg.NodeID,
		dataDir: cfg.DataDir,
		fsm:     statemachine.New(),
	}, nil
}

// State returns a point-in-time snapshot of cluster state, with the
// current Raft term and leader ID filled in.
func (r *Replicator) State() types.Snapshot {
	snap := r.fsm.State()
	if r.raft != nil {
		_, leaderID := r.raft.LeaderWithID()
		snap.LeaderID = string(leaderID)
		if term, err := strconv.ParseUint(r.raft.Stats()["term"], 10, 64); err == nil {
			snap.Term = term
		}
	}
	return snap
}

func (r *Replicator) newRaft(cfg Config) (*raft.Raft, error) {
	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)

	// Tuned for LAN/edge deployments rather than Raft's WAN-conservative
	// defaults: a 500ms heartbeat, and an election timeout that raft
	// randomizes between ElectionTimeout and twice that (1.5s-3s).
	raftCfg.HeartbeatTimeout = 500 * time.Millisecond
	raftCfg.ElectionTimeout = 1500 * time.Millisecond
	raftCfg.CommitTimeout = 50 * time.Millisecond
	raftCfg.LeaderLeaseTimeout = 250 * time.Millisecond

	transport := raft.NewNetworkTransport(newStreamLayer(cfg.Listener, cfg.BindAddr), 3, 10*time.Second, logWriter{})

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, logWriter{})
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	return raft.NewRaft(raftCfg, r.fsm, logStore, stableStore, snapshotStore, transport)
}

// Bootstrap starts a brand new single-node cluster with this node as the
// sole voter.
func (r *Replicator) Bootstrap(cfg Config) error {
	rft, err := r.newRaft(cfg)
	if err != nil {
		return fmt.Errorf("failed to create raft: %w", err)
	}
	r.raft = rft

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(cfg.NodeID), Address: raft.ServerAddress(cfg.BindAddr)},
		},
	}
	future := r.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}
	return nil
}

// Start brings up the Raft instance for a node that will join an
// existing cluster via AddVoter called by the leader, rather than
// bootstrapping its own single-node configuration.
func (r *Replicator) Start(cfg Config) error {
	rft, err := r.newRaft(cfg)
	if err != nil {
		return fmt.Errorf("failed to create raft: %w", err)
	}
	r.raft = rft
	return nil
}

// AddVoter adds a peer as a full voting member. Only valid on the leader.
func (r *Replicator) AddVoter(nodeID, addr string) error {
	if r.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !r.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", r.LeaderAddr())
	}
	future := r.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}
	return nil
}

// RemoveServer removes a peer from the cluster. Only valid on the leader.
func (r *Replicator) RemoveServer(nodeID string) error {
	if r.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !r.IsLeader() {
		return fmt.Errorf("not the leader")
	}
	future := r.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}
	return nil
}

// IsLeader reports whether this node currently holds Raft leadership.
func (r *Replicator) IsLeader() bool {
	if r.raft == nil {
		return false
	}
	return r.raft.State() == raft.Leader
}

// LeaderAddr returns the bind address of the current leader, if known.
func (r *Replicator) LeaderAddr() string {
	if r.raft == nil {
		return ""
	}
	return string(r.raft.Leader())
}

// Apply submits a command to the Raft log and blocks until it is
// committed and applied to the state machine, returning any error the
// state machine's Apply raised.
func (r *Replicator) Apply(cmd types.Command) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

	if r.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := r.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		if err == raft.ErrNotLeader {
			return &errs.NotLeader{LeaderAddr: r.LeaderAddr()}
		}
		return &errs.Consensus{Op: "apply", Err: err}
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return &errs.Execution{Op: cmd.Op, Err: err}
		}
	}
	return nil
}

// Stats returns a snapshot of Raft's own operational metrics, used by
// the heartbeat loop to populate the Raft gauges.
func (r *Replicator) Stats() map[string]interface{} {
	if r.raft == nil {
		return nil
	}

	stats := map[string]interface{}{
		"state":          r.raft.State().String(),
		"last_log_index": r.raft.LastIndex(),
		"applied_index":  r.raft.AppliedIndex(),
		"leader":         string(r.raft.Leader()),
	}

	if cfgFuture := r.raft.GetConfiguration(); cfgFuture.Error() == nil {
		stats["peers"] = len(cfgFuture.Configuration().Servers)
	} else {
		stats["peers"] = 0
	}
	return stats
}

// Shutdown stops the Raft instance, waiting for it to finish.
func (r *Replicator) Shutdown() error {
	if r.raft == nil {
		return nil
	}
	return r.raft.Shutdown().Error()
}

type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	logging.WithComponent("raft").Debug().Msg(string(p))
	return len(p), nil
}
