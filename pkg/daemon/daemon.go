package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/fleetctl/fleetd/pkg/config"
	"github.com/fleetctl/fleetd/pkg/deliberator"
	"github.com/fleetctl/fleetd/pkg/errs"
	"github.com/fleetctl/fleetd/pkg/executor"
	"github.com/fleetctl/fleetd/pkg/logging"
	"github.com/fleetctl/fleetd/pkg/manager"
	"github.com/fleetctl/fleetd/pkg/metrics"
	"github.com/fleetctl/fleetd/pkg/policy"
	"github.com/fleetctl/fleetd/pkg/replicator"
	"github.com/fleetctl/fleetd/pkg/runner"
	"github.com/fleetctl/fleetd/pkg/runtime"
	"github.com/fleetctl/fleetd/pkg/security"
	"github.com/fleetctl/fleetd/pkg/tracker"
	"github.com/fleetctl/fleetd/pkg/types"
	"github.com/soheilhy/cmux"
)

var log = logging.WithComponent("daemon")

// Daemon is the composition root for one fleetd node: it owns the
// shared listener split between Raft and the HTTP control API, the
// replicator, the executor, the planner, and the background loops
// that drive them.
type Daemon struct {
	cfg config.NodeConfig

	nodeID    string
	clusterID string
	hostname  string

	replicator *replicator.Replicator
	executor   *executor.Executor
	planner    deliberator.Planner
	tracker    *tracker.Tracker
	ca         *security.CertAuthority
	tokens     *manager.TokenManager

	mux    cmux.CMux
	rootLn net.Listener
	ln     net.Listener
	raftLn net.Listener

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// New assembles a Daemon from configuration but does not start any
// network listeners or background loops.
func New(cfg config.NodeConfig) (*Daemon, error) {
	nodeID := cfg.EffectiveNodeID()
	hostname := cfg.EffectiveHostname()

	log.Info().Str("node_id", nodeID).Str("hostname", hostname).Msg("initializing daemon")

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, &errs.Fatal{Err: fmt.Errorf("failed to create data directory: %w", err)}
	}

	ca := security.NewCertAuthority()
	if err := ca.LoadFromDir(cfg.DataDir); err != nil {
		if err := ca.Initialize(); err != nil {
			return nil, &errs.Fatal{Err: fmt.Errorf("failed to initialize cluster CA: %w", err)}
		}
		if err := ca.SaveToDir(cfg.DataDir); err != nil {
			return nil, &errs.Fatal{Err: fmt.Errorf("failed to persist cluster CA: %w", err)}
		}
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", cfg.ListenAddr(), err)
	}

	mux := cmux.New(ln)
	// Raft's network transport writes a single magic byte prefix
	// (rpcRequest/rpcResponse et al, all > 0) before the length-prefixed
	// payload; HTTP/1.1 and HTTP/2 requests start with an ASCII method
	// or connection preface. Matching HTTP first and falling through to
	// Raft for everything else keeps the split cheap and prefix-free.
	httpLn := mux.Match(cmux.HTTP1Fast(), cmux.HTTP2())
	raftLn := mux.Match(cmux.Any())

	replCfg := replicator.Config{
		NodeID:   nodeID,
		BindAddr: cfg.ListenAddr(),
		DataDir:  cfg.DataDir,
		Listener: raftLn,
	}
	repl, err := replicator.New(replCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create replicator: %w", err)
	}

	pol := policy.New(policyFromConfig(cfg.Policy))

	var containerdRuntime *runtime.ContainerdRuntime
	if rt, err := runtime.NewContainerdRuntime(runtime.DefaultSocketPath); err == nil {
		containerdRuntime = rt
	} else {
		log.Warn().Err(err).Msg("containerd unavailable, container_run tasks will fail")
	}

	taskRunner := runner.New(containerdRuntime)
	exec := executor.New(nodeID, repl, pol, taskRunner)

	var planner deliberator.Planner = deliberator.NoOpPlanner{}
	if cfg.LLM.Enabled {
		apiKey := os.Getenv(cfg.LLM.APIKeyEnv)
		if apiKey == "" {
			log.Warn().Msg("llm enabled but api key env var is empty, falling back to no-op planner")
		} else {
			planner = deliberator.NewOracleClient(deliberator.OracleConfig{
				APIBase:     cfg.LLM.APIBase,
				APIKey:      apiKey,
				Model:       cfg.LLM.Model,
				MaxTokens:   int(cfg.LLM.MaxTokens),
				Temperature: cfg.LLM.Temperature,
			})
		}
	}

	d := &Daemon{
		cfg:        cfg,
		nodeID:     nodeID,
		clusterID:  cfg.EffectiveClusterID(),
		hostname:   hostname,
		replicator: repl,
		executor:   exec,
		planner:    planner,
		tracker:    tracker.New(),
		ca:         ca,
		tokens:     manager.NewTokenManager(),
		mux:        mux,
		rootLn:     ln,
		ln:         httpLn,
		raftLn:     raftLn,
		shutdown:   make(chan struct{}),
	}
	return d, nil
}

// HTTPServer is the subset of httpapi.Server the daemon needs to start
// the control API on its half of the shared cmux listener.
type HTTPServer interface {
	Serve(ln net.Listener) error
}

// Run brings the cluster online (bootstrapping a single-node cluster
// if no peers are configured), registers this node, starts the control
// API, the background loops, and the cmux multiplexer, and blocks
// until ctx is canceled or Shutdown is called.
func (d *Daemon) Run(ctx context.Context, httpServer HTTPServer) error {
	replCfg := replicator.Config{
		NodeID:   d.nodeID,
		BindAddr: d.cfg.ListenAddr(),
		DataDir:  d.cfg.DataDir,
		Listener: d.raftLn,
	}

	var err error
	if len(d.cfg.Peers) == 0 {
		log.Info().Msg("no peers configured, bootstrapping single-node cluster")
		err = d.replicator.Bootstrap(replCfg)
	} else {
		err = d.replicator.Start(replCfg)
		if err == nil {
			err = joinViaPeers(d.cfg.Peers, d.nodeID, d.cfg.ListenAddr())
		}
	}
	if err != nil {
		return fmt.Errorf("failed to start raft: %w", err)
	}

	// Apply only succeeds against the current leader; a node that just
	// joined as a follower will fail here. sendHeartbeat retries
	// registration on every tick until this node shows up in the
	// cluster state, so this first attempt is just to register as soon
	// as possible rather than waiting a full heartbeat interval.
	if err := d.registerSelf(); err != nil {
		log.Warn().Err(err).Msg("failed to register self, will retry on next heartbeat")
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if serveErr := d.mux.Serve(); serveErr != nil {
			log.Warn().Err(serveErr).Msg("cmux serve exited")
		}
	}()

	if httpServer != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if serveErr := httpServer.Serve(d.ln); serveErr != nil {
				log.Warn().Err(serveErr).Msg("http api serve exited")
			}
		}()
	}

	d.wg.Add(3)
	go d.heartbeatLoop(ctx)
	go d.taskRunnerLoop(ctx)
	go d.plannerLoop(ctx)

	log.Info().Str("addr", d.cfg.ListenAddr()).Msg("daemon running")

	select {
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down")
	case <-d.shutdown:
		log.Info().Msg("shutdown requested")
	}

	// Closing the root listener unwinds cmux's Serve loop, which in turn
	// stops delivering connections to the matched http and raft
	// listeners, unblocking their own Serve calls above.
	if err := d.rootLn.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing root listener")
	}

	d.wg.Wait()
	return d.replicator.Shutdown()
}

// Shutdown signals all background loops to stop and Run to return.
func (d *Daemon) Shutdown() {
	close(d.shutdown)
}

// Replicator exposes the underlying replicator for the HTTP API.
func (d *Daemon) Replicator() *replicator.Replicator { return d.replicator }

// Executor exposes the daemon's executor.
func (d *Daemon) Executor() *executor.Executor { return d.executor }

// Tracker exposes the action tracker for the HTTP API.
func (d *Daemon) Tracker() *tracker.Tracker { return d.tracker }

// CertAuthority exposes the node's cluster CA for the HTTP API's
// enrollment handler.
func (d *Daemon) CertAuthority() *security.CertAuthority { return d.ca }

// TokenManager exposes the node's enrollment token manager for the HTTP
// API and any operator tooling that mints join tokens.
func (d *Daemon) TokenManager() *manager.TokenManager { return d.tokens }

// ClusterID returns this node's view of the cluster identifier, used to
// populate enrollment responses.
func (d *Daemon) ClusterID() string { return d.clusterID }

// NodeID returns this node's identifier.
func (d *Daemon) NodeID() string { return d.nodeID }

// HTTPListener returns the HTTP-matched half of the shared cmux
// listener, for the control API server to Serve on.
func (d *Daemon) HTTPListener() net.Listener { return d.ln }

func (d *Daemon) registerSelf() error {
	cmd, err := types.NewCommand(types.OpRegisterNode, types.Node{
		ID:       d.nodeID,
		Hostname: d.hostname,
		Tags:     d.cfg.Tags,
		Health:   types.NodeHealthHealthy,
	})
	if err != nil {
		return err
	}
	if err := d.replicator.Apply(cmd); err != nil {
		return err
	}
	log.Info().Str("node_id", d.nodeID).Msg("registered node in cluster")
	return nil
}

func (d *Daemon) heartbeatLoop(ctx context.Context) {
	defer d.wg.Done()

	interval := time.Duration(d.cfg.HeartbeatIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.sendHeartbeat()
		case <-ctx.Done():
			return
		case <-d.shutdown:
			return
		}
	}
}

func (d *Daemon) sendHeartbeat() {
	if _, ok := d.replicator.State().NodeByID(d.nodeID); !ok {
		// Registration never landed (we joined as a follower, or the
		// node that handled our enrollment never registered us).
		// UpdateNodeHealth is a no-op against an unknown node, so retry
		// RegisterNode itself until it sticks.
		if err := d.registerSelf(); err != nil {
			log.Warn().Err(err).Msg("failed to register self, will retry on next heartbeat")
			return
		}
	}

	cmd, err := types.NewCommand(types.OpUpdateNodeHealth, types.UpdateNodeHealthData{
		NodeID: d.nodeID,
		Health: types.NodeHealthHealthy,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to build heartbeat command")
		return
	}
	if err := d.replicator.Apply(cmd); err != nil {
		log.Warn().Err(err).Msg("failed to send heartbeat")
		return
	}

	stats := d.replicator.Stats()
	if stats != nil {
		leaderVal := 0.0
		if d.replicator.IsLeader() {
			leaderVal = 1.0
		}
		metrics.RaftLeader.Set(leaderVal)
		if peers, ok := stats["peers"].(int); ok {
			metrics.RaftPeers.Set(float64(peers))
		}
	}
	log.Debug().Msg("heartbeat sent")
}

func (d *Daemon) taskRunnerLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.runPendingTasks(ctx)
		case <-ctx.Done():
			return
		case <-d.shutdown:
			return
		}
	}
}

func (d *Daemon) runPendingTasks(ctx context.Context) {
	snapshot := d.replicator.State()
	for _, task := range snapshot.TasksForNode(d.nodeID) {
		if task.Status != types.TaskPending {
			continue
		}
		log.Info().Str("task_id", task.ID).Str("kind", string(task.Payload.Kind)).Msg("executing task")
		if err := d.executor.RunTask(ctx, task); err != nil {
			log.Error().Err(err).Str("task_id", task.ID).Msg("task failed")
		}
	}
}

func (d *Daemon) plannerLoop(ctx context.Context) {
	defer d.wg.Done()

	interval := time.Duration(d.cfg.PlanningIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.runPlanningTick(ctx)
		case <-ctx.Done():
			return
		case <-d.shutdown:
			return
		}
	}
}

func (d *Daemon) runPlanningTick(ctx context.Context) {
	d.tracker.CleanupStale()

	if !d.replicator.IsLeader() {
		log.Debug().Msg("not leader, skipping planning")
		return
	}

	snapshot := d.replicator.State()
	if len(snapshot.Goals) == 0 {
		log.Debug().Msg("no goals defined, skipping planning")
		return
	}

	recentFailures := d.tracker.RecentFailures(10)

	actions, err := d.planner.Plan(ctx, deliberator.Input{
		Goals:       snapshot.Goals,
		Snapshot:    snapshot,
		Attachments: snapshot.Attachments,
	})
	if err != nil {
		log.Error().Err(err).Msg("planning failed")
		return
	}

	for _, action := range actions {
		if d.tracker.HasSimilarPending(action) {
			log.Debug().Msg("skipping duplicate action")
			continue
		}
		if isRecentlyFailed(action, recentFailures) {
			log.Debug().Msg("skipping recently failed action")
			continue
		}

		actionID := d.tracker.TrackAction(action)
		d.tracker.MarkExecuting(actionID)

		goalID := ""
		if action.Kind == types.ActionUpdateGoalProgress {
			goalID = action.GoalID
		}

		if err := d.executor.Execute(action); err != nil {
			shouldRetry := d.tracker.MarkFailed(actionID, err.Error())
			if goalID != "" {
				d.tracker.UpdateGoalProgress(goalID, false, err.Error())
			}
			if !shouldRetry {
				log.Warn().Str("action_id", actionID).Msg("action exceeded max retries")
			}
		} else {
			d.tracker.MarkCompleted(actionID, "")
			if goalID != "" {
				d.tracker.UpdateGoalProgress(goalID, true, "")
			}
		}
	}
}

func policyFromConfig(p config.PolicySettings) policy.ExecutionPolicy {
	return policy.ExecutionPolicy{
		AllowRestartServices:          p.AllowRestartServices,
		AllowDocker:                   p.AllowDocker,
		AllowedSyncPaths:              p.AllowedSyncPaths,
		BlockedSyncPaths:              p.BlockedSyncPaths,
		RequireApprovalForDestructive: p.RequireApprovalForDestructive,
		MaxConcurrentTasksPerNode:     p.MaxConcurrentTasksPerNode,
	}
}

// joinViaPeers asks each configured peer in turn to add this node as a
// Raft voter. A peer that isn't the leader replies with a hint, which is
// tried next before moving on to the remaining configured peers.
func joinViaPeers(peers []config.PeerConfig, nodeID, addr string) error {
	queue := make([]string, 0, len(peers))
	for _, p := range peers {
		queue = append(queue, p.Addr)
	}

	var lastErr error
	visited := make(map[string]bool)

	for len(queue) > 0 {
		target := queue[0]
		queue = queue[1:]
		if visited[target] || target == "" {
			continue
		}
		visited[target] = true

		leaderHint, err := requestJoin(target, nodeID, addr)
		if err == nil {
			log.Info().Str("via", target).Msg("joined cluster")
			return nil
		}
		lastErr = err
		if leaderHint != "" {
			queue = append([]string{leaderHint}, queue...)
		}
	}
	return fmt.Errorf("failed to join cluster via configured peers: %w", lastErr)
}

func requestJoin(peerAddr, nodeID, addr string) (leaderHint string, err error) {
	body, err := json.Marshal(map[string]string{"node_id": nodeID, "addr": addr})
	if err != nil {
		return "", err
	}

	resp, err := http.Post(fmt.Sprintf("http://%s/peers", peerAddr), "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to reach peer %s: %w", peerAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return "", nil
	}

	var decoded map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	if resp.StatusCode == http.StatusConflict {
		return decoded["leader_addr"], fmt.Errorf("%s is not the leader", peerAddr)
	}
	return "", fmt.Errorf("join request to %s failed: %s", peerAddr, decoded["error"])
}

func isRecentlyFailed(action types.Action, recent []tracker.TrackedAction) bool {
	for _, f := range recent {
		if f.Action.Kind != action.Kind {
			continue
		}
		if f.Action.TargetNode == action.TargetNode && f.Action.TaskID == action.TaskID && f.Action.NodeID == action.NodeID {
			return true
		}
	}
	return false
}
