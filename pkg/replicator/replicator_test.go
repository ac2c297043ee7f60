package replicator

import (
	"net"
	"testing"
	"time"

	"github.com/fleetctl/fleetd/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestReplicator(t *testing.T) *Replicator {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := Config{
		NodeID:   "n1",
		BindAddr: ln.Addr().String(),
		DataDir:  t.TempDir(),
		Listener: ln,
	}

	r, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, r.Bootstrap(cfg))
	t.Cleanup(func() { r.Shutdown() })

	waitForLeader(t, r)
	return r
}

func waitForLeader(t *testing.T, r *Replicator) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r.IsLeader() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("timed out waiting for single-node cluster to elect itself leader")
}

func TestBootstrapElectsSelfLeader(t *testing.T) {
	r := newTestReplicator(t)
	require.True(t, r.IsLeader())
	require.Equal(t, r.LeaderAddr(), string(r.raft.Leader()))
}

func TestApplyCommitsToStateMachine(t *testing.T) {
	r := newTestReplicator(t)

	cmd, err := types.NewCommand(types.OpRegisterNode, types.Node{ID: "n1", Hostname: "host-1"})
	require.NoError(t, err)
	require.NoError(t, r.Apply(cmd))

	state := r.State()
	require.Len(t, state.Nodes, 1)
	require.Equal(t, "n1", state.Nodes[0].ID)
}

func TestStatsReportsSingleVoter(t *testing.T) {
	r := newTestReplicator(t)
	stats := r.Stats()
	require.Equal(t, 1, stats["peers"])
	require.Equal(t, "Leader", stats["state"])
}
