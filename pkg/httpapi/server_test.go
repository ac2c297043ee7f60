package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fleetctl/fleetd/pkg/manager"
	"github.com/fleetctl/fleetd/pkg/security"
	"github.com/fleetctl/fleetd/pkg/tracker"
	"github.com/fleetctl/fleetd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeApplier struct {
	snapshot   types.Snapshot
	isLeader   bool
	leaderAddr string
	applied    []types.Command
}

func (f *fakeApplier) State() types.Snapshot { return f.snapshot }
func (f *fakeApplier) IsLeader() bool        { return f.isLeader }
func (f *fakeApplier) LeaderAddr() string    { return f.leaderAddr }
func (f *fakeApplier) AddVoter(nodeID, addr string) error {
	f.snapshot.Nodes = append(f.snapshot.Nodes, types.Node{ID: nodeID, Hostname: addr})
	return nil
}
func (f *fakeApplier) Apply(cmd types.Command) error {
	f.applied = append(f.applied, cmd)
	if cmd.Op == types.OpPutTask {
		var task types.Task
		if err := json.Unmarshal(cmd.Data, &task); err != nil {
			return err
		}
		f.snapshot.Tasks = append(f.snapshot.Tasks, task)
	}
	if cmd.Op == types.OpPutGoal {
		var goal types.Goal
		if err := json.Unmarshal(cmd.Data, &goal); err != nil {
			return err
		}
		f.snapshot.Goals = append(f.snapshot.Goals, goal)
	}
	return nil
}

func TestHandleHealth(t *testing.T) {
	s := New("n1", "c1", &fakeApplier{}, tracker.New(), nil, nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStatus(t *testing.T) {
	applier := &fakeApplier{isLeader: true, snapshot: types.Snapshot{Nodes: []types.Node{{ID: "n1"}}}}
	s := New("n1", "c1", applier, tracker.New(), nil, nil)

	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.IsLeader)
	assert.Equal(t, 1, resp.ClusterSize)
}

func TestHandleTasksSubmitAndList(t *testing.T) {
	applier := &fakeApplier{}
	s := New("n1", "c1", applier, tracker.New(), nil, nil)

	body := `{"target_node":"n2","payload":{"kind":"echo","message":"hi"}}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(body))
	s.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec2 := httptest.NewRecorder()
	s.mux.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/tasks", nil))
	require.Equal(t, http.StatusOK, rec2.Code)

	var tasks []types.Task
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "n2", tasks[0].TargetNode)
}

func TestHandleGoalsSubmitAndList(t *testing.T) {
	applier := &fakeApplier{}
	s := New("n1", "c1", applier, tracker.New(), nil, nil)

	body := `{"description":"keep nginx up"}`
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/goals", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var goal types.Goal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &goal))
	assert.True(t, goal.Active)
	assert.Equal(t, uint8(5), goal.Priority)
}

func TestHandleTasksMethodNotAllowed(t *testing.T) {
	s := New("n1", "c1", &fakeApplier{}, tracker.New(), nil, nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/tasks", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleEnrollUnavailableWithoutCA(t *testing.T) {
	s := New("n1", "c1", &fakeApplier{}, tracker.New(), nil, nil)
	rec := httptest.NewRecorder()
	body := `{"token":"x","node_id":"n2","hostname":"n2.local"}`
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/enroll", strings.NewReader(body)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleEnrollIssuesCertForValidToken(t *testing.T) {
	ca := security.NewCertAuthority()
	require.NoError(t, ca.Initialize())
	tokens := manager.NewTokenManager()
	jt, err := tokens.Generate([]string{"edge"})
	require.NoError(t, err)

	s := New("n1", "c1", &fakeApplier{}, tracker.New(), ca, tokens)

	body := `{"token":"` + jt.Token + `","node_id":"n2","hostname":"n2.local"}`
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/enroll", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp enrollResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "n2", resp.NodeID)
	assert.NotEmpty(t, resp.NodeCertPEM)
	assert.NotEmpty(t, resp.CACertPEM)
}

func TestHandleEnrollRejectsInvalidToken(t *testing.T) {
	ca := security.NewCertAuthority()
	require.NoError(t, ca.Initialize())
	tokens := manager.NewTokenManager()

	s := New("n1", "c1", &fakeApplier{}, tracker.New(), ca, tokens)

	body := `{"token":"bogus","node_id":"n2","hostname":"n2.local"}`
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/enroll", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlePeersRejectsWhenNotLeader(t *testing.T) {
	applier := &fakeApplier{isLeader: false, leaderAddr: "10.0.0.1:9000"}
	s := New("n1", "c1", applier, tracker.New(), nil, nil)

	body := `{"node_id":"n2","addr":"10.0.0.2:9000"}`
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/peers", strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlePeersAddsVoterWhenLeader(t *testing.T) {
	applier := &fakeApplier{isLeader: true}
	s := New("n1", "c1", applier, tracker.New(), nil, nil)

	body := `{"node_id":"n2","addr":"10.0.0.2:9000"}`
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/peers", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, applier.snapshot.Nodes, 1)
	assert.Equal(t, "n2", applier.snapshot.Nodes[0].ID)
}

