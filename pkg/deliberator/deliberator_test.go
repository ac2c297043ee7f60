package deliberator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fleetctl/fleetd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoOpPlannerAlwaysReturnsNoOp(t *testing.T) {
	p := NoOpPlanner{}
	actions, err := p.Plan(context.Background(), Input{})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, types.ActionNoOp, actions[0].Kind)
}

func TestOracleClientSkipsPlanningWithNoActiveGoals(t *testing.T) {
	o := NewOracleClient(OracleConfig{})
	actions, err := o.Plan(context.Background(), Input{Goals: []types.Goal{{ID: "g1", Active: false}}})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, types.ActionNoOp, actions[0].Kind)
}

func TestOracleClientParsesProposedActions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := `{"reasoning":"scale out","actions":[{"type":"no_op","reason":"looks fine"}]}`
		resp := chatResponse{Choices: []struct {
			Message chatMessage `json:"message"`
		}{{Message: chatMessage{Role: "assistant", Content: content}}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	o := NewOracleClient(OracleConfig{APIBase: server.URL, Model: "test-model"})
	actions, err := o.Plan(context.Background(), Input{Goals: []types.Goal{{ID: "g1", Active: true}}})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, types.ActionNoOp, actions[0].Kind)
	assert.Equal(t, "looks fine", actions[0].Reason)
}

func TestOracleClientSkipsUnknownActionKinds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := `{"reasoning":"scale out","actions":[
			{"type":"launch_nuclear_strike","reason":"not a real action"},
			{"type":"no_op","reason":"looks fine"}
		]}`
		resp := chatResponse{Choices: []struct {
			Message chatMessage `json:"message"`
		}{{Message: chatMessage{Role: "assistant", Content: content}}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	o := NewOracleClient(OracleConfig{APIBase: server.URL, Model: "test-model"})
	actions, err := o.Plan(context.Background(), Input{Goals: []types.Goal{{ID: "g1", Active: true}}})
	require.NoError(t, err)
	require.Len(t, actions, 1, "the unparseable action must be skipped, not forwarded")
	assert.Equal(t, types.ActionNoOp, actions[0].Kind)
}

func TestOracleClientErrorsOnNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	o := NewOracleClient(OracleConfig{APIBase: server.URL})
	_, err := o.Plan(context.Background(), Input{Goals: []types.Goal{{ID: "g1", Active: true}}})
	assert.Error(t, err)
}
