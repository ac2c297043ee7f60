package runner

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/fleetctl/fleetd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunEcho(t *testing.T) {
	r := New(nil)
	out, err := r.Run(context.Background(), types.TaskPayload{Kind: types.PayloadEcho, Message: "hello"})
	require.NoError(t, err)

	var parsed map[string]string
	require.NoError(t, json.Unmarshal(out, &parsed))
	assert.Equal(t, "hello", parsed["echoed"])
}

func TestRunCommandAlwaysRejected(t *testing.T) {
	r := New(nil)
	_, err := r.Run(context.Background(), types.TaskPayload{Kind: types.PayloadRunCommand, Command: "rm -rf /"})
	assert.Error(t, err)
}

func TestRunCustomAlwaysRejected(t *testing.T) {
	r := New(nil)
	_, err := r.Run(context.Background(), types.TaskPayload{Kind: types.PayloadCustom, ToolID: "mystery"})
	assert.Error(t, err)
}

func TestContainerRunWithoutRuntimeErrors(t *testing.T) {
	r := New(nil)
	_, err := r.Run(context.Background(), types.TaskPayload{Kind: types.PayloadContainerRun, Image: "alpine"})
	assert.Error(t, err)
}

func TestSyncDirectoryMissingSource(t *testing.T) {
	r := New(nil)
	_, err := r.Run(context.Background(), types.TaskPayload{
		Kind: types.PayloadSyncDirectory,
		Src:  "/no/such/path/fleetd-test",
		Dst:  "/tmp/fleetd-test-dst",
	})
	assert.Error(t, err)
}
