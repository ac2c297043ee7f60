package deliberator

import (
	"context"

	"github.com/fleetctl/fleetd/pkg/types"
)

// Planner proposes Actions for the leader to take toward the cluster's
// active goals. Implementations must never propose RunCommand or
// Custom task payloads; the policy validator rejects both anyway, but
// a well-behaved planner shouldn't waste a planning cycle on them.
type Planner interface {
	Plan(ctx context.Context, input Input) ([]types.Action, error)
}

// Input is the read-only view of cluster state a Planner reasons over.
type Input struct {
	Goals       []types.Goal
	Snapshot    types.Snapshot
	Attachments []types.Attachment
}

// NoOpPlanner always returns a single NoOp action. It is the default
// planner when no oracle endpoint is configured.
type NoOpPlanner struct{}

// Plan implements Planner.
func (NoOpPlanner) Plan(ctx context.Context, input Input) ([]types.Action, error) {
	return []types.Action{{Kind: types.ActionNoOp, Reason: "disabled"}}, nil
}
