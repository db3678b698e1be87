package lifecycle

import (
	"context"
	"errors"

	"github.com/stake-plus/nombot/src/data"
	"github.com/stake-plus/nombot/src/types"
)

var transitions = map[types.NomineeState][]types.NomineeState{
	types.StateActive:     {types.StateDiscussion, types.StatePast},
	types.StateDiscussion: {types.StateVote, types.StatePast},
	types.StateVote:       {types.StateCleanup, types.StatePast},
	types.StateCleanup:    {types.StatePast},
	types.StatePast:       {},
}

// StateMachine is the single entry point for lifecycle mutations. Every
// state change is validated against the transition table and written as
// one conditional update, so the in-flight and timestamp invariants are
// enforced in one place.
type StateMachine struct {
	repo data.NomineeRepo
}

func NewStateMachine(repo data.NomineeRepo) *StateMachine {
	return &StateMachine{repo: repo}
}

// Transition moves a nominee to target, persisting the state and any
// extra fields atomically. The write is conditional on the state
// observed during validation; a concurrent change surfaces as
// ErrStateChanged instead of clobbering it.
func (m *StateMachine) Transition(ctx context.Context, nomineeID string, target types.NomineeState, fields map[string]interface{}) (*types.Nominee, error) {
	n, err := m.repo.Get(ctx, nomineeID)
	if err != nil {
		return nil, err
	}

	if !allowed(n.State, target) {
		return nil, &InvalidTransitionError{From: n.State, To: target}
	}
	if err := m.checkPreconditions(ctx, n, target); err != nil {
		return nil, err
	}

	patch := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		patch[k] = v
	}
	patch["state"] = target

	ok, err := m.repo.UpdateStateIf(ctx, n.ID, n.State, patch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStateChanged
	}

	return m.repo.Get(ctx, n.ID)
}

func allowed(from, to types.NomineeState) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

func (m *StateMachine) checkPreconditions(ctx context.Context, n *types.Nominee, target types.NomineeState) error {
	switch target {
	case types.StateDiscussion:
		cur, err := m.repo.FindInProgress(ctx, n.GuildID)
		if err != nil && !errors.Is(err, data.ErrNotFound) {
			return err
		}
		if cur != nil && cur.ID != n.ID {
			return &InProgressConflictError{Blocking: *cur}
		}
	case types.StateVote:
		if n.DiscussionStart == nil {
			return &MissingPreconditionError{NomineeID: n.ID, Reason: "discussion start not set"}
		}
	case types.StateCleanup:
		if n.VoteStart == nil {
			return &MissingPreconditionError{NomineeID: n.ID, Reason: "vote start not set"}
		}
	case types.StatePast:
		// always allowed from any non-terminal state
	}
	return nil
}
