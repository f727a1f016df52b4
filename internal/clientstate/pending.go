package clientstate

import (
	"fmt"

	"github.com/ame2e/mlsgov/internal/action"
	"github.com/ame2e/mlsgov/internal/mlserr"
)

// PendingPayload is the application-message payload carried by a pending
// ordered commit: either a single signed action or a batch of votes.
// Exactly one of Single/Vec is set, or neither for a pure membership
// commit, in which case AddedIdentity/RemovedIdentity (at most one of
// those) names the governance-state marker to clear once the commit is
// acknowledged.
type PendingPayload struct {
	Single *action.VerifiableAction
	Vec    *action.ActionVec

	AddedIdentity   *string
	RemovedIdentity *string
}

// PendingActionSlot is the single-slot type enforcing the one-outstanding-
// action invariant by construction: Store fails if the slot is already
// occupied rather than silently overwriting it.
type PendingActionSlot struct {
	payload *PendingPayload
}

// Store records payload as the group's one outstanding pending action. It
// errors if a pending action is already recorded.
func (s *PendingActionSlot) Store(payload PendingPayload) error {
	if s.payload != nil {
		return fmt.Errorf("%w", mlserr.ErrPendingSlotOccupied)
	}
	cp := payload
	s.payload = &cp
	return nil
}

// Pop empties the slot and returns what it held, or nil if it was empty.
func (s *PendingActionSlot) Pop() *PendingPayload {
	p := s.payload
	s.payload = nil
	return p
}

// Peek returns the slot's contents without clearing it.
func (s *PendingActionSlot) Peek() *PendingPayload {
	return s.payload
}

// Occupied reports whether a pending action is currently recorded.
func (s *PendingActionSlot) Occupied() bool {
	return s.payload != nil
}
