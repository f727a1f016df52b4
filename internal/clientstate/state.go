// Package clientstate is the client state store: per-community,
// per-group local state indexed by CommGroupId, holding each group's MLS
// handle, replicated governance state, policy engine, history, and the
// single-slot pending action.
package clientstate

import (
	"time"

	"github.com/ame2e/mlsgov/internal/action"
	"github.com/ame2e/mlsgov/internal/audit"
	"github.com/ame2e/mlsgov/internal/govstate"
	"github.com/ame2e/mlsgov/internal/mlscrypto"
	"github.com/ame2e/mlsgov/internal/policy"
	"github.com/ame2e/mlsgov/internal/wire"
)

// HistoryEntry is one received-or-self-sent message recorded for a group,
// newest first in LocalGroupState.History.
type HistoryEntry struct {
	Action     action.Action
	ReceivedAt time.Time
}

// LocalGroupState is the per-group state not replicated to peers: the MLS
// handle, the policy engine arena, and bookkeeping (history, unread count,
// buffered messages) layered on top of the replicated SharedGroupState.
type LocalGroupState struct {
	MLS      *mlscrypto.Handle
	Shared   *govstate.SharedGroupState
	Policies *policy.Engine

	History     []HistoryEntry
	UnreadCount int

	// UnprocessedMessages buffers application messages received before
	// governance state is initialised; drained only during Accept.
	UnprocessedMessages []wire.GroupMessage

	// ProposedActions is the client's own buffer of signed votes awaiting
	// a later batch commit_proposed_votes, distinct from the policy
	// engine's internal proposed-action buffer.
	ProposedActions []action.VerifiableAction

	// GovStateInitHash is nil until a GovStateAnnouncement has been
	// applied.
	GovStateInitHash *string

	Pending PendingActionSlot

	// Audit is the human-readable diff trail of applied governance
	// changes, for CLI inspection and dispute review.
	Audit audit.Trail
}

func newLocalGroupState(mls *mlscrypto.Handle, name string) *LocalGroupState {
	return &LocalGroupState{
		MLS:      mls,
		Shared:   govstate.New(name),
		Policies: policy.NewEngine(policy.PassAllPolicy{}),
		History:  nil,
	}
}

// Store is the top-level C3 index: community -> group -> LocalGroupState,
// plus the pending-welcome cache keyed by the full CommGroupId. An earlier
// design collapsed this key to (community_id, community_id); keying by the
// full id keeps welcomes for distinct groups in the same community from
// colliding.
type Store struct {
	groups   map[string]map[string]*LocalGroupState
	welcomes map[wire.CommGroupId][]byte
}

// NewStore builds an empty client state store.
func NewStore() *Store {
	return &Store{
		groups:   map[string]map[string]*LocalGroupState{},
		welcomes: map[wire.CommGroupId][]byte{},
	}
}

// StoreGroup creates a new entry for commGrp, seeding default RBAC roles
// and an empty history. It overwrites any prior entry for the same id.
func (s *Store) StoreGroup(commGrp wire.CommGroupId, mls *mlscrypto.Handle, name string) *LocalGroupState {
	lg := newLocalGroupState(mls, name)
	s.ensureCommunity(commGrp.CommunityID)[commGrp.GroupID] = lg
	return lg
}

// RemoveGroup destroys a group's local entry (e.g. after being kicked or
// leaving).
func (s *Store) RemoveGroup(commGrp wire.CommGroupId) {
	if grp, ok := s.groups[commGrp.CommunityID]; ok {
		delete(grp, commGrp.GroupID)
	}
}

// Get returns the local state for commGrp, if any.
func (s *Store) Get(commGrp wire.CommGroupId) (*LocalGroupState, bool) {
	grp, ok := s.groups[commGrp.CommunityID]
	if !ok {
		return nil, false
	}
	lg, ok := grp[commGrp.GroupID]
	return lg, ok
}

func (s *Store) ensureCommunity(communityID string) map[string]*LocalGroupState {
	grp, ok := s.groups[communityID]
	if !ok {
		grp = map[string]*LocalGroupState{}
		s.groups[communityID] = grp
	}
	return grp
}

// AllGroups returns every (CommGroupId, *LocalGroupState) pair currently
// stored, for sync/bootstrap sweeps.
func (s *Store) AllGroups() map[wire.CommGroupId]*LocalGroupState {
	out := make(map[wire.CommGroupId]*LocalGroupState)
	for communityID, groups := range s.groups {
		for groupID, lg := range groups {
			out[wire.CommGroupId{CommunityID: communityID, GroupID: groupID}] = lg
		}
	}
	return out
}

// StoreWelcome records a sealed welcome awaiting Accept/Decline.
func (s *Store) StoreWelcome(commGrp wire.CommGroupId, sealed []byte) {
	cp := make([]byte, len(sealed))
	copy(cp, sealed)
	s.welcomes[commGrp] = cp
}

// GetWelcomeClone returns a copy of the stored welcome, if any.
func (s *Store) GetWelcomeClone(commGrp wire.CommGroupId) ([]byte, bool) {
	sealed, ok := s.welcomes[commGrp]
	if !ok {
		return nil, false
	}
	cp := make([]byte, len(sealed))
	copy(cp, sealed)
	return cp, true
}

// RemoveWelcome discards a pending welcome, e.g. once consumed by Accept
// or Decline.
func (s *Store) RemoveWelcome(commGrp wire.CommGroupId) {
	delete(s.welcomes, commGrp)
}

// StoreSelfSentMsg prepends an entry to history (newest first) without
// incrementing unread count.
func (lg *LocalGroupState) StoreSelfSentMsg(entry HistoryEntry) {
	lg.History = append([]HistoryEntry{entry}, lg.History...)
}

// StoreReceivedMsg prepends an entry to history (newest first) and
// increments unread.
func (lg *LocalGroupState) StoreReceivedMsg(entry HistoryEntry) {
	lg.History = append([]HistoryEntry{entry}, lg.History...)
	lg.UnreadCount++
}

// RemoveHistoryByActionID drops any history entry whose action id matches
// target, for TakedownTextMsg.
func (lg *LocalGroupState) RemoveHistoryByActionID(target string) {
	filtered := lg.History[:0]
	for _, h := range lg.History {
		if h.Action.Meta().ActionID != target {
			filtered = append(filtered, h)
		}
	}
	lg.History = filtered
}

// StoreUnprocessedMsg buffers a message received before governance state
// is initialised.
func (lg *LocalGroupState) StoreUnprocessedMsg(msg wire.GroupMessage) {
	lg.UnprocessedMessages = append(lg.UnprocessedMessages, msg)
}

// PopUnprocessedMsgs drains and returns the buffered messages.
func (lg *LocalGroupState) PopUnprocessedMsgs() []wire.GroupMessage {
	out := lg.UnprocessedMessages
	lg.UnprocessedMessages = nil
	return out
}

// StoreProposedAction appends a signed vote to the client's own
// awaiting-batch-commit buffer.
func (lg *LocalGroupState) StoreProposedAction(va action.VerifiableAction) {
	lg.ProposedActions = append(lg.ProposedActions, va)
}

// GetProposedActions returns the client's awaiting-batch-commit buffer.
func (lg *LocalGroupState) GetProposedActions() []action.VerifiableAction {
	return lg.ProposedActions
}

// RemoveProposedActions drops the given action ids from the buffer (e.g.
// once they have been folded into a commit_proposed_votes ActionVec).
func (lg *LocalGroupState) RemoveProposedActions(actionIDs map[string]bool) {
	filtered := lg.ProposedActions[:0]
	for _, va := range lg.ProposedActions {
		if !actionIDs[va.Action.Meta().ActionID] {
			filtered = append(filtered, va)
		}
	}
	lg.ProposedActions = filtered
}

// ClearProposedActions empties the buffer entirely.
func (lg *LocalGroupState) ClearProposedActions() {
	lg.ProposedActions = nil
}
