package coordinator

import (
	"encoding/json"
	"fmt"

	"github.com/ame2e/mlsgov/internal/action"
	"github.com/ame2e/mlsgov/internal/clientstate"
	"github.com/ame2e/mlsgov/internal/mlserr"
	"github.com/ame2e/mlsgov/internal/wire"
)

// Outbound is what a Send call produces for the transport layer to
// deliver: at most one reliable (ordered/commit) send and any number of
// standard (unordered) sends and invites.
type Outbound struct {
	Reliable *wire.UserReliableSend
	Standard []wire.UserStandardSend
	Invites  []wire.UserInvite
}

// Send dispatches an action against group grp: ordered actions are signed,
// recorded as the group's single pending action, and staged as an MLS
// commit; unordered actions are wrapped as a TextAction-kind application
// message and sealed immediately, since nothing needs to wait on a DS
// acknowledgement to release them.
func (c *Client) Send(grp wire.CommGroupId, a action.Action) (Outbound, error) {
	lg, err := c.requireGroup(grp)
	if err != nil {
		return Outbound{}, err
	}
	if upd, ok := a.(action.UpdateGroupState); ok {
		return c.broadcastGovState(grp, lg, upd.Metadata)
	}
	va, err := action.Sign(a, c.SigKey)
	if err != nil {
		return Outbound{}, fmt.Errorf("coordinator: sign action: %w", err)
	}

	if a.IsOrdered() {
		if err := lg.Pending.Store(clientstate.PendingPayload{Single: &va}); err != nil {
			return Outbound{}, err
		}
		epoch := lg.MLS.Epoch()
		wirePayload, err := json.Marshal(va)
		if err != nil {
			return Outbound{}, fmt.Errorf("coordinator: marshal ordered payload: %w", err)
		}
		commit, err := lg.MLS.SendOrderedApp(wirePayload)
		if err != nil {
			return Outbound{}, fmt.Errorf("coordinator: stage ordered commit: %w", err)
		}
		msg := wire.GroupMessage{CommGrp: grp, Sender: c.Identity, Ciphertext: commit, Handshake: true, Epoch: epoch}
		recordHistory(lg, a, true)
		return Outbound{Reliable: &wire.UserReliableSend{Sender: c.Identity, Recipients: lg.MLS.ActiveMembers(), UserMsg: msg}}, nil
	}

	upm := newTextAction(va)
	plaintext, err := upm.marshal()
	if err != nil {
		return Outbound{}, err
	}
	recordHistory(lg, a, true)
	groupMsg, err := lg.MLS.SealApplication(plaintext)
	if err != nil {
		return Outbound{}, fmt.Errorf("coordinator: seal application message: %w", err)
	}
	return Outbound{Standard: []wire.UserStandardSend{{Recipients: lg.MLS.ActiveMembers(), UserMsg: groupMsg}}}, nil
}

// broadcastGovState turns a client-facing UpdateGroupState request into a
// signed GovStateAnnouncement of the caller's current view of lg.Shared and
// seals it as an unordered application message. It never stages a commit:
// replicating governance state piggybacks on MLS's existing encrypted
// channel rather than forcing an epoch change.
func (c *Client) broadcastGovState(grp wire.CommGroupId, lg *clientstate.LocalGroupState, meta action.Metadata) (Outbound, error) {
	snapshot, err := lg.Shared.Clone()
	if err != nil {
		return Outbound{}, fmt.Errorf("coordinator: snapshot state for gov state announcement: %w", err)
	}
	ann := action.GovStateAnnouncement{Metadata: meta, State: *snapshot}
	va, err := action.Sign(ann, c.SigKey)
	if err != nil {
		return Outbound{}, fmt.Errorf("coordinator: sign gov state announcement: %w", err)
	}
	upm := newTextAction(va)
	plaintext, err := upm.marshal()
	if err != nil {
		return Outbound{}, err
	}
	groupMsg, err := lg.MLS.SealApplication(plaintext)
	if err != nil {
		return Outbound{}, fmt.Errorf("coordinator: seal gov state announcement: %w", err)
	}
	return Outbound{Standard: []wire.UserStandardSend{{Recipients: lg.MLS.ActiveMembers(), UserMsg: groupMsg}}}, nil
}

// ProposeVote signs a Vote and both stashes it in the proposed-action
// buffer and ships it unordered so peers can stash it too. It never
// stages a commit.
func (c *Client) ProposeVote(grp wire.CommGroupId, v action.Vote) (wire.UserStandardSend, error) {
	lg, err := c.requireGroup(grp)
	if err != nil {
		return wire.UserStandardSend{}, err
	}
	va, err := action.Sign(v, c.SigKey)
	if err != nil {
		return wire.UserStandardSend{}, err
	}
	lg.StoreProposedAction(va)
	upm := newProposedAction(va)
	plaintext, err := upm.marshal()
	if err != nil {
		return wire.UserStandardSend{}, err
	}
	groupMsg, err := lg.MLS.SealApplication(plaintext)
	if err != nil {
		return wire.UserStandardSend{}, err
	}
	return wire.UserStandardSend{Recipients: lg.MLS.ActiveMembers(), UserMsg: groupMsg}, nil
}

// CommitProposedVotes folds the client's entire proposed-action buffer
// into a single ordered commit carrying an ActionVec.
func (c *Client) CommitProposedVotes(grp wire.CommGroupId) (wire.UserReliableSend, error) {
	lg, err := c.requireGroup(grp)
	if err != nil {
		return wire.UserReliableSend{}, err
	}
	votes := lg.GetProposedActions()
	if len(votes) == 0 {
		return wire.UserReliableSend{}, fmt.Errorf("%w: no proposed actions to commit", mlserr.ErrPrecondition)
	}
	vec := action.ActionVec{Actions: votes}
	if err := lg.Pending.Store(clientstate.PendingPayload{Vec: &vec}); err != nil {
		return wire.UserReliableSend{}, err
	}
	epoch := lg.MLS.Epoch()
	payload, err := json.Marshal(vec)
	if err != nil {
		return wire.UserReliableSend{}, fmt.Errorf("coordinator: marshal action vec: %w", err)
	}
	commit, err := lg.MLS.SendOrderedApp(payload)
	if err != nil {
		return wire.UserReliableSend{}, fmt.Errorf("coordinator: stage votes commit: %w", err)
	}
	msg := wire.GroupMessage{CommGrp: grp, Sender: c.Identity, Ciphertext: commit, Handshake: true, Epoch: epoch}
	return wire.UserReliableSend{Sender: c.Identity, Recipients: lg.MLS.ActiveMembers(), UserMsg: msg}, nil
}

// AddInvitees stages a membership commit adding identity, a pre-authorised
// invitee from the replicated governance state, and a Welcome for them.
// Only the identity's presence in ToAddInvitees gates this; no RBAC check
// is made here or in the CLI, and MLS membership itself is never
// governance-gated. The
// adapter stages one leaf at a time and holds only one staged commit per
// handle, so a caller adding several invitees must send, await the
// DSResult, and call this again for the next one rather than batching
// them in a single round trip. The commit is not merged here: it takes
// effect only once HandleDSResult confirms the relay accepted it,
// mirroring every other ordered action.
func (c *Client) AddInvitees(grp wire.CommGroupId, identity string, kp wire.KeyPackage, initPub []byte) (wire.UserReliableSend, wire.UserInvite, error) {
	lg, err := c.requireGroup(grp)
	if err != nil {
		return wire.UserReliableSend{}, wire.UserInvite{}, err
	}
	if _, ok := lg.Shared.ToAddInvitees[identity]; !ok {
		return wire.UserReliableSend{}, wire.UserInvite{}, fmt.Errorf("%w: %s was not pre-authorised by a prior invite", mlserr.ErrPrecondition, identity)
	}
	if err := lg.Pending.Store(clientstate.PendingPayload{AddedIdentity: &identity}); err != nil {
		return wire.UserReliableSend{}, wire.UserInvite{}, err
	}
	epoch := lg.MLS.Epoch()
	commit, sealed, err := lg.MLS.AddMember(identity, kp, initPub)
	if err != nil {
		lg.Pending.Pop()
		return wire.UserReliableSend{}, wire.UserInvite{}, fmt.Errorf("coordinator: add %s: %w", identity, err)
	}
	msg := wire.GroupMessage{CommGrp: grp, Sender: c.Identity, Ciphertext: commit, Handshake: true, Epoch: epoch}
	send := wire.UserReliableSend{Sender: c.Identity, Recipients: lg.MLS.ActiveMembers(), UserMsg: msg}
	invite := wire.UserInvite{Sender: c.Identity, Invitees: []string{identity}, CommGrp: grp, Welcome: sealed}
	return send, invite, nil
}

// RemoveOtherOrSelf stages a membership-removal commit for another
// member's leaf. Removing the caller's own leaf is not supported: the
// adapter's RemoveMember rejects it with ErrPrecondition, so a member who
// has left is removed by another member's call. Like AddInvitees,
// it does not merge: the removal takes effect only once HandleDSResult
// confirms the relay accepted it, so a losing race can be rolled back
// cleanly instead of permanently diverging the caller from the group.
func (c *Client) RemoveOtherOrSelf(grp wire.CommGroupId, target string) (wire.UserReliableSend, error) {
	lg, err := c.requireGroup(grp)
	if err != nil {
		return wire.UserReliableSend{}, err
	}
	recipientsBeforeRemoval := lg.MLS.ActiveMembers()
	leafIndex := -1
	for i, m := range recipientsBeforeRemoval {
		if m == target {
			leafIndex = i
			break
		}
	}
	if leafIndex < 0 {
		return wire.UserReliableSend{}, fmt.Errorf("%w: %s not an active member", mlserr.ErrPrecondition, target)
	}
	if err := lg.Pending.Store(clientstate.PendingPayload{RemovedIdentity: &target}); err != nil {
		return wire.UserReliableSend{}, err
	}
	epoch := lg.MLS.Epoch()
	commit, err := lg.MLS.RemoveMember(leafIndex)
	if err != nil {
		lg.Pending.Pop()
		return wire.UserReliableSend{}, fmt.Errorf("coordinator: remove %s: %w", target, err)
	}
	// recipientsBeforeRemoval still includes target: it needs this commit
	// delivered too, so its own client can learn it was removed and drop
	// the group locally.
	msg := wire.GroupMessage{CommGrp: grp, Sender: c.Identity, Ciphertext: commit, Handshake: true, Epoch: epoch}
	return wire.UserReliableSend{Sender: c.Identity, Recipients: recipientsBeforeRemoval, UserMsg: msg}, nil
}
