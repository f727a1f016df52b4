package coordinator

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"github.com/ame2e/mlsgov/internal/action"
	"github.com/ame2e/mlsgov/internal/clientstate"
	"github.com/ame2e/mlsgov/internal/mlscrypto"
	"github.com/ame2e/mlsgov/internal/mlserr"
	"github.com/ame2e/mlsgov/internal/wire"
)

// HandleWelcome processes a DSRelayedUserWelcome: it builds the MLS
// handle from the sealed welcome and stores the group with no governance
// state yet, awaiting a later Accept to replay buffered history.
func (c *Client) HandleWelcome(msg wire.DSRelayedUserWelcome, keys mlscrypto.MemberKeys) (Notification, error) {
	h, err := mlscrypto.NewFromWelcome(msg.Welcome, keys)
	if err != nil {
		return Notification{}, fmt.Errorf("coordinator: open welcome: %w", err)
	}
	c.Store.StoreGroup(msg.CommGrp, h, msg.CommGrp.GroupID)
	return c.notify("NewInvite", msg.CommGrp, fmt.Sprintf("invited by %s", msg.Sender)), nil
}

// HandleRelayedMsg processes a DSRelayedUserMsg: buffered until
// governance state exists, otherwise routed to the hard-path case split.
func (c *Client) HandleRelayedMsg(msg wire.DSRelayedUserMsg) ([]Notification, error) {
	lg, err := c.requireGroup(msg.UserMsg.CommGrp)
	if err != nil {
		return nil, err
	}
	if lg.GovStateInitHash == nil {
		lg.StoreUnprocessedMsg(msg.UserMsg)
		return nil, nil
	}
	return c.processGroupMessage(lg, msg.UserMsg)
}

// HandleDSResult processes a DSResult: a failed submission rolls back the
// pending commit and action, freeing the single pending-action slot for a
// retry; a successful one either applies the pending action directly or
// replays the echoed ordered messages, which is how the sender ultimately
// applies its own commit.
func (c *Client) HandleDSResult(res wire.DSResult) ([]Notification, error) {
	if res.Identifier == nil {
		return nil, fmt.Errorf("%w: DSResult missing identifier", mlserr.ErrPrecondition)
	}
	grp := *res.Identifier
	lg, err := c.requireGroup(grp)
	if err != nil {
		return nil, err
	}

	if !res.Ok {
		lg.MLS.ClearPending()
		lg.Pending.Pop()
		detail := "retry"
		if res.Explanation != nil {
			detail = *res.Explanation
		}
		return []Notification{c.notify("DSFeedback", grp, detail)}, nil
	}

	if len(res.PrecedingAndSentOrderedMsgs) == 0 {
		n, err := c.selfAck(lg, grp)
		if err != nil {
			return nil, err
		}
		return []Notification{n}, nil
	}

	var notifications []Notification
	for _, gm := range res.PrecedingAndSentOrderedMsgs {
		ns, err := c.processGroupMessage(lg, gm)
		if err != nil {
			return notifications, err
		}
		notifications = append(notifications, ns...)
	}
	return notifications, nil
}

// processGroupMessage implements the hard-path case split: own vs other
// sender, epoch comparison, and handshake bit together determine whether
// this is a stale self-commit, the self-ack path, a wrong-epoch discard,
// an inbound unordered message, or a staged commit from a peer.
//
// A handshake message's Epoch names the epoch its sender was in when the
// commit was composed, the same epoch an in-sync recipient is
// currently at; merging it is what advances the recipient to the next
// epoch. Any mismatch means a race already moved the group past this
// commit (or this commit is stale).
func (c *Client) processGroupMessage(lg *clientstate.LocalGroupState, msg wire.GroupMessage) ([]Notification, error) {
	localEpoch := lg.MLS.Epoch()
	wrongEpoch := msg.Epoch > localEpoch || (msg.Epoch != localEpoch && msg.Handshake)

	if msg.Sender == c.Identity {
		if wrongEpoch {
			lg.MLS.ClearPending()
			lg.Pending.Pop()
			return []Notification{c.notify("DSFeedback", msg.CommGrp, "retry")}, nil
		}
		n, err := c.selfAck(lg, msg.CommGrp)
		if err != nil {
			return nil, err
		}
		return []Notification{n}, nil
	}

	if wrongEpoch {
		return []Notification{c.notify("DSFeedback", msg.CommGrp, "wrong epoch, discarded")}, nil
	}
	if !msg.Handshake {
		return c.inboundUnordered(lg, msg)
	}
	return c.inboundOrdered(lg, msg)
}

// selfAck implements the self-ack path: the pending commit the handle
// itself staged is merged, and if it carried an ordered application
// payload, that action (or batch of votes) is executed/evaluated exactly
// as it would be for a peer's commit.
func (c *Client) selfAck(lg *clientstate.LocalGroupState, grp wire.CommGroupId) (Notification, error) {
	payload := lg.MLS.PendingOrderedPayload()
	pending := lg.Pending.Peek()

	if payload == nil {
		if err := c.mergeCommit(lg, nil); err != nil {
			return Notification{}, err
		}
		if pending != nil && pending.AddedIdentity != nil {
			delete(lg.Shared.ToAddInvitees, *pending.AddedIdentity)
		}
		if pending != nil && pending.RemovedIdentity != nil {
			lg.Shared.RemoveToBeRemoved(*pending.RemovedIdentity)
		}
		lg.Pending.Pop()
		return c.notify("DSFeedback", grp, "membership commit acknowledged"), nil
	}

	if pending != nil && pending.Single != nil {
		if err := c.policyCheckAndExecute(lg, *pending.Single, nil); err != nil {
			return Notification{}, err
		}
		lg.Pending.Pop()
		return c.notify("DSFeedback", grp, fmt.Sprintf("%s acknowledged", pending.Single.Action.Type())), nil
	}

	if pending != nil && pending.Vec != nil {
		if err := c.evaluateProposedActions(lg, *pending.Vec, nil); err != nil {
			return Notification{}, err
		}
		lg.Pending.Pop()
		return c.notify("DSFeedback", grp, "vote batch acknowledged"), nil
	}

	if err := c.mergeCommit(lg, nil); err != nil {
		return Notification{}, err
	}
	return c.notify("DSFeedback", grp, "commit acknowledged (no local pending record)"), nil
}

// inboundUnordered handles an application (non-handshake) message from a
// peer: decrypting it, verifying its signature if signed, and dispatching
// by the kind of plaintext it carries.
func (c *Client) inboundUnordered(lg *clientstate.LocalGroupState, msg wire.GroupMessage) ([]Notification, error) {
	opened, err := lg.MLS.ProcessIncoming(msg)
	if err != nil {
		return nil, fmt.Errorf("coordinator: decrypt unordered message: %w", err)
	}
	upm, err := unmarshalUnorderedPrivateMessage(opened.AppData)
	if err != nil {
		return nil, err
	}

	switch upm.Kind {
	case kindTextAction:
		if !c.verify(*upm.Signed) {
			c.Log.Warn().Str("sender", upm.Signed.Action.Meta().Sender).Msg("dropping unordered message with invalid signature")
			return nil, nil
		}
		if err := c.policyCheckAndExecute(lg, *upm.Signed, nil); err != nil {
			return nil, err
		}
		recordHistory(lg, upm.Signed.Action, false)
	case kindProposedAction:
		if !c.verify(*upm.Signed) {
			c.Log.Warn().Str("sender", upm.Signed.Action.Meta().Sender).Msg("dropping proposed vote with invalid signature")
			return nil, nil
		}
		lg.StoreProposedAction(*upm.Signed)
		return nil, nil
	}
	return []Notification{c.notify("NewMsg", msg.CommGrp, string(msg.Sender))}, nil
}

// inboundOrdered handles a staged commit from a peer: extracting its
// membership diff and ordered payload, then either applying a pure
// membership change or routing the single payload through governance.
func (c *Client) inboundOrdered(lg *clientstate.LocalGroupState, msg wire.GroupMessage) ([]Notification, error) {
	opened, err := lg.MLS.ProcessIncoming(msg)
	if err != nil {
		return nil, fmt.Errorf("coordinator: open staged commit: %w", err)
	}

	if len(opened.OrderedPayload) == 0 {
		for _, added := range opened.AddedMembers {
			if _, ok := lg.Shared.ToAddInvitees[added]; !ok {
				c.Log.Warn().Str("member", added).Msg("merging add of a member not pre-authorised by an invite")
			}
			delete(lg.Shared.ToAddInvitees, added)
		}
		for _, removed := range opened.RemovedMembers {
			if !lg.Shared.RemoveToBeRemoved(removed) {
				c.Log.Warn().Str("member", removed).Msg("merging removal of a member not authorised for removal")
			}
		}
		if err := c.mergeCommit(lg, &opened); err != nil {
			return nil, err
		}
		for _, removed := range opened.RemovedMembers {
			if removed == c.Identity {
				c.Store.RemoveGroup(msg.CommGrp)
				return []Notification{c.notify("GroupRemoved", msg.CommGrp, "removed from group")}, nil
			}
		}
		return []Notification{c.notify("MembershipChanged", msg.CommGrp, fmt.Sprintf("added=%v removed=%v", opened.AddedMembers, opened.RemovedMembers))}, nil
	}

	var va action.VerifiableAction
	if uerr := json.Unmarshal(opened.OrderedPayload, &va); uerr == nil && va.Action != nil {
		if !c.verify(va) {
			return nil, fmt.Errorf("%w: ordered payload from %s", mlserr.ErrBadSignature, va.Action.Meta().Sender)
		}
		if err := c.policyCheckAndExecute(lg, va, &opened); err != nil {
			return nil, err
		}
		recordHistory(lg, va.Action, false)
		return []Notification{c.notify("NewMsg", msg.CommGrp, string(va.Action.Type()))}, nil
	}

	var vec action.ActionVec
	if err := json.Unmarshal(opened.OrderedPayload, &vec); err != nil {
		return nil, fmt.Errorf("coordinator: ordered payload neither action nor vec: %w", err)
	}
	if err := c.evaluateProposedActions(lg, vec, &opened); err != nil {
		return nil, err
	}
	return []Notification{c.notify("NewMsg", msg.CommGrp, "vote batch")}, nil
}

// evaluateProposedActions removes a batch of votes from the local
// proposed-action buffer, feeds each through the policy engine, and
// merges the commit that carried them.
func (c *Client) evaluateProposedActions(lg *clientstate.LocalGroupState, vec action.ActionVec, opened *mlscrypto.Opened) error {
	ids := make(map[string]bool, len(vec.Actions))
	for _, va := range vec.Actions {
		ids[va.Action.Meta().ActionID] = true
	}
	lg.RemoveProposedActions(ids)

	ctx := c.policyContext(lg)
	for _, va := range vec.Actions {
		if !c.verify(va) {
			c.Log.Warn().Str("sender", va.Action.Meta().Sender).Msg("dropping unverifiable vote in batch")
			continue
		}
		if err := lg.Policies.EvaluateAction(va, ctx); err != nil {
			return fmt.Errorf("coordinator: evaluate batched vote: %w", err)
		}
	}
	if err := lg.Policies.EvaluateAllProposedActions(ctx); err != nil {
		return fmt.Errorf("coordinator: evaluate proposed actions: %w", err)
	}
	return c.mergeCommit(lg, opened)
}

func (c *Client) verify(va action.VerifiableAction) bool {
	sender := va.Action.Meta().Sender
	if sender == c.Identity {
		return va.Verify(c.SigKey.Public().(ed25519.PublicKey))
	}
	key, ok := c.VerifyKey(sender)
	if !ok {
		return false
	}
	return va.Verify(key)
}
