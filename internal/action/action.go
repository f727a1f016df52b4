// Package action implements the governance action model: the tagged union of
// governance actions, their ordered/unordered classification, and each
// variant's side effect on SharedGroupState.
package action

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"github.com/ame2e/mlsgov/internal/govstate"
	"github.com/ame2e/mlsgov/internal/wire"
)

// Type names an action variant. RBAC role definitions reference these
// names directly, so they double as the vocabulary of permissible
// operations.
type Type string

const (
	TypeTextMsg              Type = "TextMsg"
	TypeRenameGroup          Type = "RenameGroup"
	TypeReport               Type = "Report"
	TypeSetTopicGroup        Type = "SetTopicGroup"
	TypeTakedownTextMsg      Type = "TakedownTextMsg"
	TypeInvite               Type = "Invite"
	TypeKick                 Type = "Kick"
	TypeDefRole              Type = "DefRole"
	TypeSetUserRole          Type = "SetUserRole"
	TypeAccept               Type = "Accept"
	TypeDecline              Type = "Decline"
	TypeLeave                Type = "Leave"
	TypeVote                 Type = "Vote"
	TypeGovStateAnnouncement Type = "GovStateAnnouncement"
	TypeCustom               Type = "Custom"
	TypeUpdateGroupState     Type = "UpdateGroupState"
)

// Metadata is carried by every Action.
type Metadata struct {
	Sender           string           `json:"sender"`
	ActionID         string           `json:"action_id"`
	CommunityGroupID wire.CommGroupId `json:"community_group_id"`
}

// Action is the common interface every variant satisfies.
type Action interface {
	Type() Type
	Meta() Metadata
	IsOrdered() bool
	// Execute applies the action's side effect, if any, to shared.
	Execute(shared *govstate.SharedGroupState) error
}

// Canonicalize returns the canonical byte representation an Action is
// signed over: its type tag followed by its JSON encoding. Using the
// concrete Go type's JSON output (field order fixed by struct
// declaration) gives a stable representation across processes.
func Canonicalize(a Action) ([]byte, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("action: marshal %s: %w", a.Type(), err)
	}
	out := append([]byte(a.Type()), ':')
	out = append(out, body...)
	return out, nil
}

// VerifiableAction pairs an Action with an Ed25519 signature over its
// canonical serialisation by the sender's long-term signing key.
type VerifiableAction struct {
	Action    Action
	Signature []byte
}

// Sign produces a VerifiableAction for a.
func Sign(a Action, sigKey ed25519.PrivateKey) (VerifiableAction, error) {
	canon, err := Canonicalize(a)
	if err != nil {
		return VerifiableAction{}, err
	}
	return VerifiableAction{Action: a, Signature: ed25519.Sign(sigKey, canon)}, nil
}

// Verify checks the signature against the sender's verification key
// (obtained from AS by the caller).
func (v VerifiableAction) Verify(verifyKey ed25519.PublicKey) bool {
	canon, err := Canonicalize(v.Action)
	if err != nil {
		return false
	}
	return ed25519.Verify(verifyKey, canon, v.Signature)
}

// ActionVec is a batch of signed actions carried by a single commit, used
// for commit_proposed_votes.
type ActionVec struct {
	Actions []VerifiableAction
}

// envelope is the wire/storage encoding of an Action: a type discriminator
// plus its JSON body, the same pattern internal/wire uses for
// OnWireMessage.
type envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalAction encodes any Action variant into its discriminated form.
func MarshalAction(a Action) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("action: marshal %s: %w", a.Type(), err)
	}
	return json.Marshal(envelope{Type: a.Type(), Data: data})
}

// UnmarshalAction decodes an envelope produced by MarshalAction back into
// its concrete Action variant.
func UnmarshalAction(raw []byte) (Action, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("action: unmarshal envelope: %w", err)
	}
	var a Action
	switch env.Type {
	case TypeTextMsg:
		var v TextMsg
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		a = v
	case TypeRenameGroup:
		var v RenameGroup
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		a = v
	case TypeReport:
		var v Report
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		a = v
	case TypeSetTopicGroup:
		var v SetTopicGroup
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		a = v
	case TypeTakedownTextMsg:
		var v TakedownTextMsg
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		a = v
	case TypeInvite:
		var v Invite
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		a = v
	case TypeKick:
		var v Kick
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		a = v
	case TypeDefRole:
		var v DefRole
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		a = v
	case TypeSetUserRole:
		var v SetUserRole
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		a = v
	case TypeAccept:
		var v Accept
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		a = v
	case TypeDecline:
		var v Decline
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		a = v
	case TypeLeave:
		var v Leave
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		a = v
	case TypeVote:
		var v Vote
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		a = v
	case TypeGovStateAnnouncement:
		var v GovStateAnnouncement
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		a = v
	case TypeCustom:
		var v Custom
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		a = v
	case TypeUpdateGroupState:
		var v UpdateGroupState
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		a = v
	default:
		return nil, fmt.Errorf("action: unknown type %q", env.Type)
	}
	return a, nil
}

// signedWire is VerifiableAction's on-the-wire shape.
type signedWire struct {
	Action    json.RawMessage `json:"action"`
	Signature []byte          `json:"signature"`
}

// MarshalJSON implements json.Marshaler so a VerifiableAction round-trips
// through its concrete Action type via the envelope above.
func (v VerifiableAction) MarshalJSON() ([]byte, error) {
	actionBytes, err := MarshalAction(v.Action)
	if err != nil {
		return nil, err
	}
	return json.Marshal(signedWire{Action: actionBytes, Signature: v.Signature})
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *VerifiableAction) UnmarshalJSON(data []byte) error {
	var sw signedWire
	if err := json.Unmarshal(data, &sw); err != nil {
		return err
	}
	a, err := UnmarshalAction(sw.Action)
	if err != nil {
		return err
	}
	v.Action = a
	v.Signature = sw.Signature
	return nil
}
