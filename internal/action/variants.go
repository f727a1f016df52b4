package action

import (
	"fmt"

	"github.com/ame2e/mlsgov/internal/govstate"
	"github.com/ame2e/mlsgov/internal/wire"
)

// TextMsg carries a plaintext group message. Unordered; no direct mutation
// of shared state (history bookkeeping happens one layer up in
// clientstate).
type TextMsg struct {
	Metadata Metadata `json:"metadata"`
	Body     string   `json:"body"`
}

func (a TextMsg) Type() Type                                         { return TypeTextMsg }
func (a TextMsg) Meta() Metadata                                      { return a.Metadata }
func (a TextMsg) IsOrdered() bool                                     { return false }
func (a TextMsg) Execute(*govstate.SharedGroupState) error            { return nil }

// RenameGroup changes a group's display name. Ordered.
type RenameGroup struct {
	Metadata Metadata `json:"metadata"`
	NewName  string   `json:"new_name"`
}

func (a RenameGroup) Type() Type     { return TypeRenameGroup }
func (a RenameGroup) Meta() Metadata { return a.Metadata }
func (a RenameGroup) IsOrdered() bool { return true }
func (a RenameGroup) Execute(shared *govstate.SharedGroupState) error {
	shared.Name = a.NewName
	return nil
}

// Report flags a message or user for moderator attention. Unordered; no
// direct mutation (handled entirely by policy, if any is wired).
type Report struct {
	Metadata Metadata `json:"metadata"`
	Target   string   `json:"target"`
	Reason   string   `json:"reason"`
}

func (a Report) Type() Type                              { return TypeReport }
func (a Report) Meta() Metadata                           { return a.Metadata }
func (a Report) IsOrdered() bool                          { return false }
func (a Report) Execute(*govstate.SharedGroupState) error { return nil }

// SetTopicGroup changes a group's topic string. Ordered.
type SetTopicGroup struct {
	Metadata Metadata `json:"metadata"`
	NewTopic string   `json:"new_topic"`
}

func (a SetTopicGroup) Type() Type     { return TypeSetTopicGroup }
func (a SetTopicGroup) Meta() Metadata { return a.Metadata }
func (a SetTopicGroup) IsOrdered() bool { return true }
func (a SetTopicGroup) Execute(shared *govstate.SharedGroupState) error {
	shared.Topic = a.NewTopic
	return nil
}

// TakedownTextMsg retracts a previously sent TextMsg by action id.
// Unordered; removal from local history happens one layer up since
// history is not part of SharedGroupState.
type TakedownTextMsg struct {
	Metadata Metadata `json:"metadata"`
	TargetID string   `json:"target_action_id"`
}

func (a TakedownTextMsg) Type() Type                              { return TypeTakedownTextMsg }
func (a TakedownTextMsg) Meta() Metadata                           { return a.Metadata }
func (a TakedownTextMsg) IsOrdered() bool                          { return false }
func (a TakedownTextMsg) Execute(*govstate.SharedGroupState) error { return nil }

// Invite pre-authorises a later MLS Add for each invitee by recording
// their key package and defaulting their role to BaseUser. Ordered.
type Invite struct {
	Metadata    Metadata                   `json:"metadata"`
	Invitees    []string                   `json:"invitees"`
	KeyPackages map[string]wire.KeyPackage `json:"key_packages"`
}

func (a Invite) Type() Type     { return TypeInvite }
func (a Invite) Meta() Metadata { return a.Metadata }
func (a Invite) IsOrdered() bool { return true }
func (a Invite) Execute(shared *govstate.SharedGroupState) error {
	for _, u := range a.Invitees {
		shared.RBAC.UserToRole[u] = "BaseUser"
		if kp, ok := a.KeyPackages[u]; ok {
			shared.ToAddInvitees[u] = kp
		}
	}
	return nil
}

// Kick authorises a later MLS Remove of target. It does not itself remove
// the member cryptographically. Ordered.
type Kick struct {
	Metadata Metadata `json:"metadata"`
	Target   string   `json:"target"`
}

func (a Kick) Type() Type     { return TypeKick }
func (a Kick) Meta() Metadata { return a.Metadata }
func (a Kick) IsOrdered() bool { return true }
func (a Kick) Execute(shared *govstate.SharedGroupState) error {
	shared.ToBeRemovedMembers = append(shared.ToBeRemovedMembers, a.Target)
	return nil
}

// DefRole declares or redefines a role's permitted action types. Ordered.
type DefRole struct {
	Metadata    Metadata `json:"metadata"`
	RoleName    string   `json:"role_name"`
	ActionTypes []string `json:"action_types"`
}

func (a DefRole) Type() Type     { return TypeDefRole }
func (a DefRole) Meta() Metadata { return a.Metadata }
func (a DefRole) IsOrdered() bool { return true }
func (a DefRole) Execute(shared *govstate.SharedGroupState) error {
	perms := make(map[string]bool, len(a.ActionTypes))
	for _, t := range a.ActionTypes {
		perms[t] = true
	}
	shared.RBAC.RoleDefs[a.RoleName] = perms
	return nil
}

// SetUserRole assigns a role to a user. Ordered.
type SetUserRole struct {
	Metadata Metadata `json:"metadata"`
	User     string   `json:"user"`
	Role     string   `json:"role"`
}

func (a SetUserRole) Type() Type     { return TypeSetUserRole }
func (a SetUserRole) Meta() Metadata { return a.Metadata }
func (a SetUserRole) IsOrdered() bool { return true }
func (a SetUserRole) Execute(shared *govstate.SharedGroupState) error {
	shared.RBAC.UserToRole[a.User] = a.Role
	return nil
}

// Accept finalises a newcomer's governance-state bootstrap. Unordered;
// carries the hash the newcomer observed so the sender can cross-check it.
type Accept struct {
	Metadata             Metadata `json:"metadata"`
	ReceivedGovStateHash string   `json:"received_gov_state_hash"`
}

func (a Accept) Type() Type                              { return TypeAccept }
func (a Accept) Meta() Metadata                           { return a.Metadata }
func (a Accept) IsOrdered() bool                          { return false }
func (a Accept) Execute(*govstate.SharedGroupState) error { return nil }

// Decline rejects a pending invite. Ordered: it authorises the member's
// own eventual MLS removal without ever having joined application traffic.
type Decline struct {
	Metadata Metadata `json:"metadata"`
}

func (a Decline) Type() Type     { return TypeDecline }
func (a Decline) Meta() Metadata { return a.Metadata }
func (a Decline) IsOrdered() bool { return true }
func (a Decline) Execute(shared *govstate.SharedGroupState) error {
	shared.ToBeRemovedMembers = append(shared.ToBeRemovedMembers, a.Metadata.Sender)
	return nil
}

// Leave authorises the sender's own removal. Ordered.
type Leave struct {
	Metadata Metadata `json:"metadata"`
}

func (a Leave) Type() Type     { return TypeLeave }
func (a Leave) Meta() Metadata { return a.Metadata }
func (a Leave) IsOrdered() bool { return true }
func (a Leave) Execute(shared *govstate.SharedGroupState) error {
	shared.ToBeRemovedMembers = append(shared.ToBeRemovedMembers, a.Metadata.Sender)
	return nil
}

// Vote casts a ballot on some outstanding proposal (e.g. a RenameGroup
// poll). Ordered; interpreted solely by the Policy Engine, never mutates
// shared state directly.
type Vote struct {
	Metadata   Metadata `json:"metadata"`
	ProposalID string   `json:"proposal_id"`
	Option     string   `json:"option"`
}

func (a Vote) Type() Type                              { return TypeVote }
func (a Vote) Meta() Metadata                           { return a.Metadata }
func (a Vote) IsOrdered() bool                          { return true }
func (a Vote) Execute(*govstate.SharedGroupState) error { return nil }

// GovStateAnnouncement replicates the sender's view of SharedGroupState to
// the rest of the group. Unordered. The first announcement a client
// accepts initialises gov_state_init_hash; subsequent ones replace
// the state without re-initialising the hash.
type GovStateAnnouncement struct {
	Metadata Metadata                  `json:"metadata"`
	State    govstate.SharedGroupState `json:"state"`
}

func (a GovStateAnnouncement) Type() Type     { return TypeGovStateAnnouncement }
func (a GovStateAnnouncement) Meta() Metadata { return a.Metadata }
func (a GovStateAnnouncement) IsOrdered() bool { return false }

// Execute overwrites shared's contents with the announced state in place,
// preserving the pointer identity callers already hold.
func (a GovStateAnnouncement) Execute(shared *govstate.SharedGroupState) error {
	*shared = a.State
	return nil
}

// Custom is the extension point: free-form payload interpreted entirely
// by whichever policy filters it (e.g. ReputationNameChangePolicy's
// reputation deltas, WordFilterPolicy's filtered-word list updates).
// Ordered; never mutates shared state directly.
type Custom struct {
	Metadata Metadata       `json:"metadata"`
	Kind     string         `json:"kind"`
	Payload  map[string]any `json:"payload"`
}

func (a Custom) Type() Type                              { return TypeCustom }
func (a Custom) Meta() Metadata                           { return a.Metadata }
func (a Custom) IsOrdered() bool                          { return true }
func (a Custom) Execute(*govstate.SharedGroupState) error { return nil }

// UpdateGroupState is the client-facing request to broadcast a fresh
// GovStateAnnouncement of the caller's current view. Unordered; it never
// mutates shared state on its own — the coordination loop turns it into a
// GovStateAnnouncement before sending.
type UpdateGroupState struct {
	Metadata Metadata `json:"metadata"`
}

func (a UpdateGroupState) Type() Type                              { return TypeUpdateGroupState }
func (a UpdateGroupState) Meta() Metadata                           { return a.Metadata }
func (a UpdateGroupState) IsOrdered() bool                          { return false }
func (a UpdateGroupState) Execute(*govstate.SharedGroupState) error { return nil }

// Hash is a convenience used during bootstrap to compare an announced
// state's hash against what a newcomer locally computed.
func Hash(s *govstate.SharedGroupState) (string, error) {
	h, err := s.Hash()
	if err != nil {
		return "", fmt.Errorf("action: hash shared state: %w", err)
	}
	return fmt.Sprintf("%x", h), nil
}
