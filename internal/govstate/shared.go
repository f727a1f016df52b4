// Package govstate defines SharedGroupState, the replicated portion of a
// group's state: name, topic, RBAC table,
// free-form per-policy scratch, and membership pre-authorisations. It is
// replicated by broadcasting GovStateAnnouncement actions, never by shared
// memory.
package govstate

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/ame2e/mlsgov/internal/wire"
)

// RoleTable is the RBAC side of a group's governance state: which action
// types each role may perform, and which role each user currently holds.
type RoleTable struct {
	RoleDefs   map[string]map[string]bool `json:"role_defs"`
	UserToRole map[string]string          `json:"user_to_role"`
}

// NewRoleTable seeds the default roles required after group
// initialisation: BaseUser and Mod.
func NewRoleTable() RoleTable {
	baseUser := map[string]bool{
		"TextMsg": true, "Accept": true, "UpdateGroupState": true, "Report": true,
	}
	mod := map[string]bool{}
	for k := range baseUser {
		mod[k] = true
	}
	for _, extra := range []string{"RenameGroup", "SetTopicGroup", "TakedownTextMsg", "Invite", "Kick", "DefRole", "SetUserRole"} {
		mod[extra] = true
	}
	return RoleTable{
		RoleDefs:   map[string]map[string]bool{"BaseUser": baseUser, "Mod": mod},
		UserToRole: map[string]string{},
	}
}

// RoleOf returns the role assigned to user, lazily defaulting to BaseUser
// and recording that default.
func (t *RoleTable) RoleOf(user string) string {
	if role, ok := t.UserToRole[user]; ok {
		return role
	}
	t.UserToRole[user] = "BaseUser"
	return "BaseUser"
}

// Authorized reports whether user's role permits actionType.
func (t *RoleTable) Authorized(user, actionType string) bool {
	role := t.RoleOf(user)
	perms, ok := t.RoleDefs[role]
	if !ok {
		return false
	}
	return perms[actionType]
}

// SharedGroupState is the eventually-convergent governance state for one
// group, replicated by GovStateAnnouncement broadcast.
type SharedGroupState struct {
	Name             string            `json:"name"`
	Topic            string            `json:"topic"`
	RBAC             RoleTable         `json:"rbac"`
	GovernanceState  map[string]string `json:"governance_state"`
	ToAddInvitees    map[string]wire.KeyPackage `json:"to_add_invitees"`
	ToBeRemovedMembers []string        `json:"to_be_removed_members"`
}

// New builds the SharedGroupState a freshly-created group starts with.
func New(name string) *SharedGroupState {
	return &SharedGroupState{
		Name:               name,
		RBAC:               NewRoleTable(),
		GovernanceState:    map[string]string{},
		ToAddInvitees:      map[string]wire.KeyPackage{},
		ToBeRemovedMembers: []string{},
	}
}

// Hash returns a SHA-256 digest of the state's canonical JSON encoding,
// used for gov_state_init_hash and for the idempotent-accept check.
func (s *SharedGroupState) Hash() ([32]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// Clone deep-copies the state via its JSON encoding, used when adopting an
// announced state wholesale.
func (s *SharedGroupState) Clone() (*SharedGroupState, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out SharedGroupState
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveToBeRemoved drops one occurrence of user from the pre-authorised
// removal list, returning whether it was present.
func (s *SharedGroupState) RemoveToBeRemoved(user string) bool {
	for i, u := range s.ToBeRemovedMembers {
		if u == user {
			s.ToBeRemovedMembers = append(s.ToBeRemovedMembers[:i], s.ToBeRemovedMembers[i+1:]...)
			return true
		}
	}
	return false
}
