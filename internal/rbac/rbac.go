// Package rbac wraps the RoleTable carried in a group's SharedGroupState
// with the single authorisation entry point the coordination loop calls
// before executing an ordered action.
package rbac

import (
	"github.com/ame2e/mlsgov/internal/action"
	"github.com/ame2e/mlsgov/internal/govstate"
)

// ActionAuthorized reports whether sender's role permits a.Type(). A
// sender absent from user_to_role is defaulted to BaseUser and that
// default is recorded on the table.
func ActionAuthorized(table *govstate.RoleTable, sender string, a action.Action) bool {
	return table.Authorized(sender, string(a.Type()))
}
