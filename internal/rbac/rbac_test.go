package rbac

import (
	"testing"

	"github.com/ame2e/mlsgov/internal/action"
	"github.com/ame2e/mlsgov/internal/govstate"
)

func TestDefaultRolesSeeded(t *testing.T) {
	table := govstate.NewRoleTable()
	if _, ok := table.RoleDefs["BaseUser"]; !ok {
		t.Fatal("expected BaseUser role to be seeded")
	}
	if _, ok := table.RoleDefs["Mod"]; !ok {
		t.Fatal("expected Mod role to be seeded")
	}
}

func TestBaseUserCannotRename(t *testing.T) {
	table := govstate.NewRoleTable()
	a := action.RenameGroup{Metadata: action.Metadata{Sender: "bob"}}
	if ActionAuthorized(&table, "bob", a) {
		t.Fatal("BaseUser should not be authorized to RenameGroup")
	}
	if table.UserToRole["bob"] != "BaseUser" {
		t.Fatalf("expected lazy default to BaseUser, got %q", table.UserToRole["bob"])
	}
}

func TestModCanRename(t *testing.T) {
	table := govstate.NewRoleTable()
	table.UserToRole["alice"] = "Mod"
	a := action.RenameGroup{Metadata: action.Metadata{Sender: "alice"}}
	if !ActionAuthorized(&table, "alice", a) {
		t.Fatal("Mod should be authorized to RenameGroup")
	}
}

func TestUnknownRoleDenied(t *testing.T) {
	table := govstate.NewRoleTable()
	table.UserToRole["eve"] = "Ghost"
	a := action.RenameGroup{Metadata: action.Metadata{Sender: "eve"}}
	if ActionAuthorized(&table, "eve", a) {
		t.Fatal("undefined role should not authorize anything")
	}
}
