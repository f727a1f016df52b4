// Package audit keeps a human-readable trail of governance-state changes:
// every RenameGroup, SetTopicGroup, and GovStateAnnouncement a client
// applies is recorded alongside a character-level diff of what changed,
// so a CLI user (or a moderator reviewing a dispute) can see exactly what
// an action did without re-deriving it from raw state snapshots.
package audit

import (
	"fmt"
	"time"

	dmp "github.com/sergi/go-diff/diffmatchpatch"

	"github.com/ame2e/mlsgov/internal/action"
	"github.com/ame2e/mlsgov/internal/govstate"
)

var patcher = dmp.New()

// Entry is one applied governance change.
type Entry struct {
	ActionType action.Type
	Sender     string
	AppliedAt  time.Time
	Diff       string
}

// Trail accumulates Entry records for a single group in apply order.
type Trail struct {
	entries []Entry
}

// Record diffs before/after's relevant field for a and appends an Entry.
// Actions with no textual field worth diffing (most of them) are still
// recorded, with an empty Diff.
func (t *Trail) Record(a action.Action, before, after *govstate.SharedGroupState) {
	t.entries = append(t.entries, Entry{
		ActionType: a.Type(),
		Sender:     a.Meta().Sender,
		AppliedAt:  time.Now(),
		Diff:       diffFor(a, before, after),
	})
}

// Entries returns the recorded trail in apply order.
func (t *Trail) Entries() []Entry {
	return t.entries
}

// diffFor renders a human-readable diff of the one field a's variant is
// known to change, or an empty string for variants with nothing textual
// to show (memberships, roles, votes).
func diffFor(a action.Action, before, after *govstate.SharedGroupState) string {
	switch a.Type() {
	case action.TypeRenameGroup:
		return prettyDiff(before.Name, after.Name)
	case action.TypeSetTopicGroup:
		return prettyDiff(before.Topic, after.Topic)
	case action.TypeGovStateAnnouncement:
		return prettyDiff(summarize(before), summarize(after))
	default:
		return ""
	}
}

// prettyDiff renders a character-level text diff for display.
func prettyDiff(before, after string) string {
	if before == after {
		return ""
	}
	diffs := patcher.DiffMain(before, after, false)
	diffs = patcher.DiffCleanupSemantic(diffs)
	return patcher.DiffPrettyText(diffs)
}

// summarize gives GovStateAnnouncement something textual to diff: its
// name, topic, and member count, since the full state is too large to
// usefully show character-by-character.
func summarize(s *govstate.SharedGroupState) string {
	return fmt.Sprintf("name=%s topic=%s members=%d", s.Name, s.Topic, len(s.RBAC.UserToRole))
}
