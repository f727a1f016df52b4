package policy

import (
	"testing"

	"github.com/ame2e/mlsgov/internal/action"
	"github.com/ame2e/mlsgov/internal/govstate"
)

func TestPassAllPolicyExecutesImmediately(t *testing.T) {
	shared := govstate.New("old")
	engine := NewEngine(PassAllPolicy{})
	a := action.RenameGroup{Metadata: action.Metadata{Sender: "bob", ActionID: "1"}, NewName: "new"}
	va := action.VerifiableAction{Action: a}
	ctx := &Context{Shared: shared}
	if err := engine.EvaluateAction(va, ctx); err != nil {
		t.Fatalf("EvaluateAction: %v", err)
	}
	if shared.Name != "new" {
		t.Fatalf("name = %q, want new", shared.Name)
	}
}

func TestVoteOnNameChangeUnanimousPasses(t *testing.T) {
	shared := govstate.New("old")
	vp := NewVoteOnNameChangePolicy()
	engine := NewEngine(vp)
	ctx := &Context{Shared: shared, Members: []string{"alice", "bob", "carol"}}

	rg := action.RenameGroup{Metadata: action.Metadata{Sender: "carol", ActionID: "poll1"}, NewName: "voted-name"}
	if err := engine.EvaluateAction(action.VerifiableAction{Action: rg}, ctx); err != nil {
		t.Fatalf("EvaluateAction rename: %v", err)
	}
	if len(engine.Proposed) != 1 {
		t.Fatalf("expected rename to remain proposed pending votes, got %d entries", len(engine.Proposed))
	}

	for _, voter := range []string{"alice", "bob", "carol"} {
		v := action.Vote{Metadata: action.Metadata{Sender: voter}, ProposalID: "poll1", Option: "yes"}
		if err := engine.EvaluateAction(action.VerifiableAction{Action: v}, ctx); err != nil {
			t.Fatalf("EvaluateAction vote(%s): %v", voter, err)
		}
	}
	if err := engine.EvaluateAllProposedActions(ctx); err != nil {
		t.Fatalf("EvaluateAllProposedActions: %v", err)
	}
	if shared.Name != "voted-name" {
		t.Fatalf("name = %q, want voted-name", shared.Name)
	}
	if len(engine.Proposed) != 0 {
		t.Fatalf("expected poll removed from buffer, got %d entries", len(engine.Proposed))
	}
}

func TestVoteOnNameChangeMajorityNoFails(t *testing.T) {
	shared := govstate.New("old")
	vp := NewVoteOnNameChangePolicy()
	engine := NewEngine(vp)
	ctx := &Context{Shared: shared, Members: []string{"alice", "bob", "carol"}}

	rg := action.RenameGroup{Metadata: action.Metadata{Sender: "alice", ActionID: "poll2"}, NewName: "rejected-name"}
	if err := engine.EvaluateAction(action.VerifiableAction{Action: rg}, ctx); err != nil {
		t.Fatalf("EvaluateAction: %v", err)
	}
	for voter, opt := range map[string]string{"alice": "yes", "bob": "no", "carol": "no"} {
		v := action.Vote{Metadata: action.Metadata{Sender: voter}, ProposalID: "poll2", Option: opt}
		if err := engine.EvaluateAction(action.VerifiableAction{Action: v}, ctx); err != nil {
			t.Fatalf("EvaluateAction vote: %v", err)
		}
	}
	if err := engine.EvaluateAllProposedActions(ctx); err != nil {
		t.Fatalf("EvaluateAllProposedActions: %v", err)
	}
	if shared.Name != "old" {
		t.Fatalf("name = %q, want unchanged old", shared.Name)
	}
}

func TestVoteOnNameChangeIgnoresVoteOutsideElectorate(t *testing.T) {
	shared := govstate.New("old")
	vp := NewVoteOnNameChangePolicy()
	engine := NewEngine(vp)
	ctx := &Context{Shared: shared, Members: []string{"alice", "bob"}}

	rg := action.RenameGroup{Metadata: action.Metadata{Sender: "alice", ActionID: "poll3"}, NewName: "late-joiner-name"}
	if err := engine.EvaluateAction(action.VerifiableAction{Action: rg}, ctx); err != nil {
		t.Fatalf("EvaluateAction rename: %v", err)
	}

	// alice votes yes; bob has not voted yet. dave joins the group after the
	// poll opened and tries to vote no - his ballot must not count, or the
	// 1-1 result below would turn into a failing 1-2.
	yes := action.Vote{Metadata: action.Metadata{Sender: "alice"}, ProposalID: "poll3", Option: "yes"}
	if err := engine.EvaluateAction(action.VerifiableAction{Action: yes}, ctx); err != nil {
		t.Fatalf("EvaluateAction vote(alice): %v", err)
	}
	outsider := action.Vote{Metadata: action.Metadata{Sender: "dave"}, ProposalID: "poll3", Option: "no"}
	if err := engine.EvaluateAction(action.VerifiableAction{Action: outsider}, ctx); err != nil {
		t.Fatalf("EvaluateAction vote(dave): %v", err)
	}

	poll := vp.Polls["poll3"]
	if poll == nil {
		t.Fatal("expected poll3 to still be open (bob has not voted)")
	}
	if _, counted := poll.Votes["dave"]; counted {
		t.Fatal("expected dave's vote to be rejected, not tallied")
	}
	if yes, _ := poll.tally(); yes != 1 {
		t.Fatalf("tally yes = %d, want 1 (alice only)", yes)
	}

	// bob (in the electorate) now votes no: the poll resolves 1-1, which
	// passes under the yes >= no rule; had dave's no been counted it would
	// have failed 1-2.
	no := action.Vote{Metadata: action.Metadata{Sender: "bob"}, ProposalID: "poll3", Option: "no"}
	if err := engine.EvaluateAction(action.VerifiableAction{Action: no}, ctx); err != nil {
		t.Fatalf("EvaluateAction vote(bob): %v", err)
	}
	if err := engine.EvaluateAllProposedActions(ctx); err != nil {
		t.Fatalf("EvaluateAllProposedActions: %v", err)
	}
	if shared.Name != "late-joiner-name" {
		t.Fatalf("name = %q, want late-joiner-name (1-1 tie passes; dave's no must not count)", shared.Name)
	}
}

func TestWordFilterPolicyBlocksBannedWord(t *testing.T) {
	shared := govstate.New("g")
	shared.RBAC.UserToRole["mod1"] = "Mod"
	wp := NewWordFilterPolicy()
	wp.FilteredWords = []string{"banned"}
	engine := NewEngine(wp)
	ctx := &Context{Shared: shared}

	tm := action.TextMsg{Metadata: action.Metadata{Sender: "bob"}, Body: "this has banned word"}
	if err := engine.EvaluateAction(action.VerifiableAction{Action: tm}, ctx); err != nil {
		t.Fatalf("EvaluateAction: %v", err)
	}
	if len(engine.Proposed) != 0 {
		t.Fatalf("expected terminal status, got %d retained", len(engine.Proposed))
	}
}

func TestReputationNameChangeRequiresThreshold(t *testing.T) {
	shared := govstate.New("g")
	rp := NewReputationNameChangePolicy()
	engine := NewEngine(rp)
	ctx := &Context{Shared: shared}

	rg := action.RenameGroup{Metadata: action.Metadata{Sender: "low-rep"}, NewName: "nope"}
	if err := engine.EvaluateAction(action.VerifiableAction{Action: rg}, ctx); err != nil {
		t.Fatalf("EvaluateAction: %v", err)
	}
	if shared.Name != "g" {
		t.Fatalf("name changed despite insufficient reputation: %q", shared.Name)
	}
}
