package policy

import (
	"fmt"
	"strings"

	"github.com/ame2e/mlsgov/internal/action"
)

// PassAllPolicy claims everything and executes it unconditionally. Used as
// a catch-all tail entry, or in tests where no governance friction is
// wanted.
type PassAllPolicy struct{}

func (PassAllPolicy) Name() string                                      { return "PassAllPolicy" }
func (PassAllPolicy) Filter(action.Action) bool                         { return true }
func (PassAllPolicy) Init(*ProposedAction, *Context)                    {}
func (PassAllPolicy) Check(*ProposedAction, *Context) Status            { return StatusPassed }
func (PassAllPolicy) Pass(pa *ProposedAction, ctx *Context) error {
	return pa.Action.Action.Execute(ctx.Shared)
}
func (PassAllPolicy) Fail(*ProposedAction, *Context) error { return nil }

// poll is the per-proposal voting state VoteOnNameChangePolicy owns.
type poll struct {
	NewName    string
	Electorate []string
	Votes      map[string]string // voter -> option
}

func (p *poll) tally() (yes, no int) {
	for _, opt := range p.Votes {
		if opt == "yes" {
			yes++
		} else if opt == "no" {
			no++
		}
	}
	return
}

// inElectorate reports whether voter was a member of the group at the
// moment this poll opened; a member added afterward has no ballot to cast.
func (p *poll) inElectorate(voter string) bool {
	for _, m := range p.Electorate {
		if m == voter {
			return true
		}
	}
	return false
}

func (p *poll) allVoted() bool {
	for _, voter := range p.Electorate {
		if _, ok := p.Votes[voter]; !ok {
			return false
		}
	}
	return true
}

// VoteOnNameChangePolicy holds a RenameGroup until every member of the
// electorate snapshotted at proposal time has voted, then lets it take
// effect if yes votes are at least as many as no votes (a tie passes).
type VoteOnNameChangePolicy struct {
	Polls map[string]*poll // keyed by the RenameGroup action's ActionID
}

// NewVoteOnNameChangePolicy constructs an empty policy instance.
func NewVoteOnNameChangePolicy() *VoteOnNameChangePolicy {
	return &VoteOnNameChangePolicy{Polls: map[string]*poll{}}
}

func (p *VoteOnNameChangePolicy) Name() string { return "VoteOnNameChangePolicy" }

func (p *VoteOnNameChangePolicy) Filter(a action.Action) bool {
	switch v := a.(type) {
	case action.RenameGroup:
		return true
	case action.Vote:
		_, ok := p.Polls[v.ProposalID]
		return ok
	}
	return false
}

func (p *VoteOnNameChangePolicy) Init(pa *ProposedAction, ctx *Context) {
	rg, ok := pa.Action.Action.(action.RenameGroup)
	if !ok {
		return // Vote actions join an existing poll; nothing to initialise
	}
	electorate := make([]string, len(ctx.Members))
	copy(electorate, ctx.Members)
	p.Polls[rg.Metadata.ActionID] = &poll{
		NewName:    rg.NewName,
		Electorate: electorate,
		Votes:      map[string]string{},
	}
}

func (p *VoteOnNameChangePolicy) Check(pa *ProposedAction, ctx *Context) Status {
	switch v := pa.Action.Action.(type) {
	case action.Vote:
		poll, ok := p.Polls[v.ProposalID]
		if !ok {
			return StatusFailed
		}
		if v.Option != "yes" && v.Option != "no" {
			return StatusFailed
		}
		if !poll.inElectorate(v.Metadata.Sender) {
			return StatusFailed
		}
		if _, already := poll.Votes[v.Metadata.Sender]; !already {
			poll.Votes[v.Metadata.Sender] = v.Option
		}
		return StatusPassed
	case action.RenameGroup:
		poll, ok := p.Polls[v.Metadata.ActionID]
		if !ok {
			return StatusFailed
		}
		if !poll.allVoted() {
			return StatusProposed
		}
		yes, no := poll.tally()
		if yes >= no {
			return StatusPassed
		}
		return StatusFailed
	}
	return StatusFailed
}

func (p *VoteOnNameChangePolicy) Pass(pa *ProposedAction, ctx *Context) error {
	rg, ok := pa.Action.Action.(action.RenameGroup)
	if !ok {
		return nil // a Vote action itself carries no further effect
	}
	delete(p.Polls, rg.Metadata.ActionID)
	return rg.Execute(ctx.Shared)
}

func (p *VoteOnNameChangePolicy) Fail(pa *ProposedAction, ctx *Context) error {
	if rg, ok := pa.Action.Action.(action.RenameGroup); ok {
		delete(p.Polls, rg.Metadata.ActionID)
	}
	return nil
}

// ReputationNameChangePolicy gates RenameGroup on the sender's accumulated
// reputation, adjusted by bounded Custom("reputation_delta") actions.
type ReputationNameChangePolicy struct {
	Reputation map[string]int32
}

// NewReputationNameChangePolicy constructs an empty policy instance.
func NewReputationNameChangePolicy() *ReputationNameChangePolicy {
	return &ReputationNameChangePolicy{Reputation: map[string]int32{}}
}

func (p *ReputationNameChangePolicy) Name() string { return "ReputationNameChangePolicy" }

func (p *ReputationNameChangePolicy) Filter(a action.Action) bool {
	switch v := a.(type) {
	case action.RenameGroup:
		return true
	case action.Custom:
		return v.Kind == "reputation_delta"
	}
	return false
}

func (p *ReputationNameChangePolicy) Init(*ProposedAction, *Context) {}

func (p *ReputationNameChangePolicy) Check(pa *ProposedAction, ctx *Context) Status {
	switch v := pa.Action.Action.(type) {
	case action.Custom:
		delta, ok := v.Payload["reputation_change"].(float64)
		if !ok || delta < -2 || delta > 2 {
			return StatusFailed
		}
		target, ok := v.Payload["user_id"].(string)
		if !ok {
			return StatusFailed
		}
		p.Reputation[target] += int32(delta)
		return StatusPassed
	case action.RenameGroup:
		if p.Reputation[v.Metadata.Sender] > 2 {
			return StatusPassed
		}
		return StatusFailed
	}
	return StatusFailed
}

func (p *ReputationNameChangePolicy) Pass(pa *ProposedAction, ctx *Context) error {
	if rg, ok := pa.Action.Action.(action.RenameGroup); ok {
		return rg.Execute(ctx.Shared)
	}
	return nil
}

func (p *ReputationNameChangePolicy) Fail(*ProposedAction, *Context) error { return nil }

// WordFilterPolicy blocks TextMsg bodies containing a filtered word, and
// lets a Mod update the filtered-word list via a Custom action.
type WordFilterPolicy struct {
	FilteredWords []string
}

// NewWordFilterPolicy constructs a policy with no words filtered yet.
func NewWordFilterPolicy() *WordFilterPolicy {
	return &WordFilterPolicy{}
}

func (p *WordFilterPolicy) Name() string { return "WordFilterPolicy" }

func (p *WordFilterPolicy) Filter(a action.Action) bool {
	switch v := a.(type) {
	case action.TextMsg:
		return true
	case action.Custom:
		return v.Kind == "filtered_words"
	}
	return false
}

func (p *WordFilterPolicy) Init(*ProposedAction, *Context) {}

func (p *WordFilterPolicy) Check(pa *ProposedAction, ctx *Context) Status {
	switch v := pa.Action.Action.(type) {
	case action.Custom:
		if ctx.Shared.RBAC.RoleOf(v.Metadata.Sender) != "Mod" {
			return StatusFailed
		}
		return StatusPassed
	case action.TextMsg:
		body := strings.Fields(v.Body)
		for _, tok := range body {
			for _, banned := range p.FilteredWords {
				if tok == banned {
					return StatusFailed
				}
			}
		}
		return StatusPassed
	}
	return StatusFailed
}

func (p *WordFilterPolicy) Pass(pa *ProposedAction, ctx *Context) error {
	switch v := pa.Action.Action.(type) {
	case action.Custom:
		words, ok := v.Payload["words"].([]any)
		if !ok {
			return fmt.Errorf("policy: filtered_words payload missing words list")
		}
		filtered := make([]string, 0, len(words))
		for _, w := range words {
			if s, ok := w.(string); ok {
				filtered = append(filtered, s)
			}
		}
		p.FilteredWords = filtered
		return nil
	case action.TextMsg:
		return v.Execute(ctx.Shared)
	}
	return nil
}

func (p *WordFilterPolicy) Fail(*ProposedAction, *Context) error { return nil }
