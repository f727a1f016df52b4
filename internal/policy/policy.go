// Package policy implements the governance policy engine: a strictly
// ordered list of pluggable policies that filter, initialise, check,
// pass, and fail proposed governance actions, plus concrete reference
// policies.
//
// The engine is an arena that breaks the cyclic ClientState<->PolicyEngine
// reference: policies never hold a pointer back to the client. Instead
// every callback receives a Context built fresh by the caller (the
// coordination loop), carrying only the SharedGroupState to mutate and a
// snapshot of the current group roster.
package policy

import (
	"fmt"

	"github.com/ame2e/mlsgov/internal/action"
	"github.com/ame2e/mlsgov/internal/govstate"
)

// Status is a proposed action's evaluation state.
type Status string

const (
	StatusProposed Status = "PROPOSED"
	StatusPassed   Status = "PASSED"
	StatusFailed   Status = "FAILED"
)

// ProposedAction wraps a signed action with the policy that claimed it and
// its current evaluation status.
type ProposedAction struct {
	Action      action.VerifiableAction `json:"action"`
	PolicyIndex int                     `json:"policy_index"`
	Status      Status                  `json:"status"`
}

// Context is the per-call environment a policy callback operates in. It
// exists so policies never need a reference to the whole client.
type Context struct {
	Shared  *govstate.SharedGroupState
	Members []string
}

// Policy is the pluggable unit of governance logic. Implementations may
// hold mutable per-proposal state (e.g. open polls); since the containing
// client is single-threaded, no locking is required.
type Policy interface {
	// Name identifies the policy for logs and serialisation.
	Name() string
	// Filter reports whether this policy claims a.
	Filter(a action.Action) bool
	// Init runs once, the first time a proposed action is claimed.
	Init(pa *ProposedAction, ctx *Context)
	// Check (re-)evaluates a proposed action, returning its new status.
	Check(pa *ProposedAction, ctx *Context) Status
	// Pass runs once when a proposed action transitions to PASSED. It is
	// responsible for calling Action.Execute if the action should take
	// effect.
	Pass(pa *ProposedAction, ctx *Context) error
	// Fail runs once when a proposed action transitions to FAILED.
	Fail(pa *ProposedAction, ctx *Context) error
}

// Engine holds the ordered policy list and the buffer of proposed actions
// still awaiting a terminal status.
type Engine struct {
	Policies []Policy
	Proposed []*ProposedAction
}

// NewEngine builds an engine over the given policies, evaluated in order.
func NewEngine(policies ...Policy) *Engine {
	return &Engine{Policies: policies}
}

// EvaluateAction is the entry point for a freshly arrived action that RBAC
// did not authorise outright.
func (e *Engine) EvaluateAction(va action.VerifiableAction, ctx *Context) error {
	idx := -1
	for i, p := range e.Policies {
		if p.Filter(va.Action) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil // no policy claims it; drop silently
	}
	pa := &ProposedAction{Action: va, PolicyIndex: idx, Status: StatusProposed}
	p := e.Policies[idx]
	p.Init(pa, ctx)
	pa.Status = p.Check(pa, ctx)
	return e.dispatch(p, pa, ctx)
}

// EvaluateAllProposedActions re-runs Check on every retained entry and
// purges those that reach a terminal status.
func (e *Engine) EvaluateAllProposedActions(ctx *Context) error {
	remaining := e.Proposed[:0]
	for _, pa := range e.Proposed {
		p := e.Policies[pa.PolicyIndex]
		pa.Status = p.Check(pa, ctx)
		if pa.Status == StatusProposed {
			remaining = append(remaining, pa)
			continue
		}
		if err := e.dispatchTerminal(p, pa, ctx); err != nil {
			return err
		}
	}
	e.Proposed = remaining
	return nil
}

func (e *Engine) dispatch(p Policy, pa *ProposedAction, ctx *Context) error {
	switch pa.Status {
	case StatusPassed:
		return p.Pass(pa, ctx)
	case StatusFailed:
		return p.Fail(pa, ctx)
	default:
		e.Proposed = append(e.Proposed, pa)
		return nil
	}
}

func (e *Engine) dispatchTerminal(p Policy, pa *ProposedAction, ctx *Context) error {
	switch pa.Status {
	case StatusPassed:
		return p.Pass(pa, ctx)
	case StatusFailed:
		return p.Fail(pa, ctx)
	default:
		return fmt.Errorf("policy: dispatchTerminal called on non-terminal status %q", pa.Status)
	}
}
