package coordinator

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ame2e/mlsgov/internal/action"
	"github.com/ame2e/mlsgov/internal/clientstate"
	"github.com/ame2e/mlsgov/internal/mlscrypto"
	"github.com/ame2e/mlsgov/internal/mlserr"
	"github.com/ame2e/mlsgov/internal/policy"
	"github.com/ame2e/mlsgov/internal/rbac"
	"github.com/ame2e/mlsgov/internal/wire"
)

// VerifyKeyLookup resolves a user's published Ed25519 verification key,
// backed in practice by a synced Authentication Service credential cache.
type VerifyKeyLookup func(identity string) (ed25519.PublicKey, bool)

// Notification is a user-facing event the loop surfaces while processing
// inbound traffic (NewInvite, NewMsg, DSFeedback, ASFeedback and similar).
type Notification struct {
	Kind    string
	CommGrp wire.CommGroupId
	Detail  string
}

// Client drives one user's coordination loop over a single CommGroupId
// space. It is not safe for concurrent use: callers process one inbound
// or outbound event at a time, matching the single-threaded client model.
type Client struct {
	Identity  string
	SigKey    ed25519.PrivateKey
	Store     *clientstate.Store
	VerifyKey VerifyKeyLookup

	Log zerolog.Logger
}

// NewClient builds a coordination loop for identity, backed by store and
// verifyKey for resolving peers' signing keys.
func NewClient(identity string, sigKey ed25519.PrivateKey, store *clientstate.Store, verifyKey VerifyKeyLookup) *Client {
	return &Client{
		Identity:  identity,
		SigKey:    sigKey,
		Store:     store,
		VerifyKey: verifyKey,
		Log:       log.With().Str("component", "coordinator").Str("identity", identity).Logger(),
	}
}

// NewActionID generates a fresh action identifier for callers building an
// action.Metadata (the CLI layer, typically) before handing it to Send.
func NewActionID() string {
	return uuid.NewString()
}

func (c *Client) notify(kind string, grp wire.CommGroupId, detail string) Notification {
	c.Log.Debug().Str("kind", kind).Str("group", grp.String()).Msg(detail)
	return Notification{Kind: kind, CommGrp: grp, Detail: detail}
}

func (c *Client) requireGroup(grp wire.CommGroupId) (*clientstate.LocalGroupState, error) {
	lg, ok := c.Store.Get(grp)
	if !ok {
		return nil, fmt.Errorf("%w: unknown group %s", mlserr.ErrPrecondition, grp)
	}
	return lg, nil
}

func (c *Client) policyContext(lg *clientstate.LocalGroupState) *policy.Context {
	return &policy.Context{Shared: lg.Shared, Members: lg.MLS.ActiveMembers()}
}

// policyCheckAndExecute implements policy_check_and_execute: RBAC-
// authorised actions execute and merge immediately; everything else is
// handed to the policy engine, whose buffer is re-evaluated in full
// afterwards, and the commit merges either way since MLS membership and
// epoch progress are never gated by governance.
func (c *Client) policyCheckAndExecute(lg *clientstate.LocalGroupState, va action.VerifiableAction, opened *mlscrypto.Opened) error {
	if ann, ok := va.Action.(action.GovStateAnnouncement); ok {
		return c.applyGovStateAnnouncement(lg, ann, opened)
	}
	ctx := c.policyContext(lg)
	if rbac.ActionAuthorized(&lg.Shared.RBAC, va.Action.Meta().Sender, va.Action) {
		before, err := lg.Shared.Clone()
		if err != nil {
			return fmt.Errorf("coordinator: snapshot state before %s: %w", va.Action.Type(), err)
		}
		if err := va.Action.Execute(lg.Shared); err != nil {
			return fmt.Errorf("coordinator: execute %s: %w", va.Action.Type(), err)
		}
		lg.Audit.Record(va.Action, before, lg.Shared)
	} else {
		if err := lg.Policies.EvaluateAction(va, ctx); err != nil {
			return fmt.Errorf("coordinator: evaluate action: %w", err)
		}
		if err := lg.Policies.EvaluateAllProposedActions(ctx); err != nil {
			return fmt.Errorf("coordinator: evaluate proposed actions: %w", err)
		}
	}
	return c.mergeCommit(lg, opened)
}

// applyGovStateAnnouncement replicates a peer's view of the governance
// state unconditionally: RBAC and the policy engine never gate
// GovStateAnnouncement, since it is the replication mechanism governance
// itself depends on. The first announcement a group receives also seeds
// GovStateInitHash, unblocking Accept.
func (c *Client) applyGovStateAnnouncement(lg *clientstate.LocalGroupState, ann action.GovStateAnnouncement, opened *mlscrypto.Opened) error {
	before, err := lg.Shared.Clone()
	if err != nil {
		return fmt.Errorf("coordinator: snapshot state before gov state announcement: %w", err)
	}
	if err := ann.Execute(lg.Shared); err != nil {
		return fmt.Errorf("coordinator: apply gov state announcement: %w", err)
	}
	lg.Audit.Record(ann, before, lg.Shared)
	if lg.GovStateInitHash == nil {
		hash, err := action.Hash(lg.Shared)
		if err != nil {
			return fmt.Errorf("coordinator: hash gov state: %w", err)
		}
		lg.GovStateInitHash = &hash
	}
	return c.mergeCommit(lg, opened)
}

// mergeCommit applies the staged commit, if one was given, or the
// handle's own pending commit if it has one. Called with opened == nil
// and no pending commit outstanding (e.g. an inbound unordered TextMsg,
// which carries no commit at all), it is a no-op.
func (c *Client) mergeCommit(lg *clientstate.LocalGroupState, opened *mlscrypto.Opened) error {
	if opened != nil {
		if err := lg.MLS.MergeStaged(*opened); err != nil {
			return fmt.Errorf("coordinator: merge staged commit: %w", err)
		}
		return nil
	}
	if !lg.MLS.HasPendingStaged() {
		return nil
	}
	if err := lg.MLS.MergePending(); err != nil {
		return fmt.Errorf("coordinator: merge pending commit: %w", err)
	}
	return nil
}

// recordHistory adds a to the front of the group's history, except for
// TakedownTextMsg, whose effect is to remove its target from history
// rather than add an entry of its own.
func recordHistory(lg *clientstate.LocalGroupState, a action.Action, self bool) {
	if td, ok := a.(action.TakedownTextMsg); ok {
		lg.RemoveHistoryByActionID(td.TargetID)
		return
	}
	entry := clientstate.HistoryEntry{Action: a, ReceivedAt: time.Now()}
	if self {
		lg.StoreSelfSentMsg(entry)
	} else {
		lg.StoreReceivedMsg(entry)
	}
}
