// Package cli implements the mlsgov-client command-line interface using
// Cobra: one session per daemon run, with every subcommand dispatching
// against the single live app instance daemon.go builds at startup.
package cli

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ame2e/mlsgov/internal/clientstate"
	"github.com/ame2e/mlsgov/internal/config"
	"github.com/ame2e/mlsgov/internal/coordinator"
	"github.com/ame2e/mlsgov/internal/mlscrypto"
	"github.com/ame2e/mlsgov/internal/storage"
	"github.com/ame2e/mlsgov/internal/transport"
	"github.com/ame2e/mlsgov/internal/wire"
)

// replyTimeout bounds how long a one-shot command waits for its AS/DS
// response before reporting a retry, independent of cfg.RetryBudget's
// count of full send attempts.
const replyTimeout = 10 * time.Second

// app is the live session every subcommand dispatches against: one
// identity, one AS/DS connection pair, and the in-memory client state
// store, held for the daemon process's lifetime.
type app struct {
	Config config.ClientConfig
	Keys   mlscrypto.MemberKeys
	Client *coordinator.Client
	Paths  storage.Paths

	as *transport.Conn
	ds *transport.Conn

	asReplies chan wire.OnWireMessageWithMetaData
	dsReplies chan wire.OnWireMessageWithMetaData

	rosterMu sync.Mutex
	roster   map[string]ed25519.PublicKey

	log zerolog.Logger
}

// current is the one app instance a running daemon installs; every
// subcommand's RunE reads it fresh, so cobra's normal per-invocation
// command tree works unmodified inside the REPL loop.
var current *app

func requireApp() (*app, error) {
	if current == nil {
		return nil, fmt.Errorf("cli: no active session; run 'daemon' first")
	}
	return current, nil
}

// newApp resolves identity keys, dials the AS and DS, and builds the
// coordination client, but does not register or sync anything: those are
// explicit subcommands, matching the CLI surface's own Register/Sync
// entries.
func newApp(ctx context.Context, cfg config.ClientConfig, logger zerolog.Logger) (*app, error) {
	paths := storage.Paths{Root: cfg.StateDir}
	keys, err := loadOrCreateKeys(paths)
	if err != nil {
		return nil, fmt.Errorf("cli: load identity: %w", err)
	}

	asConn, err := transport.Dial(ctx, cfg.ASEndpoint, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("cli: dial AS at %s: %w", cfg.ASEndpoint, err)
	}
	dsConn, err := transport.Dial(ctx, cfg.DSEndpoint, http.Header{})
	if err != nil {
		asConn.Close()
		return nil, fmt.Errorf("cli: dial DS at %s: %w", cfg.DSEndpoint, err)
	}

	roster := map[string]ed25519.PublicKey{}
	if !flagFreshStart {
		roster = storage.ReadRosterCache(paths)
	}

	a := &app{
		Config:    cfg,
		Keys:      keys,
		Paths:     paths,
		as:        asConn,
		ds:        dsConn,
		asReplies: make(chan wire.OnWireMessageWithMetaData, 1),
		dsReplies: make(chan wire.OnWireMessageWithMetaData, 1),
		roster:    roster,
		log:       logger.With().Str("identity", cfg.Identity).Logger(),
	}
	store := clientstate.NewStore()
	a.Client = coordinator.NewClient(cfg.Identity, keys.SigPriv, store, a.lookupVerifyKey)

	go a.readLoop(a.as, a.asReplies, a.dispatchASPush)
	go a.readLoop(a.ds, a.dsReplies, a.dispatchDSPush)
	return a, nil
}

func (a *app) lookupVerifyKey(identity string) (ed25519.PublicKey, bool) {
	a.rosterMu.Lock()
	defer a.rosterMu.Unlock()
	key, ok := a.roster[identity]
	return key, ok
}

func (a *app) storeVerifyKey(identity string, key ed25519.PublicKey) {
	a.rosterMu.Lock()
	a.roster[identity] = key
	a.rosterMu.Unlock()
}

func (a *app) persistRoster() {
	if flagSkipStore {
		return
	}
	a.rosterMu.Lock()
	snapshot := make(map[string]ed25519.PublicKey, len(a.roster))
	for id, key := range a.roster {
		snapshot[id] = key
	}
	a.rosterMu.Unlock()
	if err := storage.WriteRosterCache(a.Paths, snapshot); err != nil {
		a.log.Warn().Err(err).Msg("failed to persist roster cache")
	}
}

func (a *app) Close() {
	if a.as != nil {
		a.as.Close()
	}
	if a.ds != nil {
		a.ds.Close()
	}
}

// readLoop drains one connection forever, handing reply-shaped frames to
// replies (buffered 1, since the CLI only ever has one request in flight
// at a time) and everything else to push.
func (a *app) readLoop(conn *transport.Conn, replies chan wire.OnWireMessageWithMetaData, push func(wire.OnWireMessageWithMetaData)) {
	for {
		env, err := conn.Recv()
		if err != nil {
			return
		}
		switch env.Type {
		case wire.TypeASResult, wire.TypeASCredentialResponse, wire.TypeASCredentialSyncResp,
			wire.TypeDSResult, wire.TypeDSKeyPackageResponse:
			replies <- env
		default:
			push(env)
		}
	}
}

// awaitReply blocks for the one outstanding request's reply, or reports a
// timeout the caller surfaces as a retryable failure.
func awaitReply(replies chan wire.OnWireMessageWithMetaData) (wire.OnWireMessageWithMetaData, error) {
	select {
	case env := <-replies:
		return env, nil
	case <-time.After(replyTimeout):
		return wire.OnWireMessageWithMetaData{}, fmt.Errorf("cli: timed out waiting for a response")
	}
}
