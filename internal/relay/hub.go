package relay

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ame2e/mlsgov/internal/transport"
	"github.com/ame2e/mlsgov/internal/wire"
)

// Hub tracks which identity owns which live connection, for pushing
// deliveries as soon as a recipient is online instead of waiting on the
// next UserSync. An identity is bound to a connection lazily, the first
// time that connection sends a message naming its own identity (an
// accepted UserSync's User, or the Sender of a UserInvite or
// UserReliableSend); UserKeyPackagesForDS is anonymous and binds nothing
// by itself.
type Hub struct {
	Store *Store
	Log   zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*transport.Conn
}

// NewHub builds a Hub over store.
func NewHub(store *Store, logger zerolog.Logger) *Hub {
	return &Hub{
		Store:   store,
		Log:     logger.With().Str("component", "relay").Logger(),
		clients: map[string]*transport.Conn{},
	}
}

func (h *Hub) bind(identity string, conn *transport.Conn) {
	h.mu.Lock()
	h.clients[identity] = conn
	h.mu.Unlock()
}

func (h *Hub) unbind(identity string) {
	h.mu.Lock()
	delete(h.clients, identity)
	h.mu.Unlock()
}

func (h *Hub) connFor(identity string) (*transport.Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[identity]
	return c, ok
}

// push delivers env to identity immediately if it has a live connection,
// and reports whether it did.
func (h *Hub) push(identity string, env wire.OnWireMessageWithMetaData) bool {
	conn, ok := h.connFor(identity)
	if !ok {
		return false
	}
	if err := conn.Send(env); err != nil {
		h.Log.Debug().Err(err).Str("identity", identity).Msg("push delivery failed")
		return false
	}
	return true
}

// Serve drives one connection's request/response loop until it
// disconnects. identity is bound as soon as a message reveals it.
func (h *Hub) Serve(conn *transport.Conn) {
	var identity string
	defer func() {
		if identity != "" {
			h.unbind(identity)
		}
		conn.Close()
	}()

	for {
		env, err := conn.Recv()
		if err != nil {
			return
		}
		sender, reply, err := h.dispatch(conn, env)
		if err != nil {
			h.Log.Warn().Err(err).Str("msg_type", string(env.Type)).Msg("relay dispatch failed")
			continue
		}
		if sender != "" && sender != identity {
			identity = sender
			h.bind(identity, conn)
		}
		if reply != nil {
			if err := conn.Send(*reply); err != nil {
				return
			}
		}
	}
}

// dispatch handles one inbound frame, returning the identity it revealed
// (if any) and the direct reply to send back to the submitter (if any);
// deliveries to other recipients are pushed or enqueued as a side effect.
func (h *Hub) dispatch(conn *transport.Conn, env wire.OnWireMessageWithMetaData) (identity string, reply *wire.OnWireMessageWithMetaData, err error) {
	switch env.Type {
	case wire.TypeUserSync:
		var req wire.UserSync
		if err := wire.Unwrap(env, &req); err != nil {
			return "", nil, err
		}
		if len(req.NewKeyPackages) == 0 && !h.Store.IsKnownUser(req.User) {
			explanation := "Unknown user"
			env, err := wire.Wrap(wire.TypeDSResult, wire.DSResult{Ok: false, Explanation: &explanation})
			if err != nil {
				return "", nil, err
			}
			return "", &env, nil
		}
		h.Store.StoreKeyPackages(req.User, req.NewKeyPackages)
		h.Store.RegisterUser(req.User)
		h.catchUp(conn, req.User)
		env, err := wire.Wrap(wire.TypeDSResult, wire.DSResult{Ok: true})
		if err != nil {
			return "", nil, err
		}
		return req.User, &env, nil

	case wire.TypeUserReliableSend:
		var req wire.UserReliableSend
		if err := wire.Unwrap(env, &req); err != nil {
			return "", nil, err
		}
		preceding, ok := h.Store.SubmitOrdered(req.UserMsg.CommGrp, req.UserMsg)
		if ok {
			for _, recipient := range req.Recipients {
				h.deliverOrdered(recipient, req.UserMsg)
			}
		}
		reply, err := wire.Wrap(wire.TypeDSResult, wire.DSResult{
			Ok:                          ok,
			Identifier:                  &req.UserMsg.CommGrp,
			PrecedingAndSentOrderedMsgs: preceding,
		})
		if err != nil {
			return "", nil, err
		}
		return req.Sender, &reply, nil

	case wire.TypeUserStandardSend:
		var req wire.UserStandardSend
		if err := wire.Unwrap(env, &req); err != nil {
			return "", nil, err
		}
		for _, recipient := range req.Recipients {
			h.deliverUnordered(recipient, req.UserMsg)
		}
		return "", nil, nil

	case wire.TypeUserInvite:
		var req wire.UserInvite
		if err := wire.Unwrap(env, &req); err != nil {
			return "", nil, err
		}
		for _, invitee := range req.Invitees {
			w := wire.DSRelayedUserWelcome{CommGrp: req.CommGrp, Sender: req.Sender, Welcome: req.Welcome}
			if !h.pushWelcome(invitee, w) {
				h.Store.EnqueueWelcome(invitee, w)
			}
		}
		return req.Sender, nil, nil

	case wire.TypeUserKeyPackagesForDS:
		var req wire.UserKeyPackagesForDS
		if err := wire.Unwrap(env, &req); err != nil {
			return "", nil, err
		}
		for _, kp := range req.KeyPackages {
			h.Store.StoreKeyPackages(string(kp.Identity), []wire.KeyPackage{kp})
			h.Store.RegisterUser(string(kp.Identity))
		}
		return "", nil, nil

	case wire.TypeUserKeyPackageLookup:
		var req wire.UserKeyPackageLookup
		if err := wire.Unwrap(env, &req); err != nil {
			return "", nil, err
		}
		out := make(map[string][]wire.KeyPackage, len(req.QueriedUsers))
		for _, user := range req.QueriedUsers {
			if kp, ok := h.Store.TakeKeyPackage(user); ok {
				out[user] = []wire.KeyPackage{kp}
			}
		}
		reply, err := wire.Wrap(wire.TypeDSKeyPackageResponse, wire.DSKeyPackageResponse{KeyPackages: out})
		if err != nil {
			return "", nil, err
		}
		return "", &reply, nil

	default:
		return "", nil, fmt.Errorf("relay: unhandled message type %q", env.Type)
	}
}

// deliverOrdered pushes an accepted commit to recipient if they are
// online; for an offline recipient it is buffered in their mailbox, in
// acceptance order, and flushed on their next UserSync.
func (h *Hub) deliverOrdered(recipient string, msg wire.GroupMessage) {
	relayed := wire.DSRelayedUserMsg{UserMsg: msg}
	env, err := wire.Wrap(wire.TypeDSRelayedUserMsg, relayed)
	if err != nil {
		h.Log.Error().Err(err).Msg("failed to wrap ordered delivery")
		return
	}
	if !h.push(recipient, env) {
		h.Store.Enqueue(recipient, relayed)
	}
}

// deliverUnordered pushes msg to recipient if online, or buffers it for
// exactly-once delivery on their next sync otherwise.
func (h *Hub) deliverUnordered(recipient string, msg wire.GroupMessage) {
	relayed := wire.DSRelayedUserMsg{UserMsg: msg}
	env, err := wire.Wrap(wire.TypeDSRelayedUserMsg, relayed)
	if err != nil {
		h.Log.Error().Err(err).Msg("failed to wrap unordered delivery")
		return
	}
	if !h.push(recipient, env) {
		h.Store.Enqueue(recipient, relayed)
	}
}

// pushWelcome attempts immediate delivery of a welcome, returning whether
// it was delivered.
func (h *Hub) pushWelcome(invitee string, w wire.DSRelayedUserWelcome) bool {
	env, err := wire.Wrap(wire.TypeDSRelayedUserWelcome, w)
	if err != nil {
		h.Log.Error().Err(err).Msg("failed to wrap welcome delivery")
		return false
	}
	return h.push(invitee, env)
}

// catchUp flushes everything buffered for user directly over conn: it
// runs before the Hub has bound conn to user's identity (that happens
// once dispatch returns), so delivery can't go through the by-identity
// push path yet.
func (h *Hub) catchUp(conn *transport.Conn, user string) {
	for _, w := range h.Store.DrainWelcomes(user) {
		env, err := wire.Wrap(wire.TypeDSRelayedUserWelcome, w)
		if err != nil {
			continue
		}
		_ = conn.Send(env)
	}
	for _, m := range h.Store.DrainMailbox(user) {
		env, err := wire.Wrap(wire.TypeDSRelayedUserMsg, m)
		if err != nil {
			continue
		}
		_ = conn.Send(env)
	}
}
