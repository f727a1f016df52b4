package authsvc

import (
	"fmt"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/ame2e/mlsgov/internal/transport"
	"github.com/ame2e/mlsgov/internal/wire"
)

// Service dispatches one client's AS traffic against a shared Directory.
// Every connection is handled by its own goroutine with no locking of its
// own; the Directory itself is the only shared, mutex-protected state.
type Service struct {
	Dir *Directory
	Log zerolog.Logger
}

// NewService builds an AS service over dir.
func NewService(dir *Directory, logger zerolog.Logger) *Service {
	return &Service{Dir: dir, Log: logger.With().Str("component", "authsvc").Logger()}
}

// Serve drives one client connection until it disconnects or sends a
// malformed frame, at which point the connection is closed and the call
// returns.
func (s *Service) Serve(conn *transport.Conn) {
	defer conn.Close()
	for {
		env, err := conn.Recv()
		if err != nil {
			if !isCleanClose(err) {
				s.Log.Debug().Err(err).Msg("AS connection read error")
			}
			return
		}
		reply, err := s.dispatch(env)
		if err != nil {
			s.Log.Warn().Err(err).Str("msg_type", string(env.Type)).Msg("AS dispatch failed")
			continue
		}
		if err := conn.Send(reply); err != nil {
			s.Log.Debug().Err(err).Msg("AS connection write error")
			return
		}
	}
}

func (s *Service) dispatch(env wire.OnWireMessageWithMetaData) (wire.OnWireMessageWithMetaData, error) {
	switch env.Type {
	case wire.TypeUserRegisterForAS:
		var req wire.UserRegisterForAS
		if err := wire.Unwrap(env, &req); err != nil {
			return wire.OnWireMessageWithMetaData{}, err
		}
		s.Dir.Register(string(req.Credential.Identity), req.Credential)
		return wire.Wrap(wire.TypeASResult, wire.ASResult{Ok: true})

	case wire.TypeUserCredentialLookup:
		var req wire.UserCredentialLookup
		if err := wire.Unwrap(env, &req); err != nil {
			return wire.OnWireMessageWithMetaData{}, err
		}
		creds := s.Dir.Lookup(req.QueriedUsers)
		return wire.Wrap(wire.TypeASCredentialResponse, wire.ASCredentialResponse{Credentials: creds})

	case wire.TypeUserSyncCredentials:
		return wire.Wrap(wire.TypeASCredentialSyncResp, wire.ASCredentialSyncResponse{Credentials: s.Dir.All()})

	default:
		return wire.OnWireMessageWithMetaData{}, fmt.Errorf("authsvc: unhandled message type %q", env.Type)
	}
}

func isCleanClose(err error) bool {
	return !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure)
}
