// Package coordinator implements the client's single-threaded
// parse-dispatch loop: turning outbound intents into MLS commits and
// application ciphertexts, and turning inbound DS traffic back into
// applied governance actions.
package coordinator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ame2e/mlsgov/internal/action"
)

type unorderedKind string

const (
	kindTextAction     unorderedKind = "TextAction"
	kindProposedAction unorderedKind = "ProposedAction"
)

// unorderedPrivateMessage is the plaintext carried inside an application
// (non-handshake) GroupMessage: a signed action requiring verification and
// execution, or a signed proposed vote awaiting a later batch commit. Every
// unordered payload carries a signature; nothing in this coordination loop
// executes governance effects against an unauthenticated action.
type unorderedPrivateMessage struct {
	Kind      unorderedKind            `json:"kind"`
	Signed    *action.VerifiableAction `json:"signed,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}

func newTextAction(va action.VerifiableAction) unorderedPrivateMessage {
	return unorderedPrivateMessage{Kind: kindTextAction, Signed: &va, Timestamp: time.Now()}
}

func newProposedAction(va action.VerifiableAction) unorderedPrivateMessage {
	return unorderedPrivateMessage{Kind: kindProposedAction, Signed: &va, Timestamp: time.Now()}
}

type unorderedWire struct {
	Kind      unorderedKind   `json:"kind"`
	Signed    json.RawMessage `json:"signed,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (m unorderedPrivateMessage) marshal() ([]byte, error) {
	w := unorderedWire{Kind: m.Kind, Timestamp: m.Timestamp}
	if m.Signed != nil {
		raw, err := json.Marshal(m.Signed)
		if err != nil {
			return nil, fmt.Errorf("coordinator: marshal signed action: %w", err)
		}
		w.Signed = raw
	}
	return json.Marshal(w)
}

func unmarshalUnorderedPrivateMessage(data []byte) (unorderedPrivateMessage, error) {
	var w unorderedWire
	if err := json.Unmarshal(data, &w); err != nil {
		return unorderedPrivateMessage{}, fmt.Errorf("coordinator: unmarshal unordered payload: %w", err)
	}
	out := unorderedPrivateMessage{Kind: w.Kind, Timestamp: w.Timestamp}
	switch w.Kind {
	case kindTextAction, kindProposedAction:
		var va action.VerifiableAction
		if err := json.Unmarshal(w.Signed, &va); err != nil {
			return unorderedPrivateMessage{}, fmt.Errorf("coordinator: unmarshal signed action: %w", err)
		}
		out.Signed = &va
	default:
		return unorderedPrivateMessage{}, fmt.Errorf("coordinator: unknown unordered payload kind %q", w.Kind)
	}
	return out, nil
}
