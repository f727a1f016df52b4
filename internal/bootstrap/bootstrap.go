// Package bootstrap implements Accept: replaying the application
// messages buffered before a group's governance state existed, so a
// freshly joined member ends up with the same replicated state as the
// rest of the group.
package bootstrap

import (
	"fmt"

	"github.com/ame2e/mlsgov/internal/action"
	"github.com/ame2e/mlsgov/internal/clientstate"
	"github.com/ame2e/mlsgov/internal/mlserr"
	"github.com/ame2e/mlsgov/internal/wire"
)

// GroupMessageProcessor is the subset of the coordinator's inbound
// processing Accept needs to replay a buffered message, kept as a
// function value rather than an import to avoid bootstrap depending on
// coordinator (which itself may grow to depend on bootstrap).
type GroupMessageProcessor func(lg *clientstate.LocalGroupState, msg wire.GroupMessage) error

// Accept locates the group's welcome epoch, replays every
// application-only message buffered at that epoch first (these carry the
// GovStateAnnouncement that seeds governance state), then the remainder
// once state exists. It fails with ErrNoGovState if no announcement
// arrives, re-buffering everything so a later retry can pick up where
// this attempt left off.
func Accept(lg *clientstate.LocalGroupState, process GroupMessageProcessor) (action.Accept, error) {
	welcomeEpoch := lg.MLS.Epoch()
	buffered := lg.PopUnprocessedMsgs()

	var firstPass, secondPass []wire.GroupMessage
	for _, msg := range buffered {
		if !msg.Handshake && msg.Epoch == welcomeEpoch {
			firstPass = append(firstPass, msg)
		} else {
			secondPass = append(secondPass, msg)
		}
	}

	for _, msg := range firstPass {
		if err := process(lg, msg); err != nil {
			return action.Accept{}, fmt.Errorf("bootstrap: replay gov-state announcement: %w", err)
		}
	}

	if lg.GovStateInitHash == nil {
		for _, msg := range buffered {
			lg.StoreUnprocessedMsg(msg)
		}
		return action.Accept{}, fmt.Errorf("%w: no governance state announcement found", mlserr.ErrNoGovState)
	}

	for _, msg := range secondPass {
		if err := process(lg, msg); err != nil {
			return action.Accept{}, fmt.Errorf("bootstrap: replay buffered message: %w", err)
		}
	}

	return action.Accept{ReceivedGovStateHash: *lg.GovStateInitHash}, nil
}
