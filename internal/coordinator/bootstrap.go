package coordinator

import (
	"fmt"

	"github.com/ame2e/mlsgov/internal/action"
	"github.com/ame2e/mlsgov/internal/bootstrap"
	"github.com/ame2e/mlsgov/internal/clientstate"
	"github.com/ame2e/mlsgov/internal/wire"
)

// Accept drains a group's buffered pre-governance-state messages and, on
// success, emits the Accept action carrying the resulting governance
// state hash as an unordered application message.
func (c *Client) Accept(grp wire.CommGroupId) (wire.UserStandardSend, error) {
	lg, err := c.requireGroup(grp)
	if err != nil {
		return wire.UserStandardSend{}, err
	}

	accepted, err := bootstrap.Accept(lg, func(lg *clientstate.LocalGroupState, msg wire.GroupMessage) error {
		_, err := c.processGroupMessage(lg, msg)
		return err
	})
	if err != nil {
		return wire.UserStandardSend{}, fmt.Errorf("coordinator: accept: %w", err)
	}

	va, err := action.Sign(accepted, c.SigKey)
	if err != nil {
		return wire.UserStandardSend{}, err
	}
	upm := newTextAction(va)
	plaintext, err := upm.marshal()
	if err != nil {
		return wire.UserStandardSend{}, err
	}
	recordHistory(lg, accepted, true)
	groupMsg, err := lg.MLS.SealApplication(plaintext)
	if err != nil {
		return wire.UserStandardSend{}, err
	}
	return wire.UserStandardSend{Recipients: lg.MLS.ActiveMembers(), UserMsg: groupMsg}, nil
}
