package cli

import (
	"fmt"

	"github.com/ame2e/mlsgov/internal/coordinator"
	"github.com/ame2e/mlsgov/internal/wire"
)

// dispatchDSPush handles an unsolicited DS frame: a welcome for a new
// invite, or a relayed application/commit message for a group already
// joined. Notifications are printed directly since nothing in the REPL
// loop is waiting on these.
func (a *app) dispatchDSPush(env wire.OnWireMessageWithMetaData) {
	switch env.Type {
	case wire.TypeDSRelayedUserWelcome:
		var msg wire.DSRelayedUserWelcome
		if err := wire.Unwrap(env, &msg); err != nil {
			a.log.Warn().Err(err).Msg("malformed welcome push")
			return
		}
		n, err := a.Client.HandleWelcome(msg, a.Keys)
		if err != nil {
			a.log.Warn().Err(err).Msg("failed to process welcome")
			return
		}
		printNotification(n)

	case wire.TypeDSRelayedUserMsg:
		var msg wire.DSRelayedUserMsg
		if err := wire.Unwrap(env, &msg); err != nil {
			a.log.Warn().Err(err).Msg("malformed relayed message push")
			return
		}
		notifications, err := a.Client.HandleRelayedMsg(msg)
		if err != nil {
			a.log.Warn().Err(err).Msg("failed to process relayed message")
			return
		}
		for _, n := range notifications {
			printNotification(n)
		}

	default:
		a.log.Warn().Str("type", string(env.Type)).Msg("unexpected DS push")
	}
}

// dispatchASPush handles an unsolicited AS frame. Every AS message type is
// reply-shaped in practice (the AS never pushes unprompted), so this only
// guards against a future/unexpected message type reaching here instead
// of awaitReply.
func (a *app) dispatchASPush(env wire.OnWireMessageWithMetaData) {
	a.log.Warn().Str("type", string(env.Type)).Msg("unexpected AS push")
}

func printNotification(n coordinator.Notification) {
	fmt.Printf("[%s] %s: %s\n", n.CommGrp, n.Kind, n.Detail)
}
