package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ame2e/mlsgov/internal/action"
	"github.com/ame2e/mlsgov/internal/coordinator"
	"github.com/ame2e/mlsgov/internal/mlserr"
	"github.com/ame2e/mlsgov/internal/wire"
)

// newActionID generates a fresh action identifier for a Metadata the CLI
// layer is about to build.
func newActionID() string {
	return coordinator.NewActionID()
}

// parseCommGrp splits a "community/group" identifier as used throughout
// the CLI surface wherever a command names a group.
func parseCommGrp(raw string) (wire.CommGroupId, error) {
	parts := strings.SplitN(raw, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return wire.CommGroupId{}, fmt.Errorf("cli: %q is not a community/group identifier", raw)
	}
	return wire.CommGroupId{CommunityID: parts[0], GroupID: parts[1]}, nil
}

// printResult renders v as JSON when --json is set, otherwise as msg
// formatted with args.
func printResult(v any, msg string, args ...any) {
	if flagJSON {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Println(err)
			return
		}
		fmt.Println(string(data))
		return
	}
	fmt.Printf(msg+"\n", args...)
}

// sendInvites ships every UserInvite fire-and-forget: the DS never
// replies to an invite directly, delivery is a push to the invitee.
func sendInvites(a *app, invites []wire.UserInvite) error {
	for _, inv := range invites {
		env, err := wire.Wrap(wire.TypeUserInvite, inv)
		if err != nil {
			return err
		}
		if err := a.ds.Send(env); err != nil {
			return fmt.Errorf("cli: send invite: %w", err)
		}
	}
	return nil
}

// sendStandard ships every UserStandardSend fire-and-forget: unordered
// application traffic is never acknowledged by the DS.
func sendStandard(a *app, sends []wire.UserStandardSend) error {
	for _, s := range sends {
		env, err := wire.Wrap(wire.TypeUserStandardSend, s)
		if err != nil {
			return err
		}
		if err := a.ds.Send(env); err != nil {
			return fmt.Errorf("cli: send standard message: %w", err)
		}
	}
	return nil
}

// sendReliable ships one ordered send and blocks for its DSResult. It
// never retries on its own and rolls nothing back: the caller passes the
// result to HandleDSResult, which clears a rejected commit, and resending
// the identical ciphertext would only lose the race again.
func sendReliable(a *app, r wire.UserReliableSend) (wire.DSResult, error) {
	env, err := wire.Wrap(wire.TypeUserReliableSend, r)
	if err != nil {
		return wire.DSResult{}, err
	}
	if err := a.ds.Send(env); err != nil {
		return wire.DSResult{}, fmt.Errorf("cli: send reliable message: %w", err)
	}
	reply, err := awaitReply(a.dsReplies)
	if err != nil {
		return wire.DSResult{}, err
	}
	var res wire.DSResult
	if err := wire.Unwrap(reply, &res); err != nil {
		return wire.DSResult{}, err
	}
	return res, nil
}

// runOrdered builds, signs, submits, and locally applies one ordered
// action against grp. On a lost race it rolls back via HandleDSResult
// (clearing the pending commit and popping the pending-action slot, per
// the rollback rule) and, under --auto-retry, rebuilds the action fresh
// against whatever epoch the retry lands on and tries again up to the
// configured retry budget; a race that keeps losing surfaces
// mlserr.ErrMaxRetries, this CLI's one source of a non-zero exit on an
// otherwise well-formed request.
func runOrdered(a *app, grp wire.CommGroupId, build func() action.Action) ([]coordinator.Notification, error) {
	attempts := 1
	if flagAutoRetry {
		attempts = a.Config.RetryBudget
	}
	var last error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * 200 * time.Millisecond
			if delay > flagMaxDelay {
				delay = flagMaxDelay
			}
			time.Sleep(delay)
		}
		out, err := a.Client.Send(grp, build())
		if err != nil {
			return nil, err
		}
		if out.Reliable == nil {
			return nil, fmt.Errorf("cli: expected an ordered send")
		}
		res, err := sendReliable(a, *out.Reliable)
		if err != nil {
			return nil, err
		}
		notifications, err := a.Client.HandleDSResult(res)
		if err != nil {
			return nil, err
		}
		if res.Ok {
			return notifications, nil
		}
		last = fmt.Errorf("cli: rejected: %v", res.Explanation)
	}
	if last == nil {
		last = mlserr.ErrMaxRetries
	}
	return nil, fmt.Errorf("%w: %v", mlserr.ErrMaxRetries, last)
}
