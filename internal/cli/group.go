package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ame2e/mlsgov/internal/action"
	"github.com/ame2e/mlsgov/internal/mlscrypto"
	"github.com/ame2e/mlsgov/internal/wire"
)

var createCmd = &cobra.Command{
	Use:   "create <community/group> <name...>",
	Short: "Create a new group, seeding the caller as its first Mod",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCreate,
}

var inviteCmd = &cobra.Command{
	Use:   "invite <community/group> <user...>",
	Short: "Pre-authorise one or more users to later be added to the group",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runInvite,
}

var addCmd = &cobra.Command{
	Use:   "add <community/group> <user...>",
	Short: "Add pre-authorised invitees to the MLS group, issuing their Welcome",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runAdd,
}

var acceptCmd = &cobra.Command{
	Use:   "accept <community/group>",
	Short: "Finish bootstrapping governance state for a group whose Welcome has been consumed",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccept,
}

var declineCmd = &cobra.Command{
	Use:   "decline <community/group>",
	Short: "Decline a pending invite",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecline,
}

var leaveCmd = &cobra.Command{
	Use:   "leave <community/group>",
	Short: "Authorise the caller's own removal from the group",
	Args:  cobra.ExactArgs(1),
	RunE:  runLeave,
}

var kickCmd = &cobra.Command{
	Use:   "kick <community/group> <user>",
	Short: "Authorise a member's removal; a subsequent 'remove' performs it",
	Args:  cobra.ExactArgs(2),
	RunE:  runKick,
}

var removeCmd = &cobra.Command{
	Use:   "remove <community/group> <user>",
	Short: "Perform the MLS removal commit for a member already authorised to leave (Kick/Leave/Decline)",
	Args:  cobra.ExactArgs(2),
	RunE:  runRemove,
}

func init() {
	rootCmd.AddCommand(createCmd, inviteCmd, addCmd, acceptCmd, declineCmd, leaveCmd, kickCmd, removeCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	grp, err := parseCommGrp(args[0])
	if err != nil {
		return err
	}
	name := strings.Join(args[1:], " ")

	handle, err := mlscrypto.Create(grp, a.Config.Identity, a.Keys)
	if err != nil {
		return fmt.Errorf("cli: create MLS group: %w", err)
	}
	lg := a.Client.Store.StoreGroup(grp, handle, name)
	lg.Shared.RBAC.UserToRole[a.Config.Identity] = "Mod"
	hash, err := action.Hash(lg.Shared)
	if err != nil {
		return fmt.Errorf("cli: hash initial governance state: %w", err)
	}
	lg.GovStateInitHash = &hash

	printResult(lg.Shared, "created %s (%q), epoch=%d", grp, name, handle.Epoch())
	return nil
}

func runInvite(cmd *cobra.Command, args []string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	grp, err := parseCommGrp(args[0])
	if err != nil {
		return err
	}
	invitees := args[1:]

	lookupEnv, err := wire.Wrap(wire.TypeUserKeyPackageLookup, wire.UserKeyPackageLookup{QueriedUsers: invitees})
	if err != nil {
		return err
	}
	if err := a.ds.Send(lookupEnv); err != nil {
		return fmt.Errorf("cli: request key packages: %w", err)
	}
	reply, err := awaitReply(a.dsReplies)
	if err != nil {
		return err
	}
	var resp wire.DSKeyPackageResponse
	if err := wire.Unwrap(reply, &resp); err != nil {
		return err
	}

	keyPackages := make(map[string]wire.KeyPackage, len(invitees))
	for _, u := range invitees {
		if kps, ok := resp.KeyPackages[u]; ok && len(kps) > 0 {
			keyPackages[u] = kps[0]
		}
	}
	if len(keyPackages) == 0 {
		return fmt.Errorf("cli: none of %v has a published key package; ask them to 'sync' first", invitees)
	}

	notifications, err := runOrdered(a, grp, func() action.Action {
		return action.Invite{
			Metadata:    action.Metadata{Sender: a.Config.Identity, ActionID: newActionID(), CommunityGroupID: grp},
			Invitees:    invitees,
			KeyPackages: keyPackages,
		}
	})
	if err != nil {
		return err
	}
	for _, n := range notifications {
		printNotification(n)
	}
	printResult(keyPackages, "invited %v to %s", invitees, grp)
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	grp, err := parseCommGrp(args[0])
	if err != nil {
		return err
	}
	lg, ok := a.Client.Store.Get(grp)
	if !ok {
		return fmt.Errorf("cli: unknown group %s", grp)
	}

	// Each invitee is its own MLS commit, and the adapter holds only one
	// staged commit at a time, so they are added one at a time, each
	// sent and acknowledged before the next is staged.
	invites := make([]wire.UserInvite, 0, len(args)-1)
	for _, u := range args[1:] {
		kp, ok := lg.Shared.ToAddInvitees[u]
		if !ok {
			return fmt.Errorf("cli: %s was not pre-authorised by a prior invite", u)
		}

		send, invite, err := a.Client.AddInvitees(grp, u, kp, kp.InitPub)
		if err != nil {
			return err
		}
		res, err := sendReliable(a, send)
		if err != nil {
			return err
		}
		if !res.Ok {
			if _, err := a.Client.HandleDSResult(res); err != nil {
				return err
			}
			explanation := "add rejected"
			if res.Explanation != nil {
				explanation = *res.Explanation
			}
			return fmt.Errorf("cli: %s", explanation)
		}
		notifications, err := a.Client.HandleDSResult(res)
		if err != nil {
			return err
		}
		for _, n := range notifications {
			printNotification(n)
		}
		invites = append(invites, invite)
	}
	if err := sendInvites(a, invites); err != nil {
		return err
	}
	printResult(invites, "added %d member(s) to %s, epoch=%d", len(invites), grp, lg.MLS.Epoch())
	return nil
}

func runAccept(cmd *cobra.Command, args []string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	grp, err := parseCommGrp(args[0])
	if err != nil {
		return err
	}
	send, err := a.Client.Accept(grp)
	if err != nil {
		return err
	}
	if err := sendStandard(a, []wire.UserStandardSend{send}); err != nil {
		return err
	}
	printResult(nil, "accepted governance state for %s", grp)
	return nil
}

func runDecline(cmd *cobra.Command, args []string) error {
	return runSelfAuthorizedRemoval(cmd, args, func(sender string, grp wire.CommGroupId) action.Action {
		return action.Decline{Metadata: action.Metadata{Sender: sender, ActionID: newActionID(), CommunityGroupID: grp}}
	}, "declined")
}

func runLeave(cmd *cobra.Command, args []string) error {
	return runSelfAuthorizedRemoval(cmd, args, func(sender string, grp wire.CommGroupId) action.Action {
		return action.Leave{Metadata: action.Metadata{Sender: sender, ActionID: newActionID(), CommunityGroupID: grp}}
	}, "left")
}

func runSelfAuthorizedRemoval(cmd *cobra.Command, args []string, build func(sender string, grp wire.CommGroupId) action.Action, verb string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	grp, err := parseCommGrp(args[0])
	if err != nil {
		return err
	}
	notifications, err := runOrdered(a, grp, func() action.Action { return build(a.Config.Identity, grp) })
	if err != nil {
		return err
	}
	for _, n := range notifications {
		printNotification(n)
	}
	printResult(nil, "%s %s; another member's 'remove %s %s' completes the MLS removal", verb, grp, grp, a.Config.Identity)
	return nil
}

func runKick(cmd *cobra.Command, args []string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	grp, err := parseCommGrp(args[0])
	if err != nil {
		return err
	}
	target := args[1]
	notifications, err := runOrdered(a, grp, func() action.Action {
		return action.Kick{Metadata: action.Metadata{Sender: a.Config.Identity, ActionID: newActionID(), CommunityGroupID: grp}, Target: target}
	})
	if err != nil {
		return err
	}
	for _, n := range notifications {
		printNotification(n)
	}
	printResult(nil, "authorised removal of %s from %s", target, grp)
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	grp, err := parseCommGrp(args[0])
	if err != nil {
		return err
	}
	target := args[1]
	send, err := a.Client.RemoveOtherOrSelf(grp, target)
	if err != nil {
		return err
	}
	res, err := sendReliable(a, send)
	if err != nil {
		return err
	}
	if !res.Ok {
		if _, err := a.Client.HandleDSResult(res); err != nil {
			return err
		}
		explanation := "remove rejected"
		if res.Explanation != nil {
			explanation = *res.Explanation
		}
		return fmt.Errorf("cli: %s", explanation)
	}
	notifications, err := a.Client.HandleDSResult(res)
	if err != nil {
		return err
	}
	for _, n := range notifications {
		printNotification(n)
	}
	printResult(nil, "removed %s from %s", target, grp)
	return nil
}
