package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ame2e/mlsgov/internal/action"
)

var sendCmd = &cobra.Command{
	Use:   "send <community/group> <body...>",
	Short: "Send a plaintext group message (TextMsg, unordered)",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSend,
}

var readCmd = &cobra.Command{
	Use:   "read <community/group> [unread|all|N]",
	Short: "Print this group's local history: unread-only, all of it, or the last N entries (default --window-size)",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runRead,
}

var setRoleCmd = &cobra.Command{
	Use:   "setrole <community/group> <user> <role>",
	Short: "Assign a role to a user (ordered, RBAC-gated)",
	Args:  cobra.ExactArgs(3),
	RunE:  runSetRole,
}

var renameCmd = &cobra.Command{
	Use:   "rename <community/group> <new name...>",
	Short: "Change the group's display name (ordered, RBAC-gated)",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runRename,
}

var topicCmd = &cobra.Command{
	Use:   "topic <community/group> <new topic...>",
	Short: "Change the group's topic (ordered, RBAC-gated)",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runTopic,
}

var updateGroupStateCmd = &cobra.Command{
	Use:   "updategroupstate <community/group>",
	Short: "Broadcast the caller's current view of governance state to the rest of the group",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpdateGroupState,
}

var showGroupStateCmd = &cobra.Command{
	Use:   "showgroupstate <community/group>",
	Short: "Print the caller's local view of a group's replicated governance state",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowGroupState,
}

var defRoleCmd = &cobra.Command{
	Use:   "defrole <community/group> <role> <action-type...>",
	Short: "Declare or redefine a role's permitted action types (ordered, RBAC-gated)",
	Args:  cobra.MinimumNArgs(3),
	RunE:  runDefRole,
}

var reportCmd = &cobra.Command{
	Use:   "report <community/group> <target> <reason...>",
	Short: "Flag a message or user for moderator attention (unordered)",
	Args:  cobra.MinimumNArgs(3),
	RunE:  runReport,
}

var customCmd = &cobra.Command{
	Use:   "custom <community/group> <kind> <key=value...>",
	Short: "Send a free-form action interpreted entirely by whichever policy filters it (ordered)",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runCustom,
}

var takedownTextCmd = &cobra.Command{
	Use:   "takedowntext <community/group> <target-action-id>",
	Short: "Retract a previously sent TextMsg by its action id (unordered)",
	Args:  cobra.ExactArgs(2),
	RunE:  runTakedownText,
}

func init() {
	rootCmd.AddCommand(sendCmd, readCmd, setRoleCmd, renameCmd, topicCmd,
		updateGroupStateCmd, showGroupStateCmd, defRoleCmd, reportCmd, customCmd, takedownTextCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	grp, err := parseCommGrp(args[0])
	if err != nil {
		return err
	}
	body := strings.Join(args[1:], " ")
	out, err := a.Client.Send(grp, action.TextMsg{
		Metadata: action.Metadata{Sender: a.Config.Identity, ActionID: newActionID(), CommunityGroupID: grp},
		Body:     body,
	})
	if err != nil {
		return err
	}
	if err := sendStandard(a, out.Standard); err != nil {
		return err
	}
	printResult(nil, "sent to %s: %s", grp, body)
	return nil
}

func runRead(cmd *cobra.Command, args []string) error {
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

	mode := "last"
	n := flagWindowSize
	if len(args) == 2 {
		switch args[1] {
		case "unread":
			mode = "unread"
		case "all":
			mode = "all"
		default:
			parsed, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("cli: %q is neither 'unread', 'all', nor a count", args[1])
			}
			n = parsed
		}
	}

	entries := lg.History
	switch mode {
	case "unread":
		if lg.UnreadCount < len(entries) {
			entries = entries[:lg.UnreadCount]
		}
	case "all":
	default:
		if n < len(entries) {
			entries = entries[:n]
		}
	}

	for i := len(entries) - 1; i >= 0; i-- {
		h := entries[i]
		meta := h.Action.Meta()
		fmt.Printf("[%s] %s (%s): %+v\n", h.ReceivedAt.Format("15:04:05"), meta.Sender, h.Action.Type(), h.Action)
	}
	lg.UnreadCount = 0
	return nil
}

func runSetRole(cmd *cobra.Command, args []string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	grp, err := parseCommGrp(args[0])
	if err != nil {
		return err
	}
	user, role := args[1], args[2]
	notifications, err := runOrdered(a, grp, func() action.Action {
		return action.SetUserRole{
			Metadata: action.Metadata{Sender: a.Config.Identity, ActionID: newActionID(), CommunityGroupID: grp},
			User:     user,
			Role:     role,
		}
	})
	if err != nil {
		return err
	}
	for _, n := range notifications {
		printNotification(n)
	}
	printResult(nil, "set %s's role to %s in %s", user, role, grp)
	return nil
}

func runRename(cmd *cobra.Command, args []string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	grp, err := parseCommGrp(args[0])
	if err != nil {
		return err
	}
	newName := strings.Join(args[1:], " ")
	notifications, err := runOrdered(a, grp, func() action.Action {
		return action.RenameGroup{
			Metadata: action.Metadata{Sender: a.Config.Identity, ActionID: newActionID(), CommunityGroupID: grp},
			NewName:  newName,
		}
	})
	if err != nil {
		return err
	}
	for _, n := range notifications {
		printNotification(n)
	}
	printResult(nil, "proposed/applied rename of %s to %q", grp, newName)
	return nil
}

func runTopic(cmd *cobra.Command, args []string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	grp, err := parseCommGrp(args[0])
	if err != nil {
		return err
	}
	newTopic := strings.Join(args[1:], " ")
	notifications, err := runOrdered(a, grp, func() action.Action {
		return action.SetTopicGroup{
			Metadata: action.Metadata{Sender: a.Config.Identity, ActionID: newActionID(), CommunityGroupID: grp},
			NewTopic: newTopic,
		}
	})
	if err != nil {
		return err
	}
	for _, n := range notifications {
		printNotification(n)
	}
	printResult(nil, "set topic of %s to %q", grp, newTopic)
	return nil
}

func runUpdateGroupState(cmd *cobra.Command, args []string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	grp, err := parseCommGrp(args[0])
	if err != nil {
		return err
	}
	out, err := a.Client.Send(grp, action.UpdateGroupState{
		Metadata: action.Metadata{Sender: a.Config.Identity, ActionID: newActionID(), CommunityGroupID: grp},
	})
	if err != nil {
		return err
	}
	if err := sendStandard(a, out.Standard); err != nil {
		return err
	}
	printResult(nil, "broadcast governance state for %s", grp)
	return nil
}

func runShowGroupState(cmd *cobra.Command, args []string) error {
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
	printResult(lg.Shared, "%s %q topic=%q members=%v", grp, lg.Shared.Name, lg.Shared.Topic, lg.MLS.ActiveMembers())
	return nil
}

func runDefRole(cmd *cobra.Command, args []string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	grp, err := parseCommGrp(args[0])
	if err != nil {
		return err
	}
	role := args[1]
	actionTypes := args[2:]
	notifications, err := runOrdered(a, grp, func() action.Action {
		return action.DefRole{
			Metadata:    action.Metadata{Sender: a.Config.Identity, ActionID: newActionID(), CommunityGroupID: grp},
			RoleName:    role,
			ActionTypes: actionTypes,
		}
	})
	if err != nil {
		return err
	}
	for _, n := range notifications {
		printNotification(n)
	}
	printResult(nil, "defined role %s in %s: %v", role, grp, actionTypes)
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	grp, err := parseCommGrp(args[0])
	if err != nil {
		return err
	}
	target := args[1]
	reason := strings.Join(args[2:], " ")
	out, err := a.Client.Send(grp, action.Report{
		Metadata: action.Metadata{Sender: a.Config.Identity, ActionID: newActionID(), CommunityGroupID: grp},
		Target:   target,
		Reason:   reason,
	})
	if err != nil {
		return err
	}
	if err := sendStandard(a, out.Standard); err != nil {
		return err
	}
	printResult(nil, "reported %s in %s: %s", target, grp, reason)
	return nil
}

func runCustom(cmd *cobra.Command, args []string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	grp, err := parseCommGrp(args[0])
	if err != nil {
		return err
	}
	kind := args[1]
	payload := map[string]any{}
	for _, kv := range args[2:] {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("cli: %q is not a key=value pair", kv)
		}
		payload[parts[0]] = parts[1]
	}
	notifications, err := runOrdered(a, grp, func() action.Action {
		return action.Custom{
			Metadata: action.Metadata{Sender: a.Config.Identity, ActionID: newActionID(), CommunityGroupID: grp},
			Kind:     kind,
			Payload:  payload,
		}
	})
	if err != nil {
		return err
	}
	for _, n := range notifications {
		printNotification(n)
	}
	printResult(nil, "sent custom action %q to %s: %v", kind, grp, payload)
	return nil
}

func runTakedownText(cmd *cobra.Command, args []string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	grp, err := parseCommGrp(args[0])
	if err != nil {
		return err
	}
	targetID := args[1]
	out, err := a.Client.Send(grp, action.TakedownTextMsg{
		Metadata: action.Metadata{Sender: a.Config.Identity, ActionID: newActionID(), CommunityGroupID: grp},
		TargetID: targetID,
	})
	if err != nil {
		return err
	}
	if err := sendStandard(a, out.Standard); err != nil {
		return err
	}
	printResult(nil, "retracted %s from %s", targetID, grp)
	return nil
}
