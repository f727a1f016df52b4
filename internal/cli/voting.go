package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ame2e/mlsgov/internal/action"
	"github.com/ame2e/mlsgov/internal/wire"
)

// voteCmd also serves as "ProposeVote": there is no separate propose
// subcommand. A ballot names an existing proposal by id; for
// VoteOnNameChangePolicy that is the ActionID of the RenameGroup that
// opened the poll, and a vote on an id with no open poll is not claimed by
// that policy.
var voteCmd = &cobra.Command{
	Use:   "vote <community/group> <proposal-id> <option>",
	Short: "Cast a ballot on a proposal, stashing it in the local proposed-action buffer",
	Args:  cobra.ExactArgs(3),
	RunE:  runVote,
}

var commitPendingVotesCmd = &cobra.Command{
	Use:   "commitpendingvotes <community/group>",
	Short: "Fold every buffered vote into one ordered commit",
	Args:  cobra.ExactArgs(1),
	RunE:  runCommitPendingVotes,
}

func init() {
	rootCmd.AddCommand(voteCmd, commitPendingVotesCmd)
}

func runVote(cmd *cobra.Command, args []string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	grp, err := parseCommGrp(args[0])
	if err != nil {
		return err
	}
	proposalID, option := args[1], args[2]

	send, err := a.Client.ProposeVote(grp, action.Vote{
		Metadata:   action.Metadata{Sender: a.Config.Identity, ActionID: newActionID(), CommunityGroupID: grp},
		ProposalID: proposalID,
		Option:     option,
	})
	if err != nil {
		return err
	}
	if err := sendStandard(a, []wire.UserStandardSend{send}); err != nil {
		return err
	}
	printResult(nil, "voted %s on proposal %s in %s", option, proposalID, grp)
	return nil
}

func runCommitPendingVotes(cmd *cobra.Command, args []string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	grp, err := parseCommGrp(args[0])
	if err != nil {
		return err
	}

	send, err := a.Client.CommitProposedVotes(grp)
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
		explanation := "commit rejected"
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
	printResult(nil, "committed pending votes for %s", grp)
	return nil
}
