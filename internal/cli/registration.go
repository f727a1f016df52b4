package cli

import (
	"crypto/ed25519"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ame2e/mlsgov/internal/wire"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Publish this identity's long-term verification key to the Authentication Service",
	RunE:  runRegister,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh the credential roster from the AS and publish a fresh key package to the DS",
	RunE:  runSync,
}

func init() {
	rootCmd.AddCommand(registerCmd, syncCmd)
}

func runRegister(cmd *cobra.Command, args []string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	cred := wire.Credential{Identity: []byte(a.Config.Identity), VerifyKey: a.Keys.SigPub}
	env, err := wire.Wrap(wire.TypeUserRegisterForAS, wire.UserRegisterForAS{
		Credential: cred,
		VerifyKey:  a.Keys.SigPub,
	})
	if err != nil {
		return err
	}
	if err := a.as.Send(env); err != nil {
		return fmt.Errorf("cli: send registration: %w", err)
	}
	reply, err := awaitReply(a.asReplies)
	if err != nil {
		return err
	}
	var res wire.ASResult
	if err := wire.Unwrap(reply, &res); err != nil {
		return err
	}
	if !res.Ok {
		explanation := "registration rejected"
		if res.Explanation != nil {
			explanation = *res.Explanation
		}
		return fmt.Errorf("cli: %s", explanation)
	}
	printResult(res, "registered %q with the Authentication Service", a.Config.Identity)
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	if flagNoSync {
		printResult(nil, "sync skipped (--no-sync)")
		return nil
	}
	a, err := requireApp()
	if err != nil {
		return err
	}

	credEnv, err := wire.Wrap(wire.TypeUserSyncCredentials, wire.UserSyncCredentials{})
	if err != nil {
		return err
	}
	if err := a.as.Send(credEnv); err != nil {
		return fmt.Errorf("cli: request credential sync: %w", err)
	}
	credReply, err := awaitReply(a.asReplies)
	if err != nil {
		return err
	}
	var credRes wire.ASCredentialSyncResponse
	if err := wire.Unwrap(credReply, &credRes); err != nil {
		return err
	}
	for identity, cred := range credRes.Credentials {
		if len(cred.VerifyKey) == ed25519.PublicKeySize {
			a.storeVerifyKey(identity, ed25519.PublicKey(cred.VerifyKey))
		}
	}
	a.persistRoster()

	kp := wire.KeyPackage{
		Identity: []byte(a.Config.Identity),
		SigPub:   a.Keys.SigPub,
		InitPub:  a.Keys.InitPub,
	}
	syncEnv, err := wire.Wrap(wire.TypeUserSync, wire.UserSync{
		User:           a.Config.Identity,
		NewKeyPackages: []wire.KeyPackage{kp},
	})
	if err != nil {
		return err
	}
	if err := a.ds.Send(syncEnv); err != nil {
		return fmt.Errorf("cli: send sync: %w", err)
	}
	dsReply, err := awaitReply(a.dsReplies)
	if err != nil {
		return err
	}
	var dsRes wire.DSResult
	if err := wire.Unwrap(dsReply, &dsRes); err != nil {
		return err
	}
	if !dsRes.Ok {
		explanation := "Unknown user"
		if dsRes.Explanation != nil {
			explanation = *dsRes.Explanation
		}
		return fmt.Errorf("cli: sync rejected: %s", explanation)
	}
	printResult(dsRes, "synced %d credentials, published a fresh key package", len(credRes.Credentials))
	return nil
}
