package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/causalvault/internal/killswitch"
)

var (
	resumeReason   string
	resumeDuration time.Duration
)

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.AddCommand(resumeAuthorizeCmd)
	resumeAuthorizeCmd.Flags().StringVar(&resumeReason, "reason", "", "Why this session may resume (required)")
	resumeAuthorizeCmd.Flags().DurationVar(&resumeDuration, "duration", killswitch.DefaultTokenDuration, "Token validity window")
	resumeAuthorizeCmd.MarkFlagRequired("reason")
}

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a halted session",
	Long:  "Consumes an active resume token bound to the session and its halt snapshot,\nrecords the resume in the ledger, and returns the session to running.",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

var resumeAuthorizeCmd = &cobra.Command{
	Use:   "authorize <session-id>",
	Short: "Mint a single-use resume token for a halted session",
	Long:  "Reads the snapshot digest from the session's halt record and mints a token\nbound to it. The token authorizes exactly one resume before it is consumed.",
	Args:  cobra.ExactArgs(1),
	RunE:  runResumeAuthorize,
}

func runResume(cmd *cobra.Command, args []string) error {
	mgr, led, err := openManager()
	if err != nil {
		return err
	}
	defer led.Close()

	ctx := context.Background()
	sess, err := mgr.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if err := sess.Resume(ctx); err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", sess.ID(), sess.State())
	return nil
}

func runResumeAuthorize(cmd *cobra.Command, args []string) error {
	mgr, led, err := openManager()
	if err != nil {
		return err
	}
	defer led.Close()

	ctx := context.Background()
	activation, err := mgr.HaltedActivation(ctx, args[0])
	if err != nil {
		return err
	}

	tokens, err := killswitch.NewTokenStore(killswitch.DefaultTokenDir())
	if err != nil {
		return err
	}
	token, err := tokens.Mint(args[0], activation.SnapshotDigest, resumeReason, resumeDuration)
	if err != nil {
		return err
	}
	fmt.Printf("Token %s for %s, expires %s\n", token.ID, args[0], token.ExpiresAt.Format(time.RFC3339))
	return nil
}
