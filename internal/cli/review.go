package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/causalvault/internal/escalate"
	"github.com/ppiankov/causalvault/internal/review"
)

var (
	reviewReviewer string
	reviewNote     string
)

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewPendingCmd)
	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewDenyCmd)
	for _, c := range []*cobra.Command{reviewApproveCmd, reviewDenyCmd} {
		c.Flags().StringVar(&reviewReviewer, "reviewer", "", "Reviewer identity (required)")
		c.Flags().StringVar(&reviewNote, "note", "", "Resolution note")
		c.MarkFlagRequired("reviewer")
	}
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Human review queue operations",
	Long:  "Steps escalated to human review wait in the queue until a reviewer\napproves or denies them. Every resolution is recorded in the session ledger.",
}

var reviewPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List steps waiting for human review",
	RunE:  runReviewPending,
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <key>",
	Short: "Approve a queued review item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveReview(args[0], true)
	},
}

var reviewDenyCmd = &cobra.Command{
	Use:   "deny <key>",
	Short: "Deny a queued review item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveReview(args[0], false)
	},
}

func runReviewPending(cmd *cobra.Command, args []string) error {
	store, err := review.NewStore(review.DefaultDir())
	if err != nil {
		return err
	}
	items, err := store.Pending()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("No pending reviews.")
		return nil
	}
	for _, item := range items {
		fmt.Printf("%s  session=%s step=%d trigger=%s\n    %s\n",
			item.Key, item.SessionID, item.StepID, item.Trigger, item.Reason)
	}
	return nil
}

func resolveReview(key string, approved bool) error {
	led, err := openLedger()
	if err != nil {
		return err
	}
	defer led.Close()

	store, err := review.NewStore(review.DefaultDir())
	if err != nil {
		return err
	}
	queue := review.NewQueue(store, escalate.New(led))

	item, err := queue.Resolve(context.Background(), key, approved, reviewReviewer, reviewNote)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", item.Key, item.Status)
	return nil
}
