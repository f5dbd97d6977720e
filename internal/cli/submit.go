package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/causalvault/internal/model"
)

var (
	submitSession    string
	submitAgent      string
	submitKind       string
	submitRefs       []uint
	submitConfidence float64
)

func init() {
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVar(&submitSession, "session", "", "Session ID (required)")
	submitCmd.Flags().StringVar(&submitAgent, "agent", "cli", "Submitting agent ID")
	submitCmd.Flags().StringVar(&submitKind, "kind", "evidence", "Step kind: input, evidence, inference, conclusion")
	submitCmd.Flags().UintSliceVar(&submitRefs, "refs", nil, "Evidence refs: IDs of prior steps this derives from")
	submitCmd.Flags().Float64Var(&submitConfidence, "confidence", -1, "Claimed confidence in [0,1], omit for default")
	submitCmd.MarkFlagRequired("session")
}

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open a new reasoning session",
	Long:  "Creates a session and prints its ID. All submits reference a session.",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, led, err := openManager()
		if err != nil {
			return err
		}
		defer led.Close()

		sess := mgr.Open()
		// The session exists once its first ledger entry does; record an
		// opening input step so an empty session is still replayable.
		if _, err := sess.Submit(context.Background(), model.ReasoningStep{
			AgentID: submitAgent,
			Kind:    model.KindInput,
			Content: "session opened",
		}); err != nil {
			return err
		}
		fmt.Println(sess.ID())
		return nil
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit <content>",
	Short: "Submit a reasoning step to a session",
	Long:  "Runs one step through scoring, policy, and escalation, and prints the result.\nA halt decision freezes the session; exit code 1 signals any non-proceed decision.",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	mgr, led, err := openManager()
	if err != nil {
		return err
	}
	defer led.Close()

	ctx := context.Background()
	sess, err := mgr.Get(ctx, submitSession)
	if err != nil {
		return err
	}

	step := model.ReasoningStep{
		AgentID: submitAgent,
		Kind:    model.StepKind(submitKind),
		Content: args[0],
	}
	for _, r := range submitRefs {
		step.EvidenceRefs = append(step.EvidenceRefs, model.NodeID(r))
	}
	if submitConfidence >= 0 {
		c := submitConfidence
		step.ClaimedConfidence = &c
	}

	res, err := sess.Submit(ctx, step)
	if err != nil {
		return err
	}

	out, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(out))

	if res.Decision != model.DecisionProceed {
		os.Exit(1)
	}
	return nil
}
