package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var pruneMinConfidence float64

func init() {
	rootCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().Float64Var(&pruneMinConfidence, "min-confidence", 0.2, "Remove edges below this confidence")
}

var pruneCmd = &cobra.Command{
	Use:   "prune <session-id>",
	Short: "Remove low-confidence edges from a session graph",
	Long:  "Removes edges below the confidence floor and any non-conclusion node left\nwithout edges. The prune is recorded in the ledger with removal counts.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPrune,
}

func runPrune(cmd *cobra.Command, args []string) error {
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
	removed, err := sess.Prune(ctx, pruneMinConfidence)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d edges removed\n", sess.ID(), removed)
	return nil
}
