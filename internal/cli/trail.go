package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/causalvault/internal/graph"
	"github.com/ppiankov/causalvault/internal/ledger"
	"github.com/ppiankov/causalvault/internal/model"
)

var trailJSON bool

func init() {
	rootCmd.AddCommand(trailCmd)
	trailCmd.Flags().BoolVar(&trailJSON, "json", false, "Emit the trail as JSON")
}

var trailCmd = &cobra.Command{
	Use:   "trail <session-id> <step-id>",
	Short: "Extract the strongest causal chain ending at a step",
	Long:  "Replays the session graph from the ledger and walks backward from the step\nalong the strongest incoming edges, printing the chain root first.",
	Args:  cobra.ExactArgs(2),
	RunE:  runTrail,
}

func runTrail(cmd *cobra.Command, args []string) error {
	return withLedger(func(ctx context.Context, led *ledger.Store) error {
		var stepID uint64
		if _, err := fmt.Sscanf(args[1], "%d", &stepID); err != nil {
			return fmt.Errorf("invalid step id %q", args[1])
		}

		entries, err := led.ReadAll(ctx, args[0])
		if err != nil {
			return err
		}
		g, err := graph.Replay(args[0], entries)
		if err != nil {
			return err
		}
		trail, err := g.ExtractTrail(model.NodeID(stepID))
		if err != nil {
			return err
		}

		if trailJSON {
			out, err := graph.FormatTrailJSON(trail)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		}
		fmt.Print(graph.FormatTrail(trail))
		return nil
	})
}
