package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/causalvault/internal/ledger"
)

func init() {
	rootCmd.AddCommand(verifyCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify [session-id]",
	Short: "Verify ledger hash chain integrity",
	Long:  "Recomputes every entry's payload digest and hash link for the given session,\nor for all sessions when none is given. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	return withLedger(func(ctx context.Context, led *ledger.Store) error {
		var ids []string
		if len(args) == 1 {
			ids = args
		} else {
			var err error
			ids, err = led.Sessions(ctx)
			if err != nil {
				return err
			}
		}

		failed := false
		for _, id := range ids {
			entries, err := led.ReadAll(ctx, id)
			if err != nil {
				return err
			}
			if err := led.Verify(ctx, id); err != nil {
				fmt.Fprintf(os.Stderr, "FAILED %s: %v\n", id, err)
				failed = true
				continue
			}
			fmt.Printf("OK %s: %d entries verified\n", id, len(entries))
		}
		if failed {
			os.Exit(1)
		}
		return nil
	})
}
