package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/causalvault/internal/ledger"
)

var tailLines int

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerTailCmd)
	ledgerCmd.AddCommand(ledgerExportCmd)
	ledgerCmd.AddCommand(ledgerSummaryCmd)
	ledgerCmd.AddCommand(ledgerSessionsCmd)
	ledgerTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Ledger operations",
	Long:  "Commands for inspecting and exporting the hash-chained session ledger.",
}

var ledgerTailCmd = &cobra.Command{
	Use:   "tail <session-id>",
	Short: "Show recent ledger entries for a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerTail,
}

var ledgerExportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a session's ledger as JSONL to stdout",
	Long:  "Writes every entry of the session's ledger as one JSON object per line,\nin sequence order, suitable for external audit.",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerExport,
}

var ledgerSummaryCmd = &cobra.Command{
	Use:   "summary <session-id>",
	Short: "Summarize a session's ledger",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerSummary,
}

var ledgerSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List all sessions in the ledger",
	RunE:  runLedgerSessions,
}

func withLedger(fn func(ctx context.Context, led *ledger.Store) error) error {
	led, err := openLedger()
	if err != nil {
		return err
	}
	defer led.Close()
	return fn(context.Background(), led)
}

func runLedgerTail(cmd *cobra.Command, args []string) error {
	return withLedger(func(ctx context.Context, led *ledger.Store) error {
		entries, err := led.ReadAll(ctx, args[0])
		if err != nil {
			return err
		}
		start := len(entries) - tailLines
		if start < 0 {
			start = 0
		}
		for _, e := range entries[start:] {
			out, err := json.MarshalIndent(e, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
		}
		return nil
	})
}

func runLedgerExport(cmd *cobra.Command, args []string) error {
	return withLedger(func(ctx context.Context, led *ledger.Store) error {
		return led.ExportJSONL(ctx, os.Stdout, args[0])
	})
}

func runLedgerSummary(cmd *cobra.Command, args []string) error {
	return withLedger(func(ctx context.Context, led *ledger.Store) error {
		summary, err := led.Summarize(ctx, args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	})
}

func runLedgerSessions(cmd *cobra.Command, args []string) error {
	return withLedger(func(ctx context.Context, led *ledger.Store) error {
		sessions, err := led.Sessions(ctx)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			fmt.Println(s)
		}
		return nil
	})
}
