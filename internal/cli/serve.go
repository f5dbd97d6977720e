package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	vaultmcp "github.com/ppiankov/causalvault/internal/mcp"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start MCP server for agent integration",
	Long:  "Runs causalvault as an MCP (Model Context Protocol) server over stdio.\nExposes the session tools: open, submit, link, trail, status, verify,\nresume, pending. The policy file hot-reloads while serving.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	srv, err := vaultmcp.New(vaultmcp.Config{
		LedgerPath:     resolveLedgerPath(),
		PolicyPath:     resolvePolicyPath(),
		ConfidencePath: resolveConfidencePath(),
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })

	reloader, err := vaultmcp.NewReloader(srv, resolvePolicyPath(), resolveConfidencePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
	} else {
		g.Go(func() error { return reloader.Run(ctx) })
	}

	fmt.Fprintln(os.Stderr, "causalvault MCP server running on stdio")
	fmt.Fprintf(os.Stderr, "Ledger: %s\n", resolveLedgerPath())
	fmt.Fprintf(os.Stderr, "Policy: %s (hot-reload enabled)\n", resolvePolicyPath())
	fmt.Fprintln(os.Stderr)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
