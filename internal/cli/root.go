package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/causalvault/internal/confidence"
	"github.com/ppiankov/causalvault/internal/escalate"
	"github.com/ppiankov/causalvault/internal/integrity"
	"github.com/ppiankov/causalvault/internal/killswitch"
	"github.com/ppiankov/causalvault/internal/ledger"
	"github.com/ppiankov/causalvault/internal/policy"
	"github.com/ppiankov/causalvault/internal/review"
	"github.com/ppiankov/causalvault/internal/session"
)

var (
	ledgerPath     string
	policyPath     string
	confidencePath string
)

var rootCmd = &cobra.Command{
	Use:   "causalvault",
	Short: "Causal audit core for multi-agent reasoning",
	Long:  "Records every reasoning step in a hash-chained ledger, tracks causal structure,\nscores confidence weakest-link, gates steps through policy, and halts sessions\nthat cross the line. The ledger is the system of record.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := integrity.Verify(); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			os.Exit(78) // EX_CONFIG
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&ledgerPath, "ledger", "", "Path to ledger database (default ~/.causalvault/ledger.db)")
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", "", "Path to policy YAML (default ~/.causalvault/policy.yaml)")
	rootCmd.PersistentFlags().StringVar(&confidencePath, "confidence", "", "Path to confidence YAML (default ~/.causalvault/confidence.yaml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "causalvault")
	}
	return filepath.Join(home, ".causalvault")
}

func resolveLedgerPath() string {
	if ledgerPath != "" {
		return ledgerPath
	}
	return filepath.Join(configDir(), "ledger.db")
}

func resolvePolicyPath() string {
	if policyPath != "" {
		return policyPath
	}
	return filepath.Join(configDir(), "policy.yaml")
}

func resolveConfidencePath() string {
	if confidencePath != "" {
		return confidencePath
	}
	return filepath.Join(configDir(), "confidence.yaml")
}

func openLedger() (*ledger.Store, error) {
	path := resolveLedgerPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("cannot create data directory: %w", err)
	}
	return ledger.Open(path)
}

// openManager wires the full pipeline the way the serve path does, for
// one-shot CLI commands.
func openManager() (*session.Manager, *ledger.Store, error) {
	led, err := openLedger()
	if err != nil {
		return nil, nil, err
	}

	policyCfg, policyHash, err := policy.LoadConfigWithHash(resolvePolicyPath())
	if err != nil {
		led.Close()
		return nil, nil, err
	}
	confCfg, err := confidence.LoadConfig(resolveConfidencePath())
	if err != nil {
		led.Close()
		return nil, nil, err
	}
	reviewStore, err := review.NewStore(review.DefaultDir())
	if err != nil {
		led.Close()
		return nil, nil, err
	}
	tokens, err := killswitch.NewTokenStore(killswitch.DefaultTokenDir())
	if err != nil {
		led.Close()
		return nil, nil, err
	}

	mgr, err := session.NewManager(session.Options{
		Ledger:     led,
		Confidence: confidence.New(confCfg),
		Policy:     policyCfg,
		PolicyHash: policyHash,
		Tokens:     tokens,
		Reviews:    review.NewQueue(reviewStore, escalate.New(led)),
	})
	if err != nil {
		led.Close()
		return nil, nil, err
	}
	return mgr, led, nil
}
