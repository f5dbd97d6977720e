package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/causalvault/internal/confidence"
	"github.com/ppiankov/causalvault/internal/policy"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate default config files with comments",
	Long:  "Creates ~/.causalvault/policy.yaml and confidence.yaml with documented\ndefaults. Edit these files to customize rule sets and confidence bands.",
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := configDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	files := map[string]string{
		"policy.yaml":     policy.DefaultConfigYAML(),
		"confidence.yaml": confidence.DefaultConfigYAML(),
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(os.Stderr, "skipping %s: already exists\n", path)
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		fmt.Printf("Created %s\n", path)
	}
	return nil
}
