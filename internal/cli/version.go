package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/causalvault/internal/integrity"
)

const version = "0.1.0"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and binary digest",
	Long:  "Prints the version and the running binary's digest. The digest is what an\ninstall writes to the integrity digest file.",
	Run: func(cmd *cobra.Command, args []string) {
		info := map[string]string{
			"name":    "causalvault",
			"version": version,
		}
		if _, digest, err := integrity.HashSelf(); err == nil {
			info["binary_digest"] = digest
		} else {
			fmt.Fprintf(os.Stderr, "warning: cannot hash binary: %v\n", err)
		}
		out, _ := json.MarshalIndent(info, "", "  ")
		fmt.Println(string(out))
	},
}
