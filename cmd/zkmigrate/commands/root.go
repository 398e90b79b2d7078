package commands

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "zkmigrate",
	Short: "Run data migrations under a cluster-wide ZooKeeper lock",
	Long: `zkmigrate serializes a one-time migration step across all hosts of a
deployment. It acquires a well-known lock in ZooKeeper, runs the migration
command while holding it, and releases the lock regardless of the outcome, so
that simultaneously starting hosts apply migrations exactly once.`,
}

// Execute runs the root command, mapping a failed migration command onto the
// process exit status. The lock has always been released by this point.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("zk-addr", "localhost:2181", "ZooKeeper connect string (comma delimited for multiple endpoints)")
	rootCmd.PersistentFlags().String("namespace", "", "Lock namespace scoping this deployment within the ensemble")
	rootCmd.PersistentFlags().Duration("lock-timeout", 0, "Max time to wait for the migration lock (0 waits forever)")
}
