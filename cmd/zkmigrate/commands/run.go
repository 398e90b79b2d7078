package commands

import (
	"context"
	"os"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/clusterkit/zklocks/migrate"
)

var runCmd = &cobra.Command{
	Use:   "run -- <command> [args...]",
	Short: "Run a migration command while holding the migrations lock",
	Long: `Run acquires the cluster-wide migrations lock, executes the given
command, and releases the lock once the command exits. The command's exit
status is propagated; when it fails, the lock is still released first.`,
	Args: cobra.MinimumNArgs(1),
	RunE: run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) error {
	// Flag errors here would mean a mis-declared flag, not user input.
	addr, _ := cmd.Flags().GetString("zk-addr")
	namespace, _ := cmd.Flags().GetString("namespace")
	timeout, _ := cmd.Flags().GetDuration("lock-timeout")

	// Errors are reported through the exit status; cobra shouldn't add usage
	// output on top of the migration command's own stderr.
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	logger := hclog.New(&hclog.LoggerOptions{Name: "zkmigrate"})

	guard, err := migrate.New(migrate.Config{
		Address:     addr,
		Namespace:   namespace,
		LockTimeout: timeout,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	return guard.Run(context.Background(), migrate.ApplierFunc(func(ctx context.Context) error {
		c := exec.CommandContext(ctx, args[0], args[1:]...)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		return c.Run()
	}))
}
