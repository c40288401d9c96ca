package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"meshpaymvp/internal/pprofutil"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the mesh node daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := pprofutil.StartFromEnv(cmd.ErrOrStderr()); err != nil {
			return err
		}
		handle, err := startNode(cfg)
		if err != nil {
			return err
		}
		defer handle.close()

		fmt.Fprintf(cmd.OutOrStdout(), "node %s listening on %s\n", cfg.NodeID, handle.mesh.Addr())
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		fmt.Fprintln(cmd.OutOrStdout(), "shutting down")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
