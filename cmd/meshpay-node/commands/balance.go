package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"meshpaymvp/internal/proto"
)

var balanceWait time.Duration

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show this node's ledger balance",
	Long: `balance fetches the account balance straight from the ledger when a
gateway is reachable, and otherwise asks internet-capable mesh peers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		handle, err := startNode(cfg)
		if err != nil {
			return err
		}
		defer handle.close()

		// Let discovery and the first status exchange land.
		time.Sleep(2 * time.Second)

		ctx, cancel := context.WithTimeout(context.Background(), balanceWait)
		defer cancel()
		if !handle.runner.RequestBalance(ctx) {
			return fmt.Errorf("no ledger gateway and no internet-capable peer")
		}

		deadline := time.Now().Add(balanceWait)
		for time.Now().Before(deadline) {
			if cached, ok := handle.runner.Balance().CachedBalance(); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  (sequence %d, as of %s)\n",
					cfg.Account, proto.FormatAmount(cached.Balance), cached.Sequence,
					cached.At.Local().Format(time.RFC3339))
				return nil
			}
			time.Sleep(100 * time.Millisecond)
		}
		return fmt.Errorf("no balance reply within %s", balanceWait)
	},
}

func init() {
	balanceCmd.Flags().DurationVar(&balanceWait, "wait", 10*time.Second, "how long to wait for a reply")
	rootCmd.AddCommand(balanceCmd)
}
