package commands

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"meshpaymvp/internal/payments"
	"meshpaymvp/internal/proto"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show local payment history",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tracker, err := payments.NewTracker(filepath.Join(cfg.DataDir, "payments.jsonl"), payments.Options{})
		if err != nil {
			return err
		}
		list := tracker.List(historyLimit)
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no payments")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CREATED\tID\tAMOUNT\tTO\tSTATUS\tLEDGER ID")
		for _, p := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				p.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				p.LocalID, proto.FormatAmount(p.Amount), p.Destination, p.Status, p.LedgerID)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "n", 20, "max entries, 0 for all")
	rootCmd.AddCommand(historyCmd)
}
