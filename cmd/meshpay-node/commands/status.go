package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"meshpaymvp/internal/metrics"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running node's last metrics snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := cfg.Metrics.SnapshotPath
		if path == "" {
			path = filepath.Join(cfg.DataDir, "metrics.json")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("no snapshot at %s; is the daemon running?", path)
		}
		var snap metrics.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("bad snapshot: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "as of %s\n", snap.GeneratedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "peers                 %d\n", snap.PeerCount)
		fmt.Fprintf(out, "requests received     %d (forwarded %d, duplicates %d, undecodable %d)\n",
			snap.Relay.RequestsReceived, snap.Relay.RequestsForwarded,
			snap.Relay.DropDuplicate, snap.Relay.DropDecode)
		fmt.Fprintf(out, "relays                scheduled %d, cancelled %d\n",
			snap.Relay.RelaysScheduled, snap.Relay.RelaysCancelled)
		fmt.Fprintf(out, "submissions           %d ok, %d failed\n",
			snap.Relay.Submissions, snap.Relay.SubmissionFailures)
		fmt.Fprintf(out, "confirmations relayed %d\n", snap.Relay.ConfirmationsRelayed)
		fmt.Fprintf(out, "balance queries       sent %d, served %d, applied %d, timeouts %d\n",
			snap.Balance.RequestsSent, snap.Balance.RepliesSent,
			snap.Balance.RepliesApplied, snap.Balance.Timeouts)
		fmt.Fprintf(out, "status announcements  %d\n", snap.Gossip.StatusSent)
		for _, rec := range snap.Recent {
			fmt.Fprintf(out, "  recent: %s %s net %s ledger %s\n",
				rec.At.Local().Format("15:04:05"), rec.Status, rec.NetAmount, rec.LedgerID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
