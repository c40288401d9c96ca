package commands

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"meshpaymvp/internal/discovery"
	"meshpaymvp/internal/peers"
)

var peersWait time.Duration

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Browse the local network for mesh nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		var (
			mu    sync.Mutex
			found = map[peers.ID]string{}
		)
		disc, err := discovery.Browse(peers.ID(cfg.NodeID), func(f discovery.Found) {
			mu.Lock()
			defer mu.Unlock()
			found[f.ID] = f.Addr
		})
		if err != nil {
			return err
		}
		defer disc.Close()

		time.Sleep(peersWait)

		mu.Lock()
		defer mu.Unlock()
		if len(found) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no peers found")
			return nil
		}
		ids := make([]peers.ID, 0, len(found))
		for id := range found {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, found[id])
		}
		return nil
	},
}

func init() {
	peersCmd.Flags().DurationVar(&peersWait, "wait", 3*time.Second, "how long to browse")
	rootCmd.AddCommand(peersCmd)
}
