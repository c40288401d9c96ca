package commands

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"meshpaymvp/internal/payments"
)

var (
	payTo          string
	payAmount      string
	payPayloadHex  string
	payPayloadFile string
	payWait        time.Duration
)

var payCmd = &cobra.Command{
	Use:   "pay",
	Short: "Originate a payment and flood it into the mesh",
	Long: `pay records a pending payment and floods its request to every
reachable peer. The signed ledger transaction must be prepared outside the
mesh and passed in as hex or a file; the mesh only carries it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload()
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		handle, err := startNode(cfg)
		if err != nil {
			return err
		}
		defer handle.close()

		// Give discovery a moment to find neighbors before flooding.
		time.Sleep(2 * time.Second)

		p, err := handle.runner.Originate(payTo, payAmount, payload)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "payment %s  %s -> %s  flooded\n", p.LocalID, payAmount, payTo)

		deadline := time.Now().Add(payWait)
		for time.Now().Before(deadline) {
			time.Sleep(250 * time.Millisecond)
			for _, got := range handle.runner.Tracker().List(0) {
				if got.LocalID != p.LocalID || got.Status == payments.StatusPending {
					continue
				}
				fmt.Fprintf(out, "payment %s %s", p.LocalID, got.Status)
				if got.LedgerID != "" {
					fmt.Fprintf(out, "  ledger id %s", got.LedgerID)
				}
				fmt.Fprintln(out)
				return nil
			}
		}
		fmt.Fprintf(out, "payment %s still pending; the mesh keeps carrying it\n", p.LocalID)
		return nil
	},
}

func readPayload() ([]byte, error) {
	switch {
	case payPayloadHex != "" && payPayloadFile != "":
		return nil, fmt.Errorf("use either --payload or --payload-file, not both")
	case payPayloadHex != "":
		raw, err := hex.DecodeString(payPayloadHex)
		if err != nil {
			return nil, fmt.Errorf("bad --payload: %w", err)
		}
		return raw, nil
	case payPayloadFile != "":
		raw, err := os.ReadFile(payPayloadFile)
		if err != nil {
			return nil, err
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("missing --payload or --payload-file")
	}
}

func init() {
	payCmd.Flags().StringVar(&payTo, "to", "", "recipient account")
	payCmd.Flags().StringVar(&payAmount, "amount", "", "gross amount, e.g. 12.5")
	payCmd.Flags().StringVar(&payPayloadHex, "payload", "", "signed transaction payload, hex")
	payCmd.Flags().StringVar(&payPayloadFile, "payload-file", "", "signed transaction payload file")
	payCmd.Flags().DurationVar(&payWait, "wait", 15*time.Second, "how long to wait for a confirmation")
	_ = payCmd.MarkFlagRequired("to")
	_ = payCmd.MarkFlagRequired("amount")
	rootCmd.AddCommand(payCmd)
}
