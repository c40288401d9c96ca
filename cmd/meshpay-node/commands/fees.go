package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"meshpaymvp/internal/fees"
	"meshpaymvp/internal/proto"
)

var feesNet bool

var feesCmd = &cobra.Command{
	Use:   "fees <amount>",
	Short: "Preview the fee split for an amount",
	Long: `fees shows how an amount splits between the broadcaster, the relayer,
and the protocol under the configured fee table. With --net the amount is
taken as the target net and the minimal gross is computed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		table := cfg.Fees.Table()
		amount, err := proto.ParseAmount(args[0])
		if err != nil {
			return fmt.Errorf("bad amount: %w", err)
		}
		gross := amount
		if feesNet {
			gross = fees.GrossFor(amount, table)
		}
		b := fees.Split(gross, table)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "gross        %s\n", proto.FormatAmount(b.Gross))
		fmt.Fprintf(out, "broadcaster  %s  (%d bps)\n", proto.FormatAmount(b.BroadcasterFee), table.BroadcasterBps)
		fmt.Fprintf(out, "relayer      %s  (%d bps)\n", proto.FormatAmount(b.RelayerFee), table.RelayerBps)
		fmt.Fprintf(out, "protocol     %s  (%d bps)\n", proto.FormatAmount(b.ProtocolFee), table.ProtocolBps)
		fmt.Fprintf(out, "net          %s\n", proto.FormatAmount(b.Net))
		return nil
	},
}

func init() {
	feesCmd.Flags().BoolVar(&feesNet, "net", false, "treat the amount as the target net")
	rootCmd.AddCommand(feesCmd)
}
