package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/ayo6706/payment-aggregator/internal/app"
	"github.com/ayo6706/payment-aggregator/internal/config"
	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/provider"
	"github.com/ayo6706/payment-aggregator/internal/routing"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func channelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels [file]",
		Short: "Validate a channels file and print the resulting table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := config.LoadChannels(args[0])
			if err != nil {
				return err
			}
			registry, err := routing.NewRegistry(app.NewProviderRegistry(), file, provider.Deps{Logger: zap.L()})
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tPROVIDER\tACTIVE\tSTRICT\tMIN\tMAX")
			for _, e := range registry.Entries() {
				maxAmount := "-"
				if e.Channel.MaxAmountMicros > 0 {
					maxAmount = domain.FormatAmount(e.Channel.MaxAmountMicros)
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%s\t%s\n",
					e.Name, e.Channel.Provider, e.Channel.Active, e.StrictSignature,
					domain.FormatAmount(e.Channel.MinAmountMicros), maxAmount)
			}
			if len(file.Routes) > 0 {
				fmt.Fprintln(tw, "\nROUTE MIN\tROUTE MAX\tCHANNEL\tPRIORITY")
				for _, r := range file.Routes {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", r.MinAmount, r.MaxAmount, r.Channel, r.Priority)
				}
			}
			return tw.Flush()
		},
	}
}
