package cli

import (
	"github.com/spf13/cobra"

	"stock-count-alerts/internal/app"
)

var (
	cycleManualCount int
	cycleThreshold   int
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Execute exactly one monitoring cycle and print the outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.CycleOptions{}

		if cmd.Flags().Changed("manual-count") {
			opts.ManualCount = &cycleManualCount
		}
		if cmd.Flags().Changed("threshold") {
			opts.OverrideThreshold = &cycleThreshold
		}

		return getApp().Cycle(cmd.Context(), opts)
	},
}

func init() {
	cycleCmd.Flags().IntVar(&cycleManualCount, "manual-count", 0, "Skip scraping and use this count directly")
	cycleCmd.Flags().IntVar(&cycleThreshold, "threshold", 0, "Override the stored threshold for this cycle")
}
