// Command kde estimates kernel densities of CSV point sets.
package main

import (
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/TrevorS/kde"
)

var (
	verbose bool

	rootCmd = &cobra.Command{
		Use:   "kde",
		Short: "Dual-tree kernel density estimation",
		Long: `kde estimates, for every query point, the sum of a kernel over all
reference points, pruning and sampling tree nodes within the requested
error tolerances.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	kernelsCmd = &cobra.Command{
		Use:   "kernels",
		Short: "List the available kernels",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range kde.KernelNames() {
				cmd.Println(name)
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log traversal statistics")
	rootCmd.AddCommand(newEstimateCmd(), kernelsCmd)
}

func main() {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt)
	go listenForInterrupt(stopChan)

	if err := rootCmd.Execute(); err != nil {
		if kde.IsConfigError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// listenForInterrupt exits the program when an interrupt arrives; an
// estimation in progress cannot be resumed.
func listenForInterrupt(stopChan chan os.Signal) {
	<-stopChan
	log.Fatal().Msg("Interrupt signal received. Exiting...")
}
