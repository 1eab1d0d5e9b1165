package main

import (
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
)

var (
	quiet     bool
	boardFile string

	stm32ctlCmd = &cobra.Command{
		Use:   "stm32ctl",
		Short: "Plan, check and apply STM32F4 clock trees",
		Long: "stm32ctl reads a board description, works out the clock tree it asks for and " +
			"brings the board up, either on simulated registers or through /dev/mem.",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if quiet {
				log.SetOutput(io.Discard)
			}
		},
	}
)

func addBoardFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&boardFile, "file", "f", "", "board description, a YAML file or a built-in board name")
	cmd.MarkFlagRequired("file")
}

func init() {
	stm32ctlCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "don't log register activity")
	stm32ctlCmd.AddCommand(clocksCmd, validateCmd, dumpCmd, applyCmd, peripheralsCmd, boardsCmd, serveCmd)
}

func main() {
	if err := stm32ctlCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
