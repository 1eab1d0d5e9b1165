package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"

	"github.com/marcinbor85/gohex"
	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/Jon-Bright/stm32ctl/board"
	"github.com/Jon-Bright/stm32ctl/hw"
	"github.com/Jon-Bright/stm32ctl/rcc"
)

var (
	hexFile string
	variant string

	clocksCmd = &cobra.Command{
		Use:   "clocks",
		Short: "Dry-run the bring-up and print the resulting clocks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := dryRun(boardFile)
			if err != nil {
				return err
			}
			printClocks(cmd.OutOrStdout(), res)
			return nil
		},
	}

	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Check a board's clock configuration against its part's limits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validate(cmd.OutOrStdout(), boardFile)
		},
	}

	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Dry-run the bring-up and print the RCC registers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := dryRun(boardFile)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 1, ' ', 0)
			for _, r := range res.RCC.Snapshot() {
				fmt.Fprintf(w, "%s\t0x%02X\t%08X\n", r.Name, r.Offset, r.Value)
			}
			w.Flush()
			if hexFile == "" {
				return nil
			}
			return writeHex(hexFile, res.RCC.Image())
		},
	}

	peripheralsCmd = &cobra.Command{
		Use:   "peripherals",
		Short: "List the peripherals whose clocks can be gated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var v *hw.Variant
			if variant != "" {
				found, err := hw.Lookup(variant)
				if err != nil {
					return err
				}
				v = &found
			}
			listPeripherals(cmd.OutOrStdout(), v)
			return nil
		},
	}

	boardsCmd = &cobra.Command{
		Use:   "boards",
		Short: "List the built-in boards",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, n := range board.Builtin() {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
		},
	}
)

func init() {
	addBoardFlag(clocksCmd)
	addBoardFlag(validateCmd)
	addBoardFlag(dumpCmd)
	dumpCmd.Flags().StringVar(&hexFile, "hex", "", "also write the registers as Intel HEX to this file")
	peripheralsCmd.Flags().StringVarP(&variant, "variant", "v", "", "only list peripherals present on this part")
}

// dryRun brings the board up on simulated registers.
func dryRun(path string) (*board.Result, error) {
	b, err := board.Load(path)
	if err != nil {
		return nil, err
	}
	return board.Bringup(b, board.SimHardware(b.Variant), log.Default())
}

func mhz(hz uint32) string {
	return fmt.Sprintf("%d.%06d MHz", hz/hw.MHz, hz%hw.MHz)
}

func printClocks(out io.Writer, res *board.Result) {
	c := res.Clocks
	w := tabwriter.NewWriter(out, 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, "SYSCLK\t%s\n", mhz(c.SYSCLK))
	fmt.Fprintf(w, "HCLK\t%s\n", mhz(c.HCLK))
	fmt.Fprintf(w, "PCLK1\t%s\t(timers %s)\n", mhz(c.PCLK1), mhz(c.TimerFrequency(rcc.APB1)))
	fmt.Fprintf(w, "PCLK2\t%s\t(timers %s)\n", mhz(c.PCLK2), mhz(c.TimerFrequency(rcc.APB2)))
	if c.PLL48CLK != 0 {
		fmt.Fprintf(w, "PLL48CLK\t%s\n", mhz(c.PLL48CLK))
	}
	if c.PLLI2SCLK != 0 {
		fmt.Fprintf(w, "PLLI2SCLK\t%s\n", mhz(c.PLLI2SCLK))
	}
	if c.PLLLCDCLK != 0 {
		fmt.Fprintf(w, "PLLLCDCLK\t%s\n", mhz(c.PLLLCDCLK))
	}
	if res.SysTickReload != 0 {
		fmt.Fprintf(w, "SysTick reload\t%d\n", res.SysTickReload)
	}
	names := maps.Keys(res.BRR)
	slices.Sort(names)
	for _, n := range names {
		fmt.Fprintf(w, "%s BRR\t%04X\n", n, res.BRR[n])
	}
	w.Flush()
}

// validate reports every problem with the clock section, not just the first.
func validate(out io.Writer, path string) error {
	b, err := board.Load(path)
	if err != nil {
		return err
	}
	cfg, err := b.ClockConfig()
	if err != nil {
		return err
	}
	s, err := rcc.Validate(cfg, b.Variant, b.HSE)
	if err != nil {
		var n int
		for _, e := range unjoin(err) {
			fmt.Fprintln(out, e)
			n++
		}
		return fmt.Errorf("%s: %d problem(s)", b.Name, n)
	}
	c := s.Clocks(rcc.HSI_FREQ, b.HSE)
	fmt.Fprintf(out, "%s: OK, SYSCLK %s on %v\n", b.Name, mhz(c.SYSCLK), b.Variant)
	return nil
}

func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func writeHex(path string, img []byte) error {
	mem := gohex.NewMemory()
	err := mem.AddBinary(uint32(rcc.RCC_BASE), img)
	if err != nil {
		return fmt.Errorf("couldn't build hex image: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("couldn't create %s: %v", path, err)
	}
	err = mem.DumpIntelHex(f, 16)
	return errors.Join(err, f.Close())
}

func listPeripherals(out io.Writer, v *hw.Variant) {
	w := tabwriter.NewWriter(out, 0, 8, 1, ' ', 0)
	for _, n := range rcc.SortedPeripheralNames() {
		p := rcc.PeripheralNames[n]
		if v != nil && p.Extended() && !v.Extended {
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%v\tbit %d\n", p.ID(), n, p.Bus, p.Bit)
	}
	w.Flush()
}
