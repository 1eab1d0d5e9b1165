package main

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/Jon-Bright/stm32ctl/board"
	"github.com/Jon-Bright/stm32ctl/mmio"
	"github.com/Jon-Bright/stm32ctl/rcc"
)

var (
	memFile  string
	simulate bool

	applyCmd = &cobra.Command{
		Use:   "apply",
		Short: "Bring a board up through physical memory",
		Long: "apply maps the board's register blocks from --mem and runs the whole bring-up. " +
			"With --simulate and no --mem, it runs on in-memory registers instead; with both, " +
			"--mem is treated as a register image file and nothing waits on real hardware.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, h, err := apply(boardFile, memFile, cmd.Flags().Changed("mem"), simulate)
			if err != nil {
				return err
			}
			defer h.Close()
			printClocks(cmd.OutOrStdout(), res)
			return nil
		},
	}
)

func init() {
	addBoardFlag(applyCmd)
	applyCmd.Flags().StringVar(&memFile, "mem", mmio.MEM_FILE, "physical memory device or register image file")
	applyCmd.Flags().BoolVar(&simulate, "simulate", false, "don't wait on real oscillators")
	applyCmd.Flags().StringVar(&powerCtrl, "power-ctrl", "", "GPIO channel which, when set high, turns on board power")
	applyCmd.Flags().StringVar(&powerStatus, "power-status", "", "GPIO channel which reads high once power is healthy. Only relevant with --power-ctrl.")
	applyCmd.Flags().DurationVar(&powerStatusWait, "power-wait", 2*time.Second, "how long to wait for --power-status")
}

func hardware(b *board.Board, mem string, memGiven, simulate bool) (*board.Hardware, error) {
	if simulate && !memGiven {
		return board.SimHardware(b.Variant), nil
	}
	h, err := board.MapHardware(mem, b.Variant)
	if err != nil {
		return nil, err
	}
	if simulate {
		h.Poller = rcc.NewSimPoller(h.RCC)
	}
	return h, nil
}

// apply brings the board up and powers it on. The result's registers live in
// the returned Hardware, so the caller must keep it open while it uses them
// and Close it afterwards.
func apply(path, mem string, memGiven, simulate bool) (*board.Result, *board.Hardware, error) {
	b, err := board.Load(path)
	if err != nil {
		return nil, nil, err
	}
	h, err := hardware(b, mem, memGiven, simulate)
	if err != nil {
		return nil, nil, err
	}
	fail := func(err error) (*board.Result, *board.Hardware, error) {
		h.Close()
		return nil, nil, err
	}
	res, err := board.Bringup(b, h, log.Default())
	if err != nil {
		return fail(fmt.Errorf("couldn't bring up %s: %w", b.Name, err))
	}
	err = powerOn(res.GPIO)
	if err != nil {
		return fail(err)
	}
	if memGiven {
		err = h.Flush()
		if err != nil {
			return fail(fmt.Errorf("couldn't flush registers: %v", err))
		}
	}
	return res, h, nil
}
