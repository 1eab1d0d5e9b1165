package systick

import (
	"errors"
	"fmt"
	"time"
	"unsafe"
)

var ErrReloadOutOfRange = errors.New("systick reload out of range")

const (
	SYSTICK_BASE = uintptr(0xe000e010)
	SYSTICK_SIZE = int(unsafe.Sizeof(systickT{}))

	SYSTICK_CTRL_ENABLE    = 1 << 0
	SYSTICK_CTRL_TICKINT   = 1 << 1
	SYSTICK_CTRL_CLKSOURCE = 1 << 2 // processor clock rather than HCLK/8
	SYSTICK_CTRL_COUNTFLAG = 1 << 16

	SYSTICK_LOAD_MAX = 0xffffff
)

type systickT struct {
	ctrl  uint32
	load  uint32
	val   uint32
	calib uint32
}

type Timer struct {
	regs *systickT
}

func New() *Timer {
	return &Timer{regs: &systickT{}}
}

// At lays the timer over memory mapped at SYSTICK_BASE.
func At(p unsafe.Pointer) *Timer {
	return &Timer{regs: (*systickT)(p)}
}

// Reload is the LOAD value that makes the counter wrap tickHz times a second.
func Reload(hclk, tickHz uint32) (uint32, error) {
	if tickHz == 0 || hclk/tickHz == 0 {
		return 0, fmt.Errorf("%w: %d Hz ticks from %d Hz", ErrReloadOutOfRange, tickHz, hclk)
	}
	r := hclk/tickHz - 1
	if r == 0 || r > SYSTICK_LOAD_MAX {
		return 0, fmt.Errorf("%w: %d Hz ticks from %d Hz need reload %d", ErrReloadOutOfRange, tickHz, hclk, r)
	}
	return r, nil
}

// Configure starts the counter from HCLK. Interrupts stay off.
func (t *Timer) Configure(hclk, tickHz uint32) error {
	r, err := Reload(hclk, tickHz)
	if err != nil {
		return err
	}
	t.regs.ctrl = 0
	t.regs.load = r
	t.regs.val = 0
	t.regs.ctrl = SYSTICK_CTRL_CLKSOURCE | SYSTICK_CTRL_ENABLE
	return nil
}

func (t *Timer) Stop() {
	t.regs.ctrl &^= SYSTICK_CTRL_ENABLE
}

func (t *Timer) Reload() uint32 {
	return t.regs.load
}

func (t *Timer) Running() bool {
	return t.regs.ctrl&SYSTICK_CTRL_ENABLE != 0
}

// Period is the time between wraps for a given HCLK.
func (t *Timer) Period(hclk uint32) time.Duration {
	if hclk == 0 {
		return 0
	}
	return time.Duration(uint64(t.regs.load+1) * uint64(time.Second) / uint64(hclk))
}
