package rcc

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrClockNotReady         = errors.New("clock not ready")
	ErrUnknownPeripheral     = errors.New("unknown peripheral")
	ErrUnsupportedPeripheral = errors.New("peripheral not present on this part")
	ErrInvalidConfig         = errors.New("invalid clock configuration")
)

// ReadyPoller waits for a hardware handshake. ready is called until it
// returns true; implementations must give up eventually.
type ReadyPoller interface {
	WaitReady(what string, ready func() bool) error
}

const DEFAULT_MAX_POLLS = 100000

// SpinPoller busy-waits on real hardware.
type SpinPoller struct {
	MaxPolls int           // DEFAULT_MAX_POLLS if 0
	Interval time.Duration // between polls, 0 to spin
}

func (p SpinPoller) WaitReady(what string, ready func() bool) error {
	max := p.MaxPolls
	if max <= 0 {
		max = DEFAULT_MAX_POLLS
	}
	i := 0
	for !ready() {
		i++
		if i == max {
			return fmt.Errorf("%w: %s after %d polls", ErrClockNotReady, what, i)
		}
		if p.Interval > 0 {
			time.Sleep(p.Interval)
		}
	}
	return nil
}

type oscBits struct {
	on  uint32
	rdy uint32
}

var oscillators = []oscBits{
	{RCC_CR_HSION, RCC_CR_HSIRDY},
	{RCC_CR_HSEON, RCC_CR_HSERDY},
	{RCC_CR_PLLON, RCC_CR_PLLRDY},
	{RCC_CR_PLLI2SON, RCC_CR_PLLI2SRDY},
	{RCC_CR_PLLSAION, RCC_CR_PLLSAIRDY},
}

// SimPoller stands in for the RCC's asynchronous side on an in-memory or
// file-backed register block. Every poll, each oscillator or PLL whose ON bit
// is set reports ready, and SWS follows SW once the selected source is ready.
// Oscillators named by ON bit in Stuck never come up.
type SimPoller struct {
	Regs  *Registers
	Stuck uint32 // e.g. RCC_CR_HSEON for an unpopulated crystal
	Polls int
}

func NewSimPoller(r *Registers) *SimPoller {
	return &SimPoller{Regs: r}
}

func (p *SimPoller) settle() {
	r := p.Regs
	cr := r.cr
	for _, o := range oscillators {
		if cr&o.on != 0 && p.Stuck&o.on == 0 {
			cr |= o.rdy
		} else {
			cr &^= o.rdy
		}
	}
	r.cr = cr

	sw := r.cfgr & RCC_CFGR_SW_MASK
	var rdy uint32
	switch SysClkSource(sw) {
	case SysClkHSI:
		rdy = RCC_CR_HSIRDY
	case SysClkHSE:
		rdy = RCC_CR_HSERDY
	case SysClkPLL:
		rdy = RCC_CR_PLLRDY
	default:
		return
	}
	if cr&rdy != 0 {
		r.cfgr = r.cfgr&^RCC_CFGR_SWS_MASK | sw<<RCC_CFGR_SWS_SHIFT
	}
}

func (p *SimPoller) WaitReady(what string, ready func() bool) error {
	p.Polls++
	p.settle()
	if !ready() {
		return fmt.Errorf("%w: %s never came up", ErrClockNotReady, what)
	}
	return nil
}
