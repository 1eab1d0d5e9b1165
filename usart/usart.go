package usart

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/Jon-Bright/stm32ctl/rcc"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var ErrBaudOutOfRange = errors.New("baud rate out of range")

const (
	USART_SR_TC    = 1 << 6
	USART_SR_TXE   = 1 << 7
	USART_CR1_RE   = 1 << 2
	USART_CR1_TE   = 1 << 3
	USART_CR1_PS   = 1 << 9
	USART_CR1_PCE  = 1 << 10
	USART_CR1_M    = 1 << 12
	USART_CR1_UE   = 1 << 13
	USART_CR1_OV8  = 1 << 15
	USART_CR2_STOP = 0x3 << 12

	USART_SR_RESET = USART_SR_TXE | USART_SR_TC
	USART_SIZE     = int(unsafe.Sizeof(usartT{}))
)

// usartT is one USART's registers, see RM0090 section 30.6.
type usartT struct {
	sr   uint32
	dr   uint32
	brr  uint32
	cr1  uint32
	cr2  uint32
	cr3  uint32
	gtpr uint32
}

// Instance is where a USART lives and which clock gate feeds it.
type Instance struct {
	Base   uintptr
	Periph rcc.Peripheral
}

var Instances = map[string]Instance{
	"USART1": {0x40011000, rcc.USART1},
	"USART2": {0x40004400, rcc.USART2},
	"USART3": {0x40004800, rcc.USART3},
	"UART4":  {0x40004c00, rcc.UART4},
	"UART5":  {0x40005000, rcc.UART5},
	"USART6": {0x40011400, rcc.USART6},
	"UART7":  {0x40007800, rcc.UART7},
	"UART8":  {0x40007c00, rcc.UART8},
}

// Names returns the USART names, sorted.
func Names() []string {
	n := maps.Keys(Instances)
	slices.Sort(n)
	return n
}

type StopBits uint32

// CR2 STOP encodings.
const (
	Stop1   StopBits = 0
	Stop0_5 StopBits = 1
	Stop2   StopBits = 2
	Stop1_5 StopBits = 3
)

type Parity int

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

type Config struct {
	Baud       uint32
	WordLength int // 8 or 9, counting the parity bit
	StopBits   StopBits
	Parity     Parity
	Over8      bool
	TX         bool
	RX         bool
}

type USART struct {
	Name string
	inst Instance
	regs *usartT
	sim  bool
	sent []byte
}

func lookup(name string) (Instance, error) {
	inst, ok := Instances[name]
	if !ok {
		return Instance{}, fmt.Errorf("unknown USART %q", name)
	}
	return inst, nil
}

// New returns an in-memory USART for simulation. Its transmitter is always
// ready and what's sent is kept for Sent.
func New(name string) (*USART, error) {
	inst, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return &USART{Name: name, inst: inst, regs: &usartT{sr: USART_SR_RESET}, sim: true}, nil
}

// At lays the USART's registers over memory mapped at its Instance.Base.
func At(name string, p unsafe.Pointer) (*USART, error) {
	inst, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return &USART{Name: name, inst: inst, regs: (*usartT)(p)}, nil
}

func (u *USART) Instance() Instance {
	return u.inst
}

// Divisor computes BRR for the given peripheral clock, rounding to the
// nearest achievable rate. With over8, the fraction is 3 bits wide.
func Divisor(pclk, baud uint32, over8 bool) (uint32, error) {
	if baud == 0 {
		return 0, fmt.Errorf("%w: 0", ErrBaudOutOfRange)
	}
	x := uint32((uint64(pclk) + uint64(baud)/2) / uint64(baud))
	shift := uint(4)
	if over8 {
		shift = 3
	}
	mant := x >> shift
	if mant == 0 || mant > 0xfff {
		return 0, fmt.Errorf("%w: %d baud from %d Hz", ErrBaudOutOfRange, baud, pclk)
	}
	if over8 {
		return mant<<4 | x&0x7, nil
	}
	return x, nil
}

// Configure programs the USART for cfg, taking its kernel clock from clocks.
// The USART's RCC clock must already be enabled.
func (u *USART) Configure(clocks rcc.Clocks, cfg Config) error {
	pclk := clocks.BusFrequency(u.inst.Periph.Bus)
	brr, err := Divisor(pclk, cfg.Baud, cfg.Over8)
	if err != nil {
		return fmt.Errorf("couldn't configure %s: %w", u.Name, err)
	}
	var cr1 uint32 = USART_CR1_UE
	switch cfg.WordLength {
	case 0, 8:
	case 9:
		cr1 |= USART_CR1_M
	default:
		return fmt.Errorf("couldn't configure %s: %d bit words", u.Name, cfg.WordLength)
	}
	switch cfg.Parity {
	case ParityNone:
	case ParityEven:
		cr1 |= USART_CR1_PCE
	case ParityOdd:
		cr1 |= USART_CR1_PCE | USART_CR1_PS
	default:
		return fmt.Errorf("couldn't configure %s: parity %d", u.Name, cfg.Parity)
	}
	if cfg.StopBits > Stop1_5 {
		return fmt.Errorf("couldn't configure %s: stop bits %d", u.Name, cfg.StopBits)
	}
	if cfg.Over8 {
		cr1 |= USART_CR1_OV8
	}
	if cfg.TX {
		cr1 |= USART_CR1_TE
	}
	if cfg.RX {
		cr1 |= USART_CR1_RE
	}

	// Framing can only change while UE is clear.
	u.regs.cr1 = 0
	u.regs.cr2 = u.regs.cr2&^USART_CR2_STOP | uint32(cfg.StopBits)<<12
	u.regs.brr = brr
	u.regs.cr1 = cr1
	return nil
}

func (u *USART) BRR() uint32 {
	return u.regs.brr
}

// Send writes b one byte at a time, waiting for TXE before each, and then
// for TC.
func (u *USART) Send(b []byte, p rcc.ReadyPoller) error {
	if u.regs.cr1&(USART_CR1_UE|USART_CR1_TE) != USART_CR1_UE|USART_CR1_TE {
		return fmt.Errorf("%s transmitter not enabled", u.Name)
	}
	txe := func() bool { return u.regs.sr&USART_SR_TXE != 0 }
	for i, c := range b {
		err := p.WaitReady(u.Name+" TXE", txe)
		if err != nil {
			return fmt.Errorf("couldn't send byte %d: %w", i, err)
		}
		u.regs.dr = uint32(c)
		if u.sim {
			u.sent = append(u.sent, c)
		}
	}
	return p.WaitReady(u.Name+" TC", func() bool { return u.regs.sr&USART_SR_TC != 0 })
}

// Sent returns what a simulated USART has transmitted.
func (u *USART) Sent() []byte {
	return u.sent
}
