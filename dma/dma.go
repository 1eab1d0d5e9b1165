package dma

import (
	"errors"
	"fmt"
	"log"
	"unsafe"

	"github.com/Jon-Bright/stm32ctl/rcc"
)

var (
	ErrTimeout  = errors.New("dma timeout")
	ErrTransfer = errors.New("dma transfer error")
)

const (
	DMA1_BASE = uintptr(0x40026000)
	DMA2_BASE = uintptr(0x40026400)
	DMA_SIZE  = int(unsafe.Sizeof(controllerT{}))

	STREAMS = 8

	DMA_SXCR_EN     = 1 << 0
	DMA_SXCR_CIRC   = 1 << 8
	DMA_SXCR_PINC   = 1 << 9
	DMA_SXCR_MINC   = 1 << 10
	DMA_SXCR_CHSEL  = 0x7 << 25
	DMA_SXCR_PL     = 0x3 << 16
	DMA_SXCR_DIR    = 0x3 << 6
	DMA_SXCR_PSIZE  = 0x3 << 11
	DMA_SXCR_MSIZE  = 0x3 << 13
	DMA_FLAG_FEIF   = 1 << 0
	DMA_FLAG_DMEIF  = 1 << 2
	DMA_FLAG_TEIF   = 1 << 3
	DMA_FLAG_HTIF   = 1 << 4
	DMA_FLAG_TCIF   = 1 << 5
	DMA_FLAG_ALL    = DMA_FLAG_FEIF | DMA_FLAG_DMEIF | DMA_FLAG_TEIF | DMA_FLAG_HTIF | DMA_FLAG_TCIF
	DMA_MAX_CHANNEL = 7
)

// Bit offset of each stream's flag group within LISR/HISR.
var flagShift = [4]uint{0, 6, 16, 22}

type streamT struct {
	cr   uint32 // configuration
	ndtr uint32 // number of data items
	par  uint32 // peripheral address
	m0ar uint32 // memory 0 address
	m1ar uint32 // memory 1 address
	fcr  uint32 // FIFO control
}

// controllerT is one DMA controller's registers, see RM0090 section 10.5.
type controllerT struct {
	lisr    uint32
	hisr    uint32
	lifcr   uint32
	hifcr   uint32
	streams [STREAMS]streamT
}

type Direction uint32

const (
	PeriphToMem Direction = 0
	MemToPeriph Direction = 1
	MemToMem    Direction = 2 // DMA2 only
)

type Size uint32

const (
	Byte     Size = 0
	HalfWord Size = 1
	Word     Size = 2
)

type Priority uint32

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityVeryHigh
)

type Controller struct {
	Num  int
	regs *controllerT
	// In memory, a started transfer completes at once.
	sim bool
	log *log.Logger
}

var controllers = map[int]struct {
	base   uintptr
	periph rcc.Peripheral
}{
	1: {DMA1_BASE, rcc.DMA1},
	2: {DMA2_BASE, rcc.DMA2},
}

func checkNum(n int) error {
	if _, ok := controllers[n]; !ok {
		return fmt.Errorf("no DMA controller %d", n)
	}
	return nil
}

func New(n int) (*Controller, error) {
	err := checkNum(n)
	if err != nil {
		return nil, err
	}
	return &Controller{Num: n, regs: &controllerT{}, sim: true, log: log.Default()}, nil
}

// At lays controller n over memory mapped at its Base.
func At(n int, p unsafe.Pointer) (*Controller, error) {
	err := checkNum(n)
	if err != nil {
		return nil, err
	}
	return &Controller{Num: n, regs: (*controllerT)(p), log: log.Default()}, nil
}

// SetLogger sends stream programming logs to l. Nil means log.Default().
func (c *Controller) SetLogger(l *log.Logger) {
	if l == nil {
		l = log.Default()
	}
	c.log = l
}

func Base(n int) uintptr {
	return controllers[n].base
}

// Clock is the RCC gate the controller needs enabled.
func (c *Controller) Clock() rcc.Peripheral {
	return controllers[c.Num].periph
}

type Stream struct {
	c    *Controller
	Num  int
	regs *streamT
}

func (c *Controller) Stream(n int) (*Stream, error) {
	if n < 0 || n >= STREAMS {
		return nil, fmt.Errorf("no stream %d on DMA%d", n, c.Num)
	}
	return &Stream{c: c, Num: n, regs: &c.regs.streams[n]}, nil
}

type StreamConfig struct {
	Channel    uint32
	Dir        Direction
	PeriphAddr uint32
	MemAddr    uint32
	Count      uint16
	PeriphInc  bool
	MemInc     bool
	PeriphSize Size
	MemSize    Size
	Priority   Priority
	Circular   bool
}

func (s *Stream) String() string {
	return fmt.Sprintf("DMA%d stream %d", s.c.Num, s.Num)
}

// Configure programs a stopped stream. It doesn't start it.
func (s *Stream) Configure(cfg StreamConfig) error {
	if s.regs.cr&DMA_SXCR_EN != 0 {
		return fmt.Errorf("%v is running", s)
	}
	if cfg.Channel > DMA_MAX_CHANNEL {
		return fmt.Errorf("%v: invalid channel %d", s, cfg.Channel)
	}
	if cfg.Dir > MemToMem || (cfg.Dir == MemToMem && s.c.Num != 2) {
		return fmt.Errorf("%v: invalid direction %d", s, cfg.Dir)
	}
	if cfg.PeriphSize > Word || cfg.MemSize > Word || cfg.Priority > PriorityVeryHigh {
		return fmt.Errorf("%v: invalid size or priority", s)
	}
	cr := cfg.Channel<<25 |
		uint32(cfg.Priority)<<16 |
		uint32(cfg.MemSize)<<13 |
		uint32(cfg.PeriphSize)<<11 |
		uint32(cfg.Dir)<<6
	if cfg.MemInc {
		cr |= DMA_SXCR_MINC
	}
	if cfg.PeriphInc {
		cr |= DMA_SXCR_PINC
	}
	if cfg.Circular {
		cr |= DMA_SXCR_CIRC
	}
	s.ClearFlags()
	s.regs.cr = cr
	s.regs.ndtr = uint32(cfg.Count)
	s.regs.par = cfg.PeriphAddr
	s.regs.m0ar = cfg.MemAddr
	s.c.log.Printf("%v: cr %08X ndtr %d par %08X m0ar %08X\n", s, cr, cfg.Count, cfg.PeriphAddr, cfg.MemAddr)
	return nil
}

func (s *Stream) isr() *uint32 {
	if s.Num < 4 {
		return &s.c.regs.lisr
	}
	return &s.c.regs.hisr
}

func (s *Stream) ifcr() *uint32 {
	if s.Num < 4 {
		return &s.c.regs.lifcr
	}
	return &s.c.regs.hifcr
}

// Flags returns this stream's interrupt flags, shifted down to bit 0.
func (s *Stream) Flags() uint32 {
	return (*s.isr() >> flagShift[s.Num%4]) & DMA_FLAG_ALL
}

func (s *Stream) ClearFlags() {
	mask := uint32(DMA_FLAG_ALL) << flagShift[s.Num%4]
	*s.ifcr() = mask
	if s.c.sim {
		*s.isr() &^= mask
	}
}

func (s *Stream) Start() {
	s.regs.cr |= DMA_SXCR_EN
	if s.c.sim {
		s.regs.ndtr = 0
		s.regs.cr &^= DMA_SXCR_EN
		*s.isr() |= DMA_FLAG_TCIF << flagShift[s.Num%4]
	}
}

// Stop disables the stream and waits until the hardware agrees.
func (s *Stream) Stop(p rcc.ReadyPoller) error {
	s.regs.cr &^= DMA_SXCR_EN
	err := p.WaitReady(s.String()+" disable", func() bool { return s.regs.cr&DMA_SXCR_EN == 0 })
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return nil
}

// WaitDone waits for transfer complete or transfer error, then clears the
// stream's flags.
func (s *Stream) WaitDone(p rcc.ReadyPoller) error {
	var flags uint32
	err := p.WaitReady(s.String()+" done", func() bool {
		flags = s.Flags()
		return flags&(DMA_FLAG_TCIF|DMA_FLAG_TEIF) != 0
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	s.ClearFlags()
	if flags&DMA_FLAG_TEIF != 0 {
		return fmt.Errorf("%w: %v flags %02X, ndtr %d", ErrTransfer, s, flags, s.regs.ndtr)
	}
	return nil
}

// Remaining is the number of items not yet transferred.
func (s *Stream) Remaining() uint16 {
	return uint16(s.regs.ndtr)
}
