package gpio

import (
	"fmt"
	"log"
	"sync"

	"github.com/Jon-Bright/stm32ctl/hw"
	"github.com/Jon-Bright/stm32ctl/rcc"
)

type Direction int

const (
	DirIn Direction = iota
	DirOut
)

type Mode int

const (
	ModeDigital Mode = iota // plain input or output, per Direction
	ModeAlternate
	ModeAnalog
)

type Pull uint32

const (
	PullNone Pull = 0
	PullUp   Pull = 1
	PullDown Pull = 2
)

type Speed uint32

const (
	SpeedLow Speed = iota
	SpeedMedium
	SpeedFast
	SpeedHigh
)

type Level bool

const (
	Low  Level = false
	High Level = true
)

// Channel configures one pin. Channels are addressed by their index in the
// slice given to Init.
type Channel struct {
	Name      string
	Port      int // 0 is port A
	Pin       uint
	Direction Direction
	Mode      Mode
	AF        uint32 // with ModeAlternate
	Pull      Pull
	Speed     Speed
	OpenDrain bool
	Initial   Level // outputs only

	DirectionChangeable bool
	ModeChangeable      bool
}

// ClockGate is the part of the RCC manager the driver needs.
type ClockGate interface {
	EnableClock(p rcc.Peripheral) error
}

// Driver is the Port and Dio API over one Bank.
type Driver struct {
	mu       sync.Mutex
	bank     *Bank
	clk      ClockGate
	variant  hw.Variant
	channels []Channel
	inited   bool
	log      *log.Logger
}

func NewDriver(bank *Bank, clk ClockGate, v hw.Variant) *Driver {
	return &Driver{
		bank:    bank,
		clk:     clk,
		variant: v,
		log:     log.Default(),
	}
}

func (d *Driver) SetLogger(l *log.Logger) {
	if l == nil {
		l = log.Default()
	}
	d.log = l
}

func (d *Driver) checkChannel(c *Channel) error {
	if c.Port < 0 || c.Port >= d.variant.Ports {
		return fmt.Errorf("%w: %s not on %v", ErrInvalidPort, PortName(c.Port), d.variant)
	}
	if c.Pin >= PINS_PER_PORT {
		return fmt.Errorf("%w: pin %d", ErrInvalidChannel, c.Pin)
	}
	if c.Direction != DirIn && c.Direction != DirOut {
		return fmt.Errorf("%w: direction %d", ErrInvalidMode, c.Direction)
	}
	if c.Mode < ModeDigital || c.Mode > ModeAnalog {
		return fmt.Errorf("%w: %d", ErrInvalidMode, c.Mode)
	}
	if c.Mode == ModeAlternate && c.AF > AF15_EVENTOUT {
		return fmt.Errorf("%w: AF%d", ErrInvalidMode, c.AF)
	}
	if c.Pull > PullDown || c.Speed > SpeedHigh {
		return fmt.Errorf("%w: pull %d speed %d", ErrInvalidMode, c.Pull, c.Speed)
	}
	return nil
}

// Init checks every channel, enables the clocks of the ports they use and
// then programs each pin. Nothing is written if any channel is bad.
func (d *Driver) Init(channels []Channel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range channels {
		err := d.checkChannel(&channels[i])
		if err != nil {
			return fmt.Errorf("channel %d (%s): %w", i, channels[i].Name, err)
		}
	}

	clocked := map[int]bool{}
	for _, c := range channels {
		if clocked[c.Port] {
			continue
		}
		err := d.clk.EnableClock(PortClock(c.Port))
		if err != nil {
			return fmt.Errorf("couldn't enable clock for port %s: %w", PortName(c.Port), err)
		}
		clocked[c.Port] = true
	}

	d.channels = append([]Channel(nil), channels...)
	for i := range d.channels {
		c := &d.channels[i]
		p, _ := d.bank.port(c.Port)
		if c.Direction == DirOut && c.Mode == ModeDigital {
			// Latch the level before the pin starts driving.
			d.bank.writeBSRR(p, bsrrFor(c.Pin, c.Initial))
		}
		setField(&p.otyper, c.Pin, 1, boolBit(c.OpenDrain))
		setField(&p.ospeedr, c.Pin*2, 0x3, uint32(c.Speed))
		setField(&p.pupdr, c.Pin*2, 0x3, uint32(c.Pull))
		if c.Mode == ModeAlternate {
			setField(&p.afr[c.Pin/8], (c.Pin%8)*4, 0xf, c.AF)
		}
		d.bank.setMode(p, c.Pin, moderFor(c.Direction, c.Mode))
		d.log.Printf("P%s%d (%s): moder %d af %d pull %d\n", PortName(c.Port), c.Pin, c.Name, moderFor(c.Direction, c.Mode), c.AF, c.Pull)
	}
	d.inited = true
	return nil
}

func setField(reg *uint32, shift uint, mask, val uint32) {
	*reg = (*reg &^ (mask << shift)) | ((val & mask) << shift)
}

func boolBit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func moderFor(dir Direction, mode Mode) uint32 {
	switch mode {
	case ModeAlternate:
		return GPIO_MODER_AF
	case ModeAnalog:
		return GPIO_MODER_ANALOG
	}
	if dir == DirOut {
		return GPIO_MODER_OUTPUT
	}
	return GPIO_MODER_INPUT
}

func bsrrFor(pin uint, l Level) uint32 {
	if l == High {
		return 1 << pin
	}
	return 1 << (pin + 16)
}

func (d *Driver) channel(ch int) (*Channel, *portT, error) {
	if !d.inited {
		return nil, nil, ErrUninit
	}
	if ch < 0 || ch >= len(d.channels) {
		return nil, nil, fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	c := &d.channels[ch]
	p, err := d.bank.port(c.Port)
	if err != nil {
		return nil, nil, err
	}
	return c, p, nil
}

// ChannelByName finds the index of a channel given to Init.
func (d *Driver) ChannelByName(name string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inited {
		return 0, ErrUninit
	}
	for i, c := range d.channels {
		if c.Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidChannel, name)
}

func (d *Driver) SetPinDirection(ch int, dir Direction) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, p, err := d.channel(ch)
	if err != nil {
		return err
	}
	if !c.DirectionChangeable {
		return fmt.Errorf("%w: channel %d (%s)", ErrDirectionUnchangeable, ch, c.Name)
	}
	if dir != DirIn && dir != DirOut {
		return fmt.Errorf("%w: direction %d", ErrInvalidMode, dir)
	}
	c.Direction = dir
	d.bank.setMode(p, c.Pin, moderFor(c.Direction, c.Mode))
	return nil
}

// RefreshPortDirection rewrites the direction of every channel whose direction
// can't be changed, undoing anything else that touched MODER.
func (d *Driver) RefreshPortDirection() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inited {
		return ErrUninit
	}
	for i := range d.channels {
		c := &d.channels[i]
		if c.DirectionChangeable || c.Mode != ModeDigital {
			continue
		}
		p, _ := d.bank.port(c.Port)
		d.bank.setMode(p, c.Pin, moderFor(c.Direction, c.Mode))
	}
	return nil
}

func (d *Driver) SetPinMode(ch int, mode Mode, af uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, p, err := d.channel(ch)
	if err != nil {
		return err
	}
	if !c.ModeChangeable {
		return fmt.Errorf("%w: channel %d (%s)", ErrModeUnchangeable, ch, c.Name)
	}
	if mode < ModeDigital || mode > ModeAnalog || (mode == ModeAlternate && af > AF15_EVENTOUT) {
		return fmt.Errorf("%w: mode %d AF%d", ErrInvalidMode, mode, af)
	}
	c.Mode = mode
	if mode == ModeAlternate {
		c.AF = af
		setField(&p.afr[c.Pin/8], (c.Pin%8)*4, 0xf, af)
	}
	d.bank.setMode(p, c.Pin, moderFor(c.Direction, c.Mode))
	return nil
}
