package gpio

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/Jon-Bright/stm32ctl/hw"
	"github.com/Jon-Bright/stm32ctl/rcc"
)

const (
	GPIO_BASE        = uintptr(0x40020000) // GPIOA
	GPIO_PORT_STRIDE = 0x400
	PINS_PER_PORT    = 16
)

var (
	ErrUninit                = errors.New("gpio driver not initialized")
	ErrInvalidChannel        = errors.New("invalid channel")
	ErrInvalidPort           = errors.New("invalid port")
	ErrInvalidMode           = errors.New("invalid mode")
	ErrDirectionUnchangeable = errors.New("direction unchangeable")
	ErrModeUnchangeable      = errors.New("mode unchangeable")
)

// Alternate function numbers, see the STM32F4 datasheet AF mapping tables.
const (
	AF0_SYSTEM              = 0
	AF1_TIM1_2              = 1
	AF2_TIM3_4_5            = 2
	AF3_TIM8_9_10_11        = 3
	AF4_I2C1_2_3            = 4
	AF5_SPI1_2_4_5_6        = 5
	AF6_SPI3_SAI1           = 6
	AF7_USART1_2_3          = 7
	AF8_USART4_5_6_UART7_8  = 8
	AF9_CAN1_2_TIM12_13_14  = 9
	AF10_OTG_FS_HS          = 10
	AF11_ETH                = 11
	AF12_FMC_SDIO_OTG_HS_FS = 12
	AF13_DCMI               = 13
	AF14_LTDC               = 14
	AF15_EVENTOUT           = 15
)

// portT is one port's registers, see RM0090 section 8.4.
type portT struct {
	moder   uint32
	otyper  uint32
	ospeedr uint32
	pupdr   uint32
	idr     uint32
	odr     uint32
	bsrr    uint32 // write-only: low half sets, high half resets
	lckr    uint32
	afr     [2]uint32
}

const (
	GPIO_MODER_INPUT  = 0
	GPIO_MODER_OUTPUT = 1
	GPIO_MODER_AF     = 2
	GPIO_MODER_ANALOG = 3
)

// Bank is the set of GPIO ports present on one part.
type Bank struct {
	ports []*portT
	// In memory, nothing moves BSRR writes into ODR, or ODR onto the input
	// buffer, so we do.
	sim bool
}

// BankSize is how much memory the ports of v occupy from GPIO_BASE.
func BankSize(v hw.Variant) int {
	return (v.Ports-1)*GPIO_PORT_STRIDE + int(unsafe.Sizeof(portT{}))
}

// NewBank allocates an in-memory bank for simulation.
func NewBank(v hw.Variant) *Bank {
	b := &Bank{sim: true}
	for i := 0; i < v.Ports; i++ {
		b.ports = append(b.ports, &portT{})
	}
	return b
}

// BankAt lays the bank over memory mapped at GPIO_BASE, BankSize(v) long.
func BankAt(p unsafe.Pointer, v hw.Variant) *Bank {
	b := &Bank{}
	for i := 0; i < v.Ports; i++ {
		b.ports = append(b.ports, (*portT)(unsafe.Add(p, i*GPIO_PORT_STRIDE)))
	}
	return b
}

func (b *Bank) port(n int) (*portT, error) {
	if n < 0 || n >= len(b.ports) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPort, PortName(n))
	}
	return b.ports[n], nil
}

func (b *Bank) writeBSRR(p *portT, val uint32) {
	p.bsrr = val
	if b.sim {
		p.odr = (p.odr &^ (val >> 16)) | (val & 0xffff)
		b.settle(p)
	}
}

func (b *Bank) setMode(p *portT, pin uint, mode uint32) {
	setField(&p.moder, pin*2, 0x3, mode)
	if b.sim {
		b.settle(p)
	}
}

// settle copies ODR into IDR for output pins, as the input buffer does on
// silicon. Input pins keep whatever IDR holds.
func (b *Bank) settle(p *portT) {
	var out uint32
	for pin := uint(0); pin < PINS_PER_PORT; pin++ {
		if (p.moder>>(pin*2))&0x3 == GPIO_MODER_OUTPUT {
			out |= 1 << pin
		}
	}
	p.idr = (p.idr &^ out) | (p.odr & out)
}

// PortName gives "A" for 0 and so on.
func PortName(n int) string {
	if n < 0 || n > 25 {
		return fmt.Sprintf("port %d", n)
	}
	return string(rune('A' + n))
}

// PortFromName is the inverse of PortName. It accepts "A", "GPIOA" or "PA".
func PortFromName(s string) (int, error) {
	switch {
	case len(s) == 5 && s[:4] == "GPIO":
		s = s[4:]
	case len(s) == 2 && s[0] == 'P':
		s = s[1:]
	}
	if len(s) != 1 || s[0] < 'A' || s[0] > 'Z' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, s)
	}
	return int(s[0] - 'A'), nil
}

// PortClock is the RCC gate for port n.
func PortClock(n int) rcc.Peripheral {
	return rcc.Peripheral{Bus: rcc.AHB1, Bit: uint(n)}
}
