package rcc

import (
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Bus int

const (
	AHB1 Bus = iota
	AHB2
	AHB3
	APB1
	APB2
)

// First flat peripheral ID of each bus. AHB3 owns [64,128) but only has 32
// enable bits.
var busFirstID = [...]int{0, 32, 64, 128, 160}

const PERIPH_ID_END = 192

func (b Bus) String() string {
	switch b {
	case AHB1:
		return "AHB1"
	case AHB2:
		return "AHB2"
	case AHB3:
		return "AHB3"
	case APB1:
		return "APB1"
	case APB2:
		return "APB2"
	}
	return fmt.Sprintf("Bus(%d)", int(b))
}

// Peripheral names one clock enable/reset bit on one bus.
type Peripheral struct {
	Bus Bus
	Bit uint
}

// PeripheralFromID maps a flat peripheral ID onto its bus and bit.
func PeripheralFromID(id int) (Peripheral, error) {
	switch {
	case id < 0 || id >= PERIPH_ID_END:
	case id >= busFirstID[APB2]:
		return Peripheral{APB2, uint(id - busFirstID[APB2])}, nil
	case id >= busFirstID[APB1]:
		return Peripheral{APB1, uint(id - busFirstID[APB1])}, nil
	case id >= busFirstID[AHB3]:
		if id-busFirstID[AHB3] < 32 {
			return Peripheral{AHB3, uint(id - busFirstID[AHB3])}, nil
		}
	case id >= busFirstID[AHB2]:
		return Peripheral{AHB2, uint(id - busFirstID[AHB2])}, nil
	default:
		return Peripheral{AHB1, uint(id)}, nil
	}
	return Peripheral{}, fmt.Errorf("%w: id %d", ErrUnknownPeripheral, id)
}

func (p Peripheral) ID() int {
	return busFirstID[p.Bus] + int(p.Bit)
}

func (p Peripheral) valid() bool {
	return p.Bus >= AHB1 && p.Bus <= APB2 && p.Bit < 32
}

func (p Peripheral) String() string {
	for name, q := range PeripheralNames {
		if q == p {
			return name
		}
	}
	return fmt.Sprintf("%v bit %d", p.Bus, p.Bit)
}

var (
	GPIOA      = Peripheral{AHB1, 0}
	GPIOB      = Peripheral{AHB1, 1}
	GPIOC      = Peripheral{AHB1, 2}
	GPIOD      = Peripheral{AHB1, 3}
	GPIOE      = Peripheral{AHB1, 4}
	GPIOF      = Peripheral{AHB1, 5}
	GPIOG      = Peripheral{AHB1, 6}
	GPIOH      = Peripheral{AHB1, 7}
	GPIOI      = Peripheral{AHB1, 8}
	GPIOJ      = Peripheral{AHB1, 9}
	GPIOK      = Peripheral{AHB1, 10}
	CRC        = Peripheral{AHB1, 12}
	BKPSRAM    = Peripheral{AHB1, 18}
	CCMDATARAM = Peripheral{AHB1, 20}
	DMA1       = Peripheral{AHB1, 21}
	DMA2       = Peripheral{AHB1, 22}
	DMA2D      = Peripheral{AHB1, 23}
	ETHMAC     = Peripheral{AHB1, 25}
	ETHMACTX   = Peripheral{AHB1, 26}
	ETHMACRX   = Peripheral{AHB1, 27}
	ETHMACPTP  = Peripheral{AHB1, 28}
	OTGHS      = Peripheral{AHB1, 29}
	OTGHSULPI  = Peripheral{AHB1, 30}

	DCMI  = Peripheral{AHB2, 0}
	CRYP  = Peripheral{AHB2, 4}
	HASH  = Peripheral{AHB2, 5}
	RNG   = Peripheral{AHB2, 6}
	OTGFS = Peripheral{AHB2, 7}

	FMC = Peripheral{AHB3, 0}

	TIM2   = Peripheral{APB1, 0}
	TIM3   = Peripheral{APB1, 1}
	TIM4   = Peripheral{APB1, 2}
	TIM5   = Peripheral{APB1, 3}
	TIM6   = Peripheral{APB1, 4}
	TIM7   = Peripheral{APB1, 5}
	TIM12  = Peripheral{APB1, 6}
	TIM13  = Peripheral{APB1, 7}
	TIM14  = Peripheral{APB1, 8}
	WWDG   = Peripheral{APB1, 11}
	SPI2   = Peripheral{APB1, 14}
	SPI3   = Peripheral{APB1, 15}
	USART2 = Peripheral{APB1, 17}
	USART3 = Peripheral{APB1, 18}
	UART4  = Peripheral{APB1, 19}
	UART5  = Peripheral{APB1, 20}
	I2C1   = Peripheral{APB1, 21}
	I2C2   = Peripheral{APB1, 22}
	I2C3   = Peripheral{APB1, 23}
	CAN1   = Peripheral{APB1, 25}
	CAN2   = Peripheral{APB1, 26}
	PWR    = Peripheral{APB1, 28}
	DAC    = Peripheral{APB1, 29}
	UART7  = Peripheral{APB1, 30}
	UART8  = Peripheral{APB1, 31}

	TIM1   = Peripheral{APB2, 0}
	TIM8   = Peripheral{APB2, 1}
	USART1 = Peripheral{APB2, 4}
	USART6 = Peripheral{APB2, 5}
	ADC1   = Peripheral{APB2, 8}
	ADC2   = Peripheral{APB2, 9}
	ADC3   = Peripheral{APB2, 10}
	SDIO   = Peripheral{APB2, 11}
	SPI1   = Peripheral{APB2, 12}
	SPI4   = Peripheral{APB2, 13}
	SYSCFG = Peripheral{APB2, 14}
	TIM9   = Peripheral{APB2, 16}
	TIM10  = Peripheral{APB2, 17}
	TIM11  = Peripheral{APB2, 18}
	SPI5   = Peripheral{APB2, 20}
	SPI6   = Peripheral{APB2, 21}
	SAI1   = Peripheral{APB2, 22}
	LTDC   = Peripheral{APB2, 26}
)

var PeripheralNames = map[string]Peripheral{
	"GPIOA": GPIOA, "GPIOB": GPIOB, "GPIOC": GPIOC, "GPIOD": GPIOD, "GPIOE": GPIOE,
	"GPIOF": GPIOF, "GPIOG": GPIOG, "GPIOH": GPIOH, "GPIOI": GPIOI, "GPIOJ": GPIOJ,
	"GPIOK": GPIOK, "CRC": CRC, "BKPSRAM": BKPSRAM, "CCMDATARAM": CCMDATARAM,
	"DMA1": DMA1, "DMA2": DMA2, "DMA2D": DMA2D, "ETHMAC": ETHMAC, "ETHMACTX": ETHMACTX,
	"ETHMACRX": ETHMACRX, "ETHMACPTP": ETHMACPTP, "OTGHS": OTGHS, "OTGHSULPI": OTGHSULPI,

	"DCMI": DCMI, "CRYP": CRYP, "HASH": HASH, "RNG": RNG, "OTGFS": OTGFS,

	"FMC": FMC,

	"TIM2": TIM2, "TIM3": TIM3, "TIM4": TIM4, "TIM5": TIM5, "TIM6": TIM6, "TIM7": TIM7,
	"TIM12": TIM12, "TIM13": TIM13, "TIM14": TIM14, "WWDG": WWDG, "SPI2": SPI2, "SPI3": SPI3,
	"USART2": USART2, "USART3": USART3, "UART4": UART4, "UART5": UART5, "I2C1": I2C1,
	"I2C2": I2C2, "I2C3": I2C3, "CAN1": CAN1, "CAN2": CAN2, "PWR": PWR, "DAC": DAC,
	"UART7": UART7, "UART8": UART8,

	"TIM1": TIM1, "TIM8": TIM8, "USART1": USART1, "USART6": USART6, "ADC1": ADC1,
	"ADC2": ADC2, "ADC3": ADC3, "SDIO": SDIO, "SPI1": SPI1, "SPI4": SPI4, "SYSCFG": SYSCFG,
	"TIM9": TIM9, "TIM10": TIM10, "TIM11": TIM11, "SPI5": SPI5, "SPI6": SPI6, "SAI1": SAI1,
	"LTDC": LTDC,
}

// Only present on the extended (STM32F42x) line.
var extendedOnly = map[Peripheral]bool{
	GPIOJ: true, GPIOK: true, DMA2D: true, UART7: true, UART8: true,
	SPI4: true, SPI5: true, SPI6: true, SAI1: true, LTDC: true,
}

// PeripheralByName looks a peripheral up by its RM0090 name, e.g. "USART2".
func PeripheralByName(name string) (Peripheral, error) {
	p, ok := PeripheralNames[name]
	if !ok {
		return Peripheral{}, fmt.Errorf("%w: %q", ErrUnknownPeripheral, name)
	}
	return p, nil
}

// SortedPeripheralNames returns every name in PeripheralNames, ordered by ID.
func SortedPeripheralNames() []string {
	names := maps.Keys(PeripheralNames)
	slices.SortFunc(names, func(a, b string) bool {
		return PeripheralNames[a].ID() < PeripheralNames[b].ID()
	})
	return names
}

func (p Peripheral) Extended() bool {
	return extendedOnly[p]
}

func (r *Registers) enr(b Bus) *uint32 {
	switch b {
	case AHB1:
		return &r.ahb1enr
	case AHB2:
		return &r.ahb2enr
	case AHB3:
		return &r.ahb3enr
	case APB1:
		return &r.apb1enr
	}
	return &r.apb2enr
}

func (r *Registers) rstr(b Bus) *uint32 {
	switch b {
	case AHB1:
		return &r.ahb1rstr
	case AHB2:
		return &r.ahb2rstr
	case AHB3:
		return &r.ahb3rstr
	case APB1:
		return &r.apb1rstr
	}
	return &r.apb2rstr
}
