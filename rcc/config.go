package rcc

import (
	"fmt"
)

const (
	HSI_FREQ = 16000000 // internal RC oscillator
	HSE_FREQ = 8000000  // default external crystal, as on the Discovery boards
)

type Oscillator uint32

const (
	OscillatorHSI Oscillator = iota
	OscillatorHSE
)

func (o Oscillator) String() string {
	switch o {
	case OscillatorHSI:
		return "HSI"
	case OscillatorHSE:
		return "HSE"
	}
	return fmt.Sprintf("Oscillator(%d)", uint32(o))
}

// SysClkSource values are the CFGR SW/SWS encodings.
type SysClkSource uint32

const (
	SysClkHSI SysClkSource = 0
	SysClkHSE SysClkSource = 1
	SysClkPLL SysClkSource = 2
)

func (s SysClkSource) String() string {
	switch s {
	case SysClkHSI:
		return "HSI"
	case SysClkHSE:
		return "HSE"
	case SysClkPLL:
		return "PLL"
	}
	return fmt.Sprintf("SysClkSource(%d)", uint32(s))
}

// AHBDivider is the 4-bit HPRE code. Codes below 8 don't divide.
type AHBDivider uint32

const (
	AHB_DIV_1   AHBDivider = 0
	AHB_DIV_2   AHBDivider = 8
	AHB_DIV_4   AHBDivider = 9
	AHB_DIV_8   AHBDivider = 10
	AHB_DIV_16  AHBDivider = 11
	AHB_DIV_64  AHBDivider = 12
	AHB_DIV_128 AHBDivider = 13
	AHB_DIV_256 AHBDivider = 14
	AHB_DIV_512 AHBDivider = 15
)

// APBDivider is the 3-bit PPRE code. Codes below 4 don't divide.
type APBDivider uint32

const (
	APB_DIV_1  APBDivider = 0
	APB_DIV_2  APBDivider = 4
	APB_DIV_4  APBDivider = 5
	APB_DIV_8  APBDivider = 6
	APB_DIV_16 APBDivider = 7
)

// PLLP is the 2-bit main PLL P code, dividing by (code+1)*2.
type PLLP uint32

const (
	PLLP_DIV_2 PLLP = 0
	PLLP_DIV_4 PLLP = 1
	PLLP_DIV_6 PLLP = 2
	PLLP_DIV_8 PLLP = 3
)

// Shift amounts indexed by prescaler code. Hardware only divides when the
// top bit of the field is set.
var (
	ahbShift = [16]uint{0, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4, 6, 7, 8, 9}
	apbShift = [8]uint{0, 0, 0, 0, 1, 2, 3, 4}
)

func (d AHBDivider) Divisor() uint32 {
	return 1 << ahbShift[d&0xf]
}

func (d APBDivider) Divisor() uint32 {
	return 1 << apbShift[d&0x7]
}

func (p PLLP) Divisor() uint32 {
	return (uint32(p&0x3) + 1) * 2
}

// AHBDividerFor returns the code for an actual divisor, e.g. 4 gives AHB_DIV_4.
func AHBDividerFor(div int) (AHBDivider, error) {
	if div == 1 {
		return AHB_DIV_1, nil
	}
	for code := AHB_DIV_2; code <= AHB_DIV_512; code++ {
		if int(code.Divisor()) == div {
			return code, nil
		}
	}
	return 0, fmt.Errorf("%d is not an AHB divisor", div)
}

func APBDividerFor(div int) (APBDivider, error) {
	if div == 1 {
		return APB_DIV_1, nil
	}
	for code := APB_DIV_2; code <= APB_DIV_16; code++ {
		if int(code.Divisor()) == div {
			return code, nil
		}
	}
	return 0, fmt.Errorf("%d is not an APB divisor", div)
}

func PLLPFor(div int) (PLLP, error) {
	switch div {
	case 2, 4, 6, 8:
		return PLLP(div/2 - 1), nil
	}
	return 0, fmt.Errorf("%d is not a PLL P divisor", div)
}

// PLLConfig describes the three PLL engines. They share the input source and
// the M pre-divider; each has its own multiplier and output dividers.
type PLLConfig struct {
	Main bool
	I2S  bool
	SAI  bool // STM32F429 only

	Source Oscillator
	M      uint32

	N uint32
	P PLLP
	Q uint32 // 48 MHz domain: USB OTG FS, SDIO, RNG

	I2SN uint32
	I2SQ uint32 // STM32F429 only
	I2SR uint32

	SAIN uint32
	SAIQ uint32
	SAIR uint32
}

// Config is what Configure is asked to set up.
type Config struct {
	Oscillator   Oscillator
	SysClkSource SysClkSource
	AHB          AHBDivider
	APB1         APBDivider
	APB2         APBDivider
	PLL          PLLConfig
}
