package rcc

import (
	"log"
)

// Clocks are bus frequencies in Hz, derived from live register contents. The
// PLL output taps are 0 while their engine isn't ready.
type Clocks struct {
	SYSCLK    uint32
	HCLK      uint32
	PCLK1     uint32
	PCLK2     uint32
	PLL48CLK  uint32 // main PLL Q output
	PLLI2SCLK uint32 // PLLI2S R output
	PLLLCDCLK uint32 // PLLSAI R output, before the DCKCFGR divider
}

// BusFrequency is the clock a peripheral on bus b runs from.
func (c Clocks) BusFrequency(b Bus) uint32 {
	switch b {
	case APB1:
		return c.PCLK1
	case APB2:
		return c.PCLK2
	}
	return c.HCLK
}

// TimerFrequency is the timer kernel clock on bus b. APB timers run at twice
// PCLK whenever the APB prescaler divides.
func (c Clocks) TimerFrequency(b Bus) uint32 {
	pclk := c.BusFrequency(b)
	if (b == APB1 || b == APB2) && pclk != c.HCLK {
		return pclk * 2
	}
	return pclk
}

func pllOut(vco uint64, div uint32) uint32 {
	if div == 0 {
		return 0
	}
	return uint32(vco / uint64(div))
}

// readClocks does the readback arithmetic. l may be nil to suppress warnings.
func readClocks(r *Registers, hsi, hse uint32, sai bool, l *log.Logger) Clocks {
	var c Clocks

	src := hsi
	if r.pllcfgr&RCC_PLLCFGR_SRC_HSE != 0 {
		src = hse
	}
	var in uint64
	if m := r.pllcfgr & RCC_PLLCFGR_M_MASK; m != 0 {
		in = uint64(src / m)
	}
	vco := in * uint64((r.pllcfgr&RCC_PLLCFGR_N_MASK)>>RCC_PLLCFGR_N_SHIFT)

	switch SysClkSource((r.cfgr & RCC_CFGR_SWS_MASK) >> RCC_CFGR_SWS_SHIFT) {
	case SysClkHSI:
		c.SYSCLK = hsi
	case SysClkHSE:
		c.SYSCLK = hse
	case SysClkPLL:
		p := PLLP((r.pllcfgr & RCC_PLLCFGR_P_MASK) >> RCC_PLLCFGR_P_SHIFT)
		c.SYSCLK = pllOut(vco, p.Divisor())
	default:
		if l != nil {
			l.Printf("warning: SWS reports reserved source 3, assuming HSI\n")
		}
		c.SYSCLK = hsi
	}

	hpre := AHBDivider((r.cfgr & RCC_CFGR_HPRE_MASK) >> RCC_CFGR_HPRE_SHIFT)
	ppre1 := APBDivider((r.cfgr & RCC_CFGR_PPRE1_MASK) >> RCC_CFGR_PPRE1_SHIFT)
	ppre2 := APBDivider((r.cfgr & RCC_CFGR_PPRE2_MASK) >> RCC_CFGR_PPRE2_SHIFT)
	c.HCLK = c.SYSCLK >> ahbShift[hpre]
	c.PCLK1 = c.HCLK >> apbShift[ppre1]
	c.PCLK2 = c.HCLK >> apbShift[ppre2]

	if r.cr&RCC_CR_PLLRDY != 0 {
		c.PLL48CLK = pllOut(vco, (r.pllcfgr&RCC_PLLCFGR_Q_MASK)>>RCC_PLLCFGR_Q_SHIFT)
	}
	if r.cr&RCC_CR_PLLI2SRDY != 0 {
		n := (r.plli2scfgr & RCC_PLLCFGR_N_MASK) >> RCC_PLLCFGR_N_SHIFT
		c.PLLI2SCLK = pllOut(in*uint64(n), (r.plli2scfgr&RCC_PLLXCFGR_R_MASK)>>RCC_PLLXCFGR_R_SHIFT)
	}
	if sai && r.cr&RCC_CR_PLLSAIRDY != 0 {
		n := (r.pllsaicfgr & RCC_PLLCFGR_N_MASK) >> RCC_PLLCFGR_N_SHIFT
		c.PLLLCDCLK = pllOut(in*uint64(n), (r.pllsaicfgr&RCC_PLLXCFGR_R_MASK)>>RCC_PLLXCFGR_R_SHIFT)
	}
	return c
}
