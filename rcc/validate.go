package rcc

import (
	"errors"
	"fmt"

	"github.com/Jon-Bright/stm32ctl/hw"
)

const (
	PLLM_MIN     = 2
	PLLM_MAX     = 63
	PLLN_MIN     = 2
	PLLN_MAX     = 432
	PLLQ_MIN     = 2
	PLLQ_MAX     = 15
	PLLR_MIN     = 2
	PLLR_MAX     = 7
	VCO_IN_MIN   = 1000000
	VCO_IN_MAX   = 2000000
	VCO_OUT_MIN  = 100000000
	VCO_OUT_MAX  = 432000000
	PLL_DEFAULTS = 2 // what out of range M, N, Q and R fall back to when clamping
)

// ConfigError reports one field Validate refused.
type ConfigError struct {
	Field  string
	Value  uint32
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %d: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Settings is a Config that is safe to program into the given variant.
type Settings struct {
	Config
	Variant hw.Variant
}

type checker struct {
	errs []error
}

func (c *checker) fail(field string, val uint32, format string, args ...interface{}) {
	c.errs = append(c.errs, &ConfigError{Field: field, Value: val, Reason: fmt.Sprintf(format, args...)})
}

func (c *checker) rng(field string, val, min, max uint32) {
	if val < min || val > max {
		c.fail(field, val, "must be in [%d, %d]", min, max)
	}
}

func (c *checker) vco(engine string, in, n uint32) {
	out := uint64(in) * uint64(n)
	if out < VCO_OUT_MIN || out > VCO_OUT_MAX {
		c.fail(engine+" VCO MHz", uint32(out/hw.MHz), "must be in [%d, %d]", VCO_OUT_MIN/hw.MHz, VCO_OUT_MAX/hw.MHz)
	}
}

func (c *checker) limit(name string, got, max uint32) {
	if got > max {
		c.fail(name+" Hz", got, "exceeds the %d maximum", max)
	}
}

// Validate checks every field of cfg against what the hardware accepts and
// against the variant's frequency limits, without touching any register. All
// problems are reported, joined, and each matches ErrInvalidConfig.
func Validate(cfg Config, v hw.Variant, hse uint32) (*Settings, error) {
	c := &checker{}
	pll := &cfg.PLL

	if cfg.Oscillator > OscillatorHSE {
		c.fail("oscillator", uint32(cfg.Oscillator), "must be HSI or HSE")
	}
	if cfg.Oscillator == OscillatorHSE && hse == 0 {
		c.fail("HSE frequency", hse, "must be set to use HSE")
	}
	switch cfg.SysClkSource {
	case SysClkHSI:
	case SysClkHSE:
		if cfg.Oscillator != OscillatorHSE {
			c.fail("sysclk source", uint32(cfg.SysClkSource), "HSE is not enabled")
		}
	case SysClkPLL:
		if !pll.Main {
			c.fail("sysclk source", uint32(cfg.SysClkSource), "main PLL is not enabled")
		}
	default:
		c.fail("sysclk source", uint32(cfg.SysClkSource), "must be HSI, HSE or PLL")
	}
	if cfg.AHB > AHB_DIV_512 || (cfg.AHB != AHB_DIV_1 && cfg.AHB < AHB_DIV_2) {
		c.fail("AHB prescaler", uint32(cfg.AHB), "not a prescaler code")
	}
	for _, apb := range []struct {
		name string
		d    APBDivider
	}{{"APB1 prescaler", cfg.APB1}, {"APB2 prescaler", cfg.APB2}} {
		if apb.d > APB_DIV_16 || (apb.d != APB_DIV_1 && apb.d < APB_DIV_2) {
			c.fail(apb.name, uint32(apb.d), "not a prescaler code")
		}
	}

	if pll.Main {
		var src uint32 = HSI_FREQ
		switch pll.Source {
		case OscillatorHSI:
		case OscillatorHSE:
			if cfg.Oscillator != OscillatorHSE {
				c.fail("PLL source", uint32(pll.Source), "HSE is not enabled")
			}
			src = hse
		default:
			c.fail("PLL source", uint32(pll.Source), "must be HSI or HSE")
		}
		c.rng("PLLM", pll.M, PLLM_MIN, PLLM_MAX)
		c.rng("PLLN", pll.N, PLLN_MIN, PLLN_MAX)
		if pll.P > PLLP_DIV_8 {
			c.fail("PLLP", uint32(pll.P), "must be a 2-bit code")
		}
		c.rng("PLLQ", pll.Q, PLLQ_MIN, PLLQ_MAX)

		if pll.I2S {
			c.rng("PLLI2SN", pll.I2SN, PLLN_MIN, PLLN_MAX)
			if v.Extended {
				c.rng("PLLI2SQ", pll.I2SQ, PLLQ_MIN, PLLQ_MAX)
			}
			c.rng("PLLI2SR", pll.I2SR, PLLR_MIN, PLLR_MAX)
		}
		if pll.SAI {
			if !v.HasPLLSAI {
				c.fail("PLLSAI", 1, "not present on %s", v.Name)
			} else {
				c.rng("PLLSAIN", pll.SAIN, PLLN_MIN, PLLN_MAX)
				c.rng("PLLSAIQ", pll.SAIQ, PLLQ_MIN, PLLQ_MAX)
				c.rng("PLLSAIR", pll.SAIR, PLLR_MIN, PLLR_MAX)
			}
		}

		// Frequency checks only make sense once the dividers are sane.
		if len(c.errs) == 0 {
			in := src / pll.M
			if in < VCO_IN_MIN || in > VCO_IN_MAX {
				c.fail("PLL input Hz", in, "must be in [%d, %d], adjust PLLM", VCO_IN_MIN, VCO_IN_MAX)
			}
			c.vco("main PLL", in, pll.N)
			if pll.I2S {
				c.vco("PLLI2S", in, pll.I2SN)
			}
			if pll.SAI && v.HasPLLSAI {
				c.vco("PLLSAI", in, pll.SAIN)
			}
		}
	} else if pll.I2S || pll.SAI {
		c.fail("PLL", 0, "PLLI2S and PLLSAI are only started along with the main PLL")
	}

	if len(c.errs) > 0 {
		return nil, errors.Join(c.errs...)
	}

	s := &Settings{Config: cfg, Variant: v}
	clk := s.Clocks(HSI_FREQ, hse)
	c.limit("SYSCLK", clk.SYSCLK, v.MaxSYSCLK)
	c.limit("HCLK", clk.HCLK, v.MaxHCLK)
	c.limit("PCLK1", clk.PCLK1, v.MaxPCLK1)
	c.limit("PCLK2", clk.PCLK2, v.MaxPCLK2)
	if len(c.errs) > 0 {
		return nil, errors.Join(c.errs...)
	}
	return s, nil
}

func clamp(val, min, max uint32) uint32 {
	if val < min {
		return PLL_DEFAULTS
	}
	if val > max {
		return max
	}
	return val
}

// Clamp never fails: every out of range field is forced into range, the way
// the legacy C driver did it. M and N below 2 become 2, N above 432 becomes
// 432, Q and R below 2 become 2. Prescaler codes are masked to their field
// width. A PLL source of HSE without the HSE oscillator falls back to HSI.
func Clamp(cfg Config, v hw.Variant) *Settings {
	pll := &cfg.PLL
	pll.M = clamp(pll.M, PLLM_MIN, PLLM_MAX)
	pll.N = clamp(pll.N, PLLN_MIN, PLLN_MAX)
	pll.P &= 0x3
	pll.Q = clamp(pll.Q, PLLQ_MIN, PLLQ_MAX)
	pll.I2SN = clamp(pll.I2SN, PLLN_MIN, PLLN_MAX)
	pll.I2SQ = clamp(pll.I2SQ, PLLQ_MIN, PLLQ_MAX)
	pll.I2SR = clamp(pll.I2SR, PLLR_MIN, PLLR_MAX)
	pll.SAIN = clamp(pll.SAIN, PLLN_MIN, PLLN_MAX)
	pll.SAIQ = clamp(pll.SAIQ, PLLQ_MIN, PLLQ_MAX)
	pll.SAIR = clamp(pll.SAIR, PLLR_MIN, PLLR_MAX)
	if !v.HasPLLSAI {
		pll.SAI = false
	}
	if cfg.Oscillator != OscillatorHSE {
		cfg.Oscillator = OscillatorHSI
		pll.Source = OscillatorHSI
	} else if pll.Source != OscillatorHSE {
		pll.Source = OscillatorHSI
	}
	if cfg.SysClkSource > SysClkPLL {
		cfg.SysClkSource = SysClkHSI
	}
	cfg.AHB &= 0xf
	cfg.APB1 &= 0x7
	cfg.APB2 &= 0x7
	return &Settings{Config: cfg, Variant: v}
}

func (s *Settings) pllcfgr(old uint32) uint32 {
	val := old &^ (RCC_PLLCFGR_M_MASK | RCC_PLLCFGR_N_MASK | RCC_PLLCFGR_P_MASK | RCC_PLLCFGR_Q_MASK | RCC_PLLCFGR_SRC_HSE)
	val |= s.PLL.M & RCC_PLLCFGR_M_MASK
	val |= (s.PLL.N << RCC_PLLCFGR_N_SHIFT) & RCC_PLLCFGR_N_MASK
	val |= (uint32(s.PLL.P) << RCC_PLLCFGR_P_SHIFT) & RCC_PLLCFGR_P_MASK
	val |= (s.PLL.Q << RCC_PLLCFGR_Q_SHIFT) & RCC_PLLCFGR_Q_MASK
	if s.Oscillator == OscillatorHSE && s.PLL.Source == OscillatorHSE {
		val |= RCC_PLLCFGR_SRC_HSE
	}
	return val
}

func (s *Settings) plli2scfgr(old uint32) uint32 {
	val := old &^ (RCC_PLLCFGR_N_MASK | RCC_PLLXCFGR_R_MASK)
	val |= (s.PLL.I2SN << RCC_PLLCFGR_N_SHIFT) & RCC_PLLCFGR_N_MASK
	val |= (s.PLL.I2SR << RCC_PLLXCFGR_R_SHIFT) & RCC_PLLXCFGR_R_MASK
	if s.Variant.Extended {
		val = val&^RCC_PLLCFGR_Q_MASK | (s.PLL.I2SQ<<RCC_PLLCFGR_Q_SHIFT)&RCC_PLLCFGR_Q_MASK
	}
	return val
}

func (s *Settings) pllsaicfgr(old uint32) uint32 {
	val := old &^ (RCC_PLLCFGR_N_MASK | RCC_PLLCFGR_Q_MASK | RCC_PLLXCFGR_R_MASK)
	val |= (s.PLL.SAIN << RCC_PLLCFGR_N_SHIFT) & RCC_PLLCFGR_N_MASK
	val |= (s.PLL.SAIQ << RCC_PLLCFGR_Q_SHIFT) & RCC_PLLCFGR_Q_MASK
	val |= (s.PLL.SAIR << RCC_PLLXCFGR_R_SHIFT) & RCC_PLLXCFGR_R_MASK
	return val
}

func (s *Settings) prescalers(cfgr uint32) uint32 {
	cfgr &^= RCC_CFGR_HPRE_MASK | RCC_CFGR_PPRE1_MASK | RCC_CFGR_PPRE2_MASK
	cfgr |= (uint32(s.AHB) << RCC_CFGR_HPRE_SHIFT) & RCC_CFGR_HPRE_MASK
	cfgr |= (uint32(s.APB1) << RCC_CFGR_PPRE1_SHIFT) & RCC_CFGR_PPRE1_MASK
	cfgr |= (uint32(s.APB2) << RCC_CFGR_PPRE2_SHIFT) & RCC_CFGR_PPRE2_MASK
	return cfgr
}

// settled writes the state Configure ends in, with every handshake already
// complete, into r.
func (s *Settings) settled(r *Registers) {
	r.cr = RCC_CR_HSION | RCC_CR_HSIRDY
	if s.Oscillator == OscillatorHSE {
		r.cr |= RCC_CR_HSEON | RCC_CR_HSERDY
	}
	if s.PLL.Main {
		r.pllcfgr = s.pllcfgr(r.pllcfgr)
		r.cr |= RCC_CR_PLLON | RCC_CR_PLLRDY
		if s.PLL.I2S {
			r.plli2scfgr = s.plli2scfgr(r.plli2scfgr)
			r.cr |= RCC_CR_PLLI2SON | RCC_CR_PLLI2SRDY
		}
		if s.PLL.SAI && s.Variant.HasPLLSAI {
			r.pllsaicfgr = s.pllsaicfgr(r.pllsaicfgr)
			r.cr |= RCC_CR_PLLSAION | RCC_CR_PLLSAIRDY
		}
	}
	sw := uint32(s.SysClkSource) & RCC_CFGR_SW_MASK
	r.cfgr = s.prescalers(sw | sw<<RCC_CFGR_SWS_SHIFT)
}

// Clocks predicts the frequencies Configure will produce with these settings.
func (s *Settings) Clocks(hsi, hse uint32) Clocks {
	r := NewRegisters()
	s.settled(r)
	return readClocks(r, hsi, hse, s.Variant.HasPLLSAI, nil)
}
