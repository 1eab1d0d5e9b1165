package rcc

import (
	"bytes"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/Jon-Bright/stm32ctl/hw"
)

func newSim(v hw.Variant, opts ...Option) (*Manager, *Registers, *SimPoller) {
	r := NewRegisters()
	p := NewSimPoller(r)
	opts = append([]Option{WithPoller(p), WithLogger(log.New(io.Discard, "", 0))}, opts...)
	m := NewManager(r, v, opts...)
	m.ResetToDefaults()
	return m, r, p
}

// The Hardware_Init configuration: 8 MHz crystal, 80 MHz from the PLL.
func pll80() Config {
	return Config{
		Oscillator:   OscillatorHSE,
		SysClkSource: SysClkPLL,
		AHB:          AHB_DIV_1,
		APB1:         APB_DIV_2,
		APB2:         APB_DIV_1,
		PLL: PLLConfig{
			Main:   true,
			Source: OscillatorHSE,
			M:      4,
			N:      80,
			P:      PLLP_DIV_2,
			Q:      3,
		},
	}
}

func TestRoundTrip(t *testing.T) {
	m, r, _ := newSim(hw.STM32F407)
	err := m.Configure(pll80())
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	got := m.Clocks()
	want := Clocks{
		SYSCLK:   80000000,
		HCLK:     80000000,
		PCLK1:    40000000,
		PCLK2:    80000000,
		PLL48CLK: 160000000 / 3,
	}
	if got != want {
		t.Errorf("Wrong clocks, got: %+v, want %+v", got, want)
	}
	if r.pllcfgr&RCC_PLLCFGR_SRC_HSE == 0 {
		t.Errorf("PLL not fed from HSE, PLLCFGR %08X", r.pllcfgr)
	}
	if r.cr&(RCC_CR_HSEON|RCC_CR_PLLON) != RCC_CR_HSEON|RCC_CR_PLLON {
		t.Errorf("HSE or PLL not on, CR %08X", r.cr)
	}
	sw := r.cfgr & RCC_CFGR_SW_MASK
	if sw != uint32(SysClkPLL) {
		t.Errorf("Wrong SW, got: %d, want %d", sw, SysClkPLL)
	}
	s, _ := m.Settings(pll80())
	if pred := s.Clocks(HSI_FREQ, HSE_FREQ); pred != want {
		t.Errorf("Wrong predicted clocks, got: %+v, want %+v", pred, want)
	}
}

func TestClampM(t *testing.T) {
	for _, mv := range []uint32{0, 1} {
		m, r, _ := newSim(hw.STM32F429, WithClamping())
		cfg := pll80()
		cfg.PLL.M = mv
		err := m.Configure(cfg)
		if err != nil {
			t.Fatalf("M=%d: Configure failed: %v", mv, err)
		}
		got := r.pllcfgr & RCC_PLLCFGR_M_MASK
		if got != 2 {
			t.Errorf("M=%d: wrong programmed M, got: %d, want 2", mv, got)
		}
	}
}

func TestClampN(t *testing.T) {
	tests := []struct {
		n    uint32
		want uint32
	}{
		{0, 2},
		{1, 2},
		{2, 2},
		{80, 80},
		{432, 432},
		{433, 432},
		{511, 432},
	}
	for _, test := range tests {
		m, r, _ := newSim(hw.STM32F429, WithClamping())
		cfg := pll80()
		cfg.PLL.N = test.n
		err := m.Configure(cfg)
		if err != nil {
			t.Fatalf("N=%d: Configure failed: %v", test.n, err)
		}
		got := (r.pllcfgr & RCC_PLLCFGR_N_MASK) >> RCC_PLLCFGR_N_SHIFT
		if got != test.want {
			t.Errorf("N=%d: wrong programmed N, got: %d, want %d", test.n, got, test.want)
		}
	}
}

func TestClampQR(t *testing.T) {
	cfg := pll80()
	cfg.PLL.Q = 0
	cfg.PLL.I2S = true
	cfg.PLL.I2SN = 192
	cfg.PLL.I2SR = 1
	cfg.PLL.I2SQ = 99
	s := Clamp(cfg, hw.STM32F429)
	if s.PLL.Q != 2 || s.PLL.I2SR != 2 || s.PLL.I2SQ != PLLQ_MAX {
		t.Errorf("Wrong clamped Q/R, got: Q %d R %d I2SQ %d, want 2 2 %d", s.PLL.Q, s.PLL.I2SR, s.PLL.I2SQ, PLLQ_MAX)
	}
}

func TestStrictRejectsWithoutWriting(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*Config)
		field string
	}{
		{"M=0", func(c *Config) { c.PLL.M = 0 }, "PLLM"},
		{"M=1", func(c *Config) { c.PLL.M = 1 }, "PLLM"},
		{"N=1", func(c *Config) { c.PLL.N = 1 }, "PLLN"},
		{"N=433", func(c *Config) { c.PLL.N = 433 }, "PLLN"},
		{"Q=1", func(c *Config) { c.PLL.Q = 1 }, "PLLQ"},
		{"P code", func(c *Config) { c.PLL.P = 4 }, "PLLP"},
		{"AHB code", func(c *Config) { c.AHB = 3 }, "AHB prescaler"},
		{"APB code", func(c *Config) { c.APB2 = 8 }, "APB2 prescaler"},
		{"PCLK1 too fast", func(c *Config) { c.APB1 = APB_DIV_1 }, "PCLK1 Hz"},
		{"PLL off", func(c *Config) { c.PLL.Main = false }, "sysclk source"},
		{"HSE off", func(c *Config) { c.Oscillator = OscillatorHSI }, "PLL source"},
		{"SAI on F407", func(c *Config) { c.PLL.SAI = true }, "PLLSAI"},
		{"VCO too slow", func(c *Config) { c.PLL.N = 40 }, "main PLL VCO MHz"},
	}
	for _, test := range tests {
		m, _, _ := newSim(hw.STM32F407)
		before := m.Image()
		cfg := pll80()
		test.mod(&cfg)
		err := m.Configure(cfg)
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: wrong error, got: %v, want %v", test.name, err, ErrInvalidConfig)
			continue
		}
		var ce *ConfigError
		if !errors.As(err, &ce) || ce.Field != test.field {
			t.Errorf("%s: wrong field, got: %v, want %s", test.name, ce, test.field)
		}
		if !bytes.Equal(before, m.Image()) {
			t.Errorf("%s: registers changed on rejected config", test.name)
		}
	}
}

func TestValidateReportsAll(t *testing.T) {
	cfg := pll80()
	cfg.PLL.M = 0
	cfg.PLL.N = 1000
	_, err := Validate(cfg, hw.STM32F407, HSE_FREQ)
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		t.Fatalf("Expected joined errors, got: %v", err)
	}
	if len(joined.Unwrap()) != 2 {
		t.Errorf("Wrong error count, got: %d, want 2 (%v)", len(joined.Unwrap()), err)
	}
}

func TestHSIOnly(t *testing.T) {
	m, r, _ := newSim(hw.STM32F407)
	err := m.Configure(Config{AHB: AHB_DIV_4, APB1: APB_DIV_2, APB2: APB_DIV_1})
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	got := m.Clocks()
	want := Clocks{SYSCLK: 16000000, HCLK: 4000000, PCLK1: 2000000, PCLK2: 4000000}
	if got != want {
		t.Errorf("Wrong clocks, got: %+v, want %+v", got, want)
	}
	if r.cr&RCC_CR_HSEON != 0 {
		t.Errorf("HSE turned on, CR %08X", r.cr)
	}
}

func TestReconfigureFromPLL(t *testing.T) {
	m, r, _ := newSim(hw.STM32F407)
	err := m.Configure(pll80())
	if err != nil {
		t.Fatalf("First Configure failed: %v", err)
	}
	cfg := pll80()
	cfg.Oscillator = OscillatorHSI
	cfg.PLL.Source = OscillatorHSI
	cfg.PLL.M = 8
	cfg.PLL.N = 84
	err = m.Configure(cfg)
	if err != nil {
		t.Fatalf("Second Configure failed: %v", err)
	}
	if r.pllcfgr&RCC_PLLCFGR_SRC_HSE != 0 {
		t.Errorf("PLL still fed from HSE, PLLCFGR %08X", r.pllcfgr)
	}
	got := m.Clocks().SYSCLK
	if got != 84000000 {
		t.Errorf("Wrong SYSCLK, got: %d, want %d", got, 84000000)
	}
}

func TestI2SAndSAI(t *testing.T) {
	m, _, _ := newSim(hw.STM32F429)
	cfg := pll80()
	cfg.PLL.I2S = true
	cfg.PLL.I2SN = 192
	cfg.PLL.I2SQ = 2
	cfg.PLL.I2SR = 2
	cfg.PLL.SAI = true
	cfg.PLL.SAIN = 192
	cfg.PLL.SAIQ = 2
	cfg.PLL.SAIR = 4
	err := m.Configure(cfg)
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	c := m.Clocks()
	if c.PLLI2SCLK != 192000000 {
		t.Errorf("Wrong PLLI2SCLK, got: %d, want %d", c.PLLI2SCLK, 192000000)
	}
	if c.PLLLCDCLK != 96000000 {
		t.Errorf("Wrong PLLLCDCLK, got: %d, want %d", c.PLLLCDCLK, 96000000)
	}
}

func TestStuckOscillator(t *testing.T) {
	tests := []struct {
		name  string
		stuck uint32
	}{
		{"HSE", RCC_CR_HSEON},
		{"PLL", RCC_CR_PLLON},
	}
	for _, test := range tests {
		m, _, p := newSim(hw.STM32F407)
		p.Stuck = test.stuck
		err := m.Configure(pll80())
		if !errors.Is(err, ErrClockNotReady) {
			t.Errorf("%s: wrong error, got: %v, want %v", test.name, err, ErrClockNotReady)
		}
	}
}

func TestSpinPollerGivesUp(t *testing.T) {
	r := NewRegisters()
	m := NewManager(r, hw.STM32F407, WithPoller(SpinPoller{MaxPolls: 10}), WithLogger(log.New(io.Discard, "", 0)))
	err := m.Configure(pll80())
	if !errors.Is(err, ErrClockNotReady) {
		t.Errorf("Wrong error, got: %v, want %v", err, ErrClockNotReady)
	}
}

func TestNilLogger(t *testing.T) {
	m := NewManager(NewRegisters(), hw.STM32F407, WithLogger(nil))
	if m.log != log.Default() {
		t.Errorf("Nil logger not replaced by log.Default()")
	}
	m.ResetToDefaults()
}

func TestSpinPollerReady(t *testing.T) {
	calls := 0
	err := SpinPoller{MaxPolls: 10}.WaitReady("thing", func() bool {
		calls++
		return calls == 3
	})
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("Wrong poll count, got: %d, want 3", calls)
	}
}

func TestResetToDefaults(t *testing.T) {
	tests := []struct {
		v       hw.Variant
		saiCfgr uint32
	}{
		{hw.STM32F407, 0},
		{hw.STM32F429, 0x24003000},
	}
	for _, test := range tests {
		m, r, _ := newSim(test.v)
		err := m.Configure(pll80())
		if err != nil {
			t.Fatalf("%v: Configure failed: %v", test.v, err)
		}
		m.ResetToDefaults()
		first := m.Image()
		m.ResetToDefaults()
		if !bytes.Equal(first, m.Image()) {
			t.Errorf("%v: second reset changed registers", test.v)
		}
		if r.ahb1enr != 0x00100000 {
			t.Errorf("%v: wrong AHB1ENR, got: %08X, want %08X", test.v, r.ahb1enr, 0x00100000)
		}
		if r.cr != 0x83 || r.pllcfgr != 0x24003010 || r.cfgr != 0 {
			t.Errorf("%v: wrong CR/PLLCFGR/CFGR, got: %08X %08X %08X", test.v, r.cr, r.pllcfgr, r.cfgr)
		}
		if r.pllsaicfgr != test.saiCfgr {
			t.Errorf("%v: wrong PLLSAICFGR, got: %08X, want %08X", test.v, r.pllsaicfgr, test.saiCfgr)
		}
	}
}

func TestSnapshot(t *testing.T) {
	m407, _, _ := newSim(hw.STM32F407)
	m429, _, _ := newSim(hw.STM32F429)
	s407 := m407.Snapshot()
	s429 := m429.Snapshot()
	if len(s429) != len(s407)+2 {
		t.Errorf("Wrong snapshot sizes, got: %d and %d", len(s407), len(s429))
	}
	for i := 1; i < len(s429); i++ {
		if s429[i].Offset <= s429[i-1].Offset {
			t.Errorf("Snapshot out of order at %s", s429[i].Name)
		}
	}
	if s407[0].Name != "CR" || s407[0].Value != 0x83 {
		t.Errorf("Wrong first register, got: %+v", s407[0])
	}
	if len(m407.Image()) != RegistersSize || RegistersSize != 0x90 {
		t.Errorf("Wrong image size, got: %d, want %d", len(m407.Image()), 0x90)
	}
}
