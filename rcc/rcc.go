package rcc

import (
	"fmt"
	"log"
	"sync"

	"github.com/Jon-Bright/stm32ctl/hw"
)

// Manager owns one RCC register block. All methods are safe for concurrent
// use, though on the target only one bring-up should ever run.
type Manager struct {
	mu      sync.Mutex
	regs    *Registers
	variant hw.Variant
	poller  ReadyPoller
	hse     uint32
	clamp   bool
	log     *log.Logger
}

type Option func(*Manager)

func WithPoller(p ReadyPoller) Option {
	return func(m *Manager) {
		m.poller = p
	}
}

// WithHSE sets the external crystal frequency, HSE_FREQ by default.
func WithHSE(hz uint32) Option {
	return func(m *Manager) {
		m.hse = hz
	}
}

// WithClamping makes Configure force bad fields into range instead of
// rejecting the configuration.
func WithClamping() Option {
	return func(m *Manager) {
		m.clamp = true
	}
}

// WithLogger sends register activity logs to l. Nil means log.Default().
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		if l == nil {
			l = log.Default()
		}
		m.log = l
	}
}

func NewManager(regs *Registers, v hw.Variant, opts ...Option) *Manager {
	m := &Manager{
		regs:    regs,
		variant: v,
		poller:  SpinPoller{},
		hse:     HSE_FREQ,
		log:     log.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Variant() hw.Variant {
	return m.variant
}

func (m *Manager) HSE() uint32 {
	return m.hse
}

// ResetToDefaults writes every register's RM0090 reset value. PLLSAICFGR and
// DCKCFGR are only touched on parts that have them.
func (m *Manager) ResetToDefaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range regTable {
		if d.saiOnly && !m.variant.HasPLLSAI {
			continue
		}
		*m.regs.word(d.offset) = d.reset
	}
	m.log.Printf("RCC reset to defaults (%v)\n", m.variant)
}

// Settings validates (or, with WithClamping, clamps) cfg for this manager's
// part and crystal.
func (m *Manager) Settings(cfg Config) (*Settings, error) {
	if m.clamp {
		return Clamp(cfg, m.variant), nil
	}
	return Validate(cfg, m.variant, m.hse)
}

func (m *Manager) wait(what string, ready func() bool) error {
	m.log.Printf("Waiting for %s\n", what)
	err := m.poller.WaitReady(what, ready)
	if err != nil {
		return err
	}
	m.log.Printf("Done %s\n", what)
	return nil
}

func (m *Manager) crSet(bit uint32) func() bool {
	return func() bool {
		return m.regs.cr&bit != 0
	}
}

func (m *Manager) switchTo(src SysClkSource) error {
	r := m.regs
	r.cfgr = r.cfgr&^RCC_CFGR_SW_MASK | uint32(src)
	return m.wait(fmt.Sprintf("SYSCLK switch to %v", src), func() bool {
		return (r.cfgr&RCC_CFGR_SWS_MASK)>>RCC_CFGR_SWS_SHIFT == uint32(src)
	})
}

// Configure brings the clock tree up as cfg describes. Nothing is written if
// cfg doesn't validate. A handshake that doesn't complete returns an error
// matching ErrClockNotReady, leaving the registers part way through.
func (m *Manager) Configure(cfg Config) error {
	s, err := m.Settings(cfg)
	if err != nil {
		return fmt.Errorf("couldn't configure clocks: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	err = m.program(s)
	if err != nil {
		return fmt.Errorf("couldn't configure clocks: %w", err)
	}
	return nil
}

func (m *Manager) program(s *Settings) error {
	r := m.regs
	pllsOn := uint32(RCC_CR_PLLON | RCC_CR_PLLI2SON)
	if m.variant.HasPLLSAI {
		pllsOn |= RCC_CR_PLLSAION
	}

	// HSI always runs, so there's a clock to fall back to while switching.
	r.cr |= RCC_CR_HSION
	err := m.wait("HSI", m.crSet(RCC_CR_HSIRDY))
	if err != nil {
		return err
	}

	// PLL inputs are about to change, so run from the oscillator and stop
	// every PLL before touching them.
	if s.Oscillator == OscillatorHSE {
		r.cr |= RCC_CR_HSEON
		err = m.wait("HSE", m.crSet(RCC_CR_HSERDY))
		if err != nil {
			return err
		}
		err = m.switchTo(SysClkHSE)
		if err != nil {
			return err
		}
		r.cr &^= pllsOn
	} else if s.PLL.Main && r.cr&pllsOn != 0 {
		err = m.switchTo(SysClkHSI)
		if err != nil {
			return err
		}
		r.cr &^= pllsOn
	}

	if s.PLL.Main {
		r.pllcfgr = s.pllcfgr(r.pllcfgr)
		r.cr |= RCC_CR_PLLON
		err = m.wait("PLL", m.crSet(RCC_CR_PLLRDY))
		if err != nil {
			return err
		}
		if s.PLL.I2S {
			r.plli2scfgr = s.plli2scfgr(r.plli2scfgr)
			r.cr |= RCC_CR_PLLI2SON
			err = m.wait("PLLI2S", m.crSet(RCC_CR_PLLI2SRDY))
			if err != nil {
				return err
			}
		}
		if s.PLL.SAI && m.variant.HasPLLSAI {
			r.pllsaicfgr = s.pllsaicfgr(r.pllsaicfgr)
			r.cr |= RCC_CR_PLLSAION
			err = m.wait("PLLSAI", m.crSet(RCC_CR_PLLSAIRDY))
			if err != nil {
				return err
			}
		}
	}

	err = m.switchTo(s.SysClkSource)
	if err != nil {
		return err
	}

	// Prescalers take effect without a handshake.
	r.cfgr = s.prescalers(r.cfgr)
	return nil
}

// Clocks reads the current frequencies back from the registers.
func (m *Manager) Clocks() Clocks {
	m.mu.Lock()
	defer m.mu.Unlock()
	return readClocks(m.regs, HSI_FREQ, m.hse, m.variant.HasPLLSAI, m.log)
}

func (m *Manager) check(p Peripheral) error {
	if !p.valid() {
		return fmt.Errorf("%w: %v", ErrUnknownPeripheral, p)
	}
	if p.Extended() && !m.variant.Extended {
		return fmt.Errorf("%w: %v on %v", ErrUnsupportedPeripheral, p, m.variant)
	}
	return nil
}

func (m *Manager) setBit(reg func(Bus) *uint32, p Peripheral, on bool) error {
	err := m.check(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		*reg(p.Bus) |= 1 << p.Bit
	} else {
		*reg(p.Bus) &^= 1 << p.Bit
	}
	return nil
}

// EnableClock opens p's clock gate. Its registers ignore writes until then.
func (m *Manager) EnableClock(p Peripheral) error {
	return m.setBit(m.regs.enr, p, true)
}

// DisableClock closes p's clock gate. It doesn't reset p; see ResetPeripheral.
func (m *Manager) DisableClock(p Peripheral) error {
	return m.setBit(m.regs.enr, p, false)
}

// AssertReset holds p in reset until ReleaseReset.
func (m *Manager) AssertReset(p Peripheral) error {
	return m.setBit(m.regs.rstr, p, true)
}

func (m *Manager) ReleaseReset(p Peripheral) error {
	return m.setBit(m.regs.rstr, p, false)
}

// ResetPeripheral pulses p's reset line.
func (m *Manager) ResetPeripheral(p Peripheral) error {
	err := m.AssertReset(p)
	if err != nil {
		return err
	}
	return m.ReleaseReset(p)
}

func (m *Manager) EnableClockID(id int) error {
	p, err := PeripheralFromID(id)
	if err != nil {
		return err
	}
	return m.EnableClock(p)
}

func (m *Manager) DisableClockID(id int) error {
	p, err := PeripheralFromID(id)
	if err != nil {
		return err
	}
	return m.DisableClock(p)
}

// ClockEnabled reports whether p's gate is open.
func (m *Manager) ClockEnabled(p Peripheral) bool {
	if !p.valid() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.regs.enr(p.Bus)&(1<<p.Bit) != 0
}

// Snapshot returns the named registers present on this part, in offset order.
func (m *Manager) Snapshot() []Reg {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs.snapshot(m.variant.HasPLLSAI)
}

// Image returns the raw register block as stored at RCC_BASE.
func (m *Manager) Image() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs.image()
}
