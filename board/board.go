package board

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"

	"github.com/Jon-Bright/stm32ctl/dma"
	"github.com/Jon-Bright/stm32ctl/gpio"
	"github.com/Jon-Bright/stm32ctl/hw"
	"github.com/Jon-Bright/stm32ctl/rcc"
	"github.com/Jon-Bright/stm32ctl/usart"
)

//go:embed boards/*.yaml
var builtin embed.FS

// PLL is the yaml form of rcc.PLLConfig. P is the actual divisor, 2 to 8.
type PLL struct {
	Source string   `yaml:"source"`
	M      uint32   `yaml:"m"`
	N      uint32   `yaml:"n"`
	P      int      `yaml:"p"`
	Q      uint32   `yaml:"q"`
	I2S    *PLLTaps `yaml:"i2s"`
	SAI    *PLLTaps `yaml:"sai"`
}

type PLLTaps struct {
	N uint32 `yaml:"n"`
	Q uint32 `yaml:"q"`
	R uint32 `yaml:"r"`
}

// Clock is the yaml form of rcc.Config. Prescalers are actual divisors.
type Clock struct {
	Oscillator string `yaml:"oscillator"`
	SysClk     string `yaml:"sysclk"`
	AHB        int    `yaml:"ahb"`
	APB1       int    `yaml:"apb1"`
	APB2       int    `yaml:"apb2"`
	PLL        *PLL   `yaml:"pll"`
}

type Pin struct {
	Name           string `yaml:"name"`
	Pin            string `yaml:"pin"` // e.g. PG13
	Dir            string `yaml:"dir"`
	Mode           string `yaml:"mode"`
	AF             uint32 `yaml:"af"`
	Pull           string `yaml:"pull"`
	Speed          string `yaml:"speed"`
	OpenDrain      bool   `yaml:"opendrain"`
	Initial        string `yaml:"initial"`
	DirChangeable  bool   `yaml:"dirchangeable"`
	ModeChangeable bool   `yaml:"modechangeable"`
}

type Serial struct {
	Name   string `yaml:"name"`
	Baud   uint32 `yaml:"baud"`
	Bits   int    `yaml:"bits"`
	Stop   string `yaml:"stop"`
	Parity string `yaml:"parity"`
	Over8  bool   `yaml:"over8"`
	TX     bool   `yaml:"tx"`
	RX     bool   `yaml:"rx"`
}

type Stream struct {
	Controller int    `yaml:"controller"`
	Stream     int    `yaml:"stream"`
	Channel    uint32 `yaml:"channel"`
	Dir        string `yaml:"dir"`
	USART      string `yaml:"usart"` // peripheral address is this USART's DR
	PeriphAddr uint32 `yaml:"periphaddr"`
	MemAddr    uint32 `yaml:"memaddr"`
	Count      uint16 `yaml:"count"`
	MemInc     bool   `yaml:"meminc"`
	Priority   string `yaml:"priority"`
	Circular   bool   `yaml:"circular"`
}

// Board describes one board: the part, its crystal, the clock tree and
// what gets brought up on it.
type Board struct {
	Name        string   `yaml:"name"`
	Part        string   `yaml:"variant"`
	HSE         uint32   `yaml:"hse"`
	Clamp       bool     `yaml:"clamp"`
	Clock       Clock    `yaml:"clock"`
	SysTick     uint32   `yaml:"systick"` // tick rate in Hz, 0 to leave it off
	Peripherals []string `yaml:"peripherals"`
	GPIO        []Pin    `yaml:"gpio"`
	USARTs      []Serial `yaml:"usarts"`
	DMA         []Stream `yaml:"dma"`

	Variant hw.Variant `yaml:"-"`
}

// Parse reads a board description and checks everything but the clock
// frequencies, which rcc.Validate does.
func Parse(data []byte) (*Board, error) {
	b := &Board{}
	err := yaml.Unmarshal(data, b)
	if err != nil {
		return nil, fmt.Errorf("couldn't parse board: %w", err)
	}
	b.Variant, err = hw.Lookup(b.Part)
	if err != nil {
		return nil, err
	}
	if b.HSE == 0 {
		b.HSE = rcc.HSE_FREQ
	}
	var errs []error
	if _, err := b.ClockConfig(); err != nil {
		errs = append(errs, err)
	}
	if _, err := b.Periphs(); err != nil {
		errs = append(errs, err)
	}
	if _, err := b.Channels(); err != nil {
		errs = append(errs, err)
	}
	if _, err := b.SerialConfigs(); err != nil {
		errs = append(errs, err)
	}
	if _, err := b.StreamConfigs(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("board %q: %w", b.Name, errors.Join(errs...))
	}
	return b, nil
}

// Load reads a board from a file or, failing that, from the built-in boards
// by name.
func Load(path string) (*Board, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !strings.ContainsAny(path, "/.") {
		data, err = builtin.ReadFile("boards/" + path + ".yaml")
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't read board: %w", err)
	}
	return Parse(data)
}

// Builtin lists the names of the built-in boards, sorted.
func Builtin() []string {
	entries, _ := builtin.ReadDir("boards")
	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	slices.Sort(names)
	return names
}

func oscillator(s string) (rcc.Oscillator, error) {
	switch strings.ToLower(s) {
	case "", "hsi":
		return rcc.OscillatorHSI, nil
	case "hse":
		return rcc.OscillatorHSE, nil
	}
	return 0, fmt.Errorf("unknown oscillator %q", s)
}

func sysClk(s string) (rcc.SysClkSource, error) {
	switch strings.ToLower(s) {
	case "", "hsi":
		return rcc.SysClkHSI, nil
	case "hse":
		return rcc.SysClkHSE, nil
	case "pll":
		return rcc.SysClkPLL, nil
	}
	return 0, fmt.Errorf("unknown sysclk source %q", s)
}

// orOne treats an unset divisor as 1.
func orOne(div int) int {
	if div == 0 {
		return 1
	}
	return div
}

// ClockConfig converts the clock section for rcc.Manager.Configure.
func (b *Board) ClockConfig() (rcc.Config, error) {
	var cfg rcc.Config
	var err error
	c := &b.Clock
	if cfg.Oscillator, err = oscillator(c.Oscillator); err != nil {
		return cfg, err
	}
	if cfg.SysClkSource, err = sysClk(c.SysClk); err != nil {
		return cfg, err
	}
	if cfg.AHB, err = rcc.AHBDividerFor(orOne(c.AHB)); err != nil {
		return cfg, err
	}
	if cfg.APB1, err = rcc.APBDividerFor(orOne(c.APB1)); err != nil {
		return cfg, err
	}
	if cfg.APB2, err = rcc.APBDividerFor(orOne(c.APB2)); err != nil {
		return cfg, err
	}
	if c.PLL == nil {
		return cfg, nil
	}
	p := c.PLL
	cfg.PLL.Main = true
	if cfg.PLL.Source, err = oscillator(p.Source); err != nil {
		return cfg, fmt.Errorf("pll: %w", err)
	}
	if cfg.PLL.P, err = rcc.PLLPFor(p.P); err != nil {
		return cfg, err
	}
	cfg.PLL.M, cfg.PLL.N, cfg.PLL.Q = p.M, p.N, p.Q
	if p.I2S != nil {
		cfg.PLL.I2S = true
		cfg.PLL.I2SN, cfg.PLL.I2SQ, cfg.PLL.I2SR = p.I2S.N, p.I2S.Q, p.I2S.R
	}
	if p.SAI != nil {
		cfg.PLL.SAI = true
		cfg.PLL.SAIN, cfg.PLL.SAIQ, cfg.PLL.SAIR = p.SAI.N, p.SAI.Q, p.SAI.R
	}
	return cfg, nil
}

func (b *Board) Periphs() ([]rcc.Peripheral, error) {
	var ps []rcc.Peripheral
	for _, n := range b.Peripherals {
		p, err := rcc.PeripheralByName(n)
		if err != nil {
			return nil, err
		}
		if p.Extended() && !b.Variant.Extended {
			return nil, fmt.Errorf("%w: %s on %v", rcc.ErrUnsupportedPeripheral, n, b.Variant)
		}
		ps = append(ps, p)
	}
	return ps, nil
}

// parsePin splits "PG13" into port 6, pin 13.
func parsePin(s string) (int, uint, error) {
	if len(s) < 3 {
		return 0, 0, fmt.Errorf("bad pin %q", s)
	}
	port, err := gpio.PortFromName(s[:2])
	if err != nil {
		return 0, 0, err
	}
	pin, err := strconv.ParseUint(s[2:], 10, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("bad pin %q: %w", s, err)
	}
	return port, uint(pin), nil
}

var (
	dirs   = map[string]gpio.Direction{"": gpio.DirIn, "in": gpio.DirIn, "out": gpio.DirOut}
	modes  = map[string]gpio.Mode{"": gpio.ModeDigital, "digital": gpio.ModeDigital, "af": gpio.ModeAlternate, "analog": gpio.ModeAnalog}
	pulls  = map[string]gpio.Pull{"": gpio.PullNone, "none": gpio.PullNone, "up": gpio.PullUp, "down": gpio.PullDown}
	speeds = map[string]gpio.Speed{"": gpio.SpeedLow, "low": gpio.SpeedLow, "medium": gpio.SpeedMedium, "fast": gpio.SpeedFast, "high": gpio.SpeedHigh}
)

// Channels converts the gpio section for gpio.Driver.Init, in file order.
func (b *Board) Channels() ([]gpio.Channel, error) {
	var chs []gpio.Channel
	for _, p := range b.GPIO {
		c := gpio.Channel{
			Name:                p.Name,
			AF:                  p.AF,
			OpenDrain:           p.OpenDrain,
			DirectionChangeable: p.DirChangeable,
			ModeChangeable:      p.ModeChangeable,
		}
		var err error
		c.Port, c.Pin, err = parsePin(p.Pin)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		var ok [4]bool
		c.Direction, ok[0] = dirs[p.Dir]
		c.Mode, ok[1] = modes[p.Mode]
		c.Pull, ok[2] = pulls[p.Pull]
		c.Speed, ok[3] = speeds[p.Speed]
		if !ok[0] || !ok[1] || !ok[2] || !ok[3] {
			return nil, fmt.Errorf("%s: bad dir/mode/pull/speed %q/%q/%q/%q", p.Name, p.Dir, p.Mode, p.Pull, p.Speed)
		}
		c.Initial, err = gpio.ParseLevel(p.Initial)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		chs = append(chs, c)
	}
	return chs, nil
}

var (
	stops    = map[string]usart.StopBits{"": usart.Stop1, "1": usart.Stop1, "0.5": usart.Stop0_5, "2": usart.Stop2, "1.5": usart.Stop1_5}
	parities = map[string]usart.Parity{"": usart.ParityNone, "none": usart.ParityNone, "even": usart.ParityEven, "odd": usart.ParityOdd}
)

func (b *Board) SerialConfigs() (map[string]usart.Config, error) {
	cfgs := map[string]usart.Config{}
	for _, s := range b.USARTs {
		inst, ok := usart.Instances[s.Name]
		if !ok {
			return nil, fmt.Errorf("unknown USART %q", s.Name)
		}
		if inst.Periph.Extended() && !b.Variant.Extended {
			return nil, fmt.Errorf("%w: %s on %v", rcc.ErrUnsupportedPeripheral, s.Name, b.Variant)
		}
		stop, ok := stops[s.Stop]
		if !ok {
			return nil, fmt.Errorf("%s: bad stop bits %q", s.Name, s.Stop)
		}
		par, ok := parities[s.Parity]
		if !ok {
			return nil, fmt.Errorf("%s: bad parity %q", s.Name, s.Parity)
		}
		cfgs[s.Name] = usart.Config{
			Baud:       s.Baud,
			WordLength: s.Bits,
			StopBits:   stop,
			Parity:     par,
			Over8:      s.Over8,
			TX:         s.TX,
			RX:         s.RX,
		}
	}
	return cfgs, nil
}

var (
	dmaDirs    = map[string]dma.Direction{"": dma.PeriphToMem, "periph-to-mem": dma.PeriphToMem, "mem-to-periph": dma.MemToPeriph, "mem-to-mem": dma.MemToMem}
	priorities = map[string]dma.Priority{"": dma.PriorityLow, "low": dma.PriorityLow, "medium": dma.PriorityMedium, "high": dma.PriorityHigh, "veryhigh": dma.PriorityVeryHigh}
)

// usartDR is the offset of the data register in a USART block.
const usartDR = 4

func (b *Board) StreamConfigs() ([]dma.StreamConfig, error) {
	var cfgs []dma.StreamConfig
	for _, s := range b.DMA {
		if s.Controller != 1 && s.Controller != 2 {
			return nil, fmt.Errorf("no DMA controller %d", s.Controller)
		}
		if s.Stream < 0 || s.Stream >= dma.STREAMS {
			return nil, fmt.Errorf("DMA%d: no stream %d", s.Controller, s.Stream)
		}
		dir, ok := dmaDirs[s.Dir]
		if !ok {
			return nil, fmt.Errorf("DMA%d stream %d: bad direction %q", s.Controller, s.Stream, s.Dir)
		}
		pri, ok := priorities[s.Priority]
		if !ok {
			return nil, fmt.Errorf("DMA%d stream %d: bad priority %q", s.Controller, s.Stream, s.Priority)
		}
		par := s.PeriphAddr
		if s.USART != "" {
			inst, ok := usart.Instances[s.USART]
			if !ok {
				return nil, fmt.Errorf("DMA%d stream %d: unknown USART %q", s.Controller, s.Stream, s.USART)
			}
			par = uint32(inst.Base) + usartDR
		}
		cfgs = append(cfgs, dma.StreamConfig{
			Channel:    s.Channel,
			Dir:        dir,
			PeriphAddr: par,
			MemAddr:    s.MemAddr,
			Count:      s.Count,
			MemInc:     s.MemInc,
			Priority:   pri,
			Circular:   s.Circular,
		})
	}
	return cfgs, nil
}
