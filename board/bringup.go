package board

import (
	"fmt"
	"log"

	"github.com/Jon-Bright/stm32ctl/gpio"
	"github.com/Jon-Bright/stm32ctl/rcc"
)

// Result is what a board looks like once it's up.
type Result struct {
	Clocks        rcc.Clocks
	SysTickReload uint32
	BRR           map[string]uint32
	RCC           *rcc.Manager
	GPIO          *gpio.Driver
}

// Bringup takes the board from reset to running: clocks first, then SysTick,
// peripheral clocks, pins, USARTs and DMA streams. It stops at the first
// error.
func Bringup(b *Board, h *Hardware, l *log.Logger, opts ...rcc.Option) (*Result, error) {
	if l == nil {
		l = log.Default()
	}
	cfg, err := b.ClockConfig()
	if err != nil {
		return nil, err
	}
	base := []rcc.Option{rcc.WithPoller(h.Poller), rcc.WithHSE(b.HSE), rcc.WithLogger(l)}
	if b.Clamp {
		base = append(base, rcc.WithClamping())
	}
	m := rcc.NewManager(h.RCC, b.Variant, append(base, opts...)...)
	m.ResetToDefaults()
	err = m.Configure(cfg)
	if err != nil {
		return nil, err
	}
	res := &Result{Clocks: m.Clocks(), BRR: map[string]uint32{}, RCC: m}
	l.Printf("Clocks: SYSCLK %d HCLK %d PCLK1 %d PCLK2 %d\n", res.Clocks.SYSCLK, res.Clocks.HCLK, res.Clocks.PCLK1, res.Clocks.PCLK2)

	if b.SysTick > 0 {
		err = h.SysTick.Configure(res.Clocks.HCLK, b.SysTick)
		if err != nil {
			return nil, fmt.Errorf("couldn't start SysTick: %w", err)
		}
		res.SysTickReload = h.SysTick.Reload()
	}

	ps, err := b.Periphs()
	if err != nil {
		return nil, err
	}
	for _, p := range ps {
		err = m.EnableClock(p)
		if err != nil {
			return nil, fmt.Errorf("couldn't enable %v: %w", p, err)
		}
	}

	chs, err := b.Channels()
	if err != nil {
		return nil, err
	}
	res.GPIO = gpio.NewDriver(h.GPIO, m, b.Variant)
	res.GPIO.SetLogger(l)
	if len(chs) > 0 {
		err = res.GPIO.Init(chs)
		if err != nil {
			return nil, fmt.Errorf("couldn't set up pins: %w", err)
		}
	}

	sers, err := b.SerialConfigs()
	if err != nil {
		return nil, err
	}
	for _, s := range b.USARTs {
		u, ok := h.USARTs[s.Name]
		if !ok {
			return nil, fmt.Errorf("no %s on this hardware", s.Name)
		}
		err = m.EnableClock(u.Instance().Periph)
		if err != nil {
			return nil, fmt.Errorf("couldn't enable %s: %w", s.Name, err)
		}
		err = u.Configure(res.Clocks, sers[s.Name])
		if err != nil {
			return nil, err
		}
		res.BRR[s.Name] = u.BRR()
		l.Printf("%s: %d baud, BRR %04X\n", s.Name, s.Baud, u.BRR())
	}

	streams, err := b.StreamConfigs()
	if err != nil {
		return nil, err
	}
	for i, s := range b.DMA {
		c := h.DMA[s.Controller]
		c.SetLogger(l)
		err = m.EnableClock(c.Clock())
		if err != nil {
			return nil, fmt.Errorf("couldn't enable DMA%d: %w", s.Controller, err)
		}
		st, err := c.Stream(s.Stream)
		if err != nil {
			return nil, err
		}
		err = st.Configure(streams[i])
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}
