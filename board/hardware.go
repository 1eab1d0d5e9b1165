package board

import (
	"errors"
	"fmt"
	"log"

	"github.com/Jon-Bright/stm32ctl/dma"
	"github.com/Jon-Bright/stm32ctl/gpio"
	"github.com/Jon-Bright/stm32ctl/hw"
	"github.com/Jon-Bright/stm32ctl/mmio"
	"github.com/Jon-Bright/stm32ctl/rcc"
	"github.com/Jon-Bright/stm32ctl/systick"
	"github.com/Jon-Bright/stm32ctl/usart"
)

// Hardware is every register block bring-up touches, either in memory or
// mapped from a device.
type Hardware struct {
	Variant hw.Variant
	RCC     *rcc.Registers
	GPIO    *gpio.Bank
	USARTs  map[string]*usart.USART
	SysTick *systick.Timer
	DMA     map[int]*dma.Controller
	Poller  rcc.ReadyPoller

	regions []*mmio.Region
}

// SimHardware allocates everything in memory, with a SimPoller standing in
// for the RCC's oscillators.
func SimHardware(v hw.Variant) *Hardware {
	h := &Hardware{
		Variant: v,
		RCC:     rcc.NewRegisters(),
		GPIO:    gpio.NewBank(v),
		USARTs:  map[string]*usart.USART{},
		SysTick: systick.New(),
		DMA:     map[int]*dma.Controller{},
	}
	h.Poller = rcc.NewSimPoller(h.RCC)
	for name, inst := range usart.Instances {
		if inst.Periph.Extended() && !v.Extended {
			continue
		}
		h.USARTs[name], _ = usart.New(name)
	}
	for _, n := range []int{1, 2} {
		h.DMA[n], _ = dma.New(n)
	}
	return h
}

// MapHardware maps each block from path, normally mmio.MEM_FILE. The caller
// must Close the result.
func MapHardware(path string, v hw.Variant) (*Hardware, error) {
	h := &Hardware{
		Variant: v,
		USARTs:  map[string]*usart.USART{},
		DMA:     map[int]*dma.Controller{},
		Poller:  rcc.SpinPoller{},
	}
	mapped := func(addr uintptr, size int) (*mmio.Region, error) {
		r, err := mmio.Map(path, addr, size)
		if err != nil {
			return nil, err
		}
		h.regions = append(h.regions, r)
		return r, nil
	}
	fail := func(err error) (*Hardware, error) {
		h.Close()
		return nil, fmt.Errorf("couldn't map hardware: %w", err)
	}

	r, err := mapped(rcc.RCC_BASE, rcc.RegistersSize)
	if err != nil {
		return fail(err)
	}
	h.RCC = rcc.RegistersAt(r.Pointer())

	r, err = mapped(gpio.GPIO_BASE, gpio.BankSize(v))
	if err != nil {
		return fail(err)
	}
	h.GPIO = gpio.BankAt(r.Pointer(), v)

	r, err = mapped(systick.SYSTICK_BASE, systick.SYSTICK_SIZE)
	if err != nil {
		return fail(err)
	}
	h.SysTick = systick.At(r.Pointer())

	for name, inst := range usart.Instances {
		if inst.Periph.Extended() && !v.Extended {
			continue
		}
		r, err = mapped(inst.Base, usart.USART_SIZE)
		if err != nil {
			return fail(err)
		}
		h.USARTs[name], _ = usart.At(name, r.Pointer())
	}

	for _, n := range []int{1, 2} {
		r, err = mapped(dma.Base(n), dma.DMA_SIZE)
		if err != nil {
			return fail(err)
		}
		h.DMA[n], _ = dma.At(n, r.Pointer())
	}
	log.Printf("Mapped %d register bytes in %d regions from %s\n", h.Mapped(), len(h.regions), path)
	return h, nil
}

// Mapped is how many register bytes are currently mapped. It's 0 for
// SimHardware and after Close.
func (h *Hardware) Mapped() int {
	n := 0
	for _, r := range h.regions {
		n += r.Size()
	}
	return n
}

// Flush writes mapped registers back, for file-backed mappings.
func (h *Hardware) Flush() error {
	var errs []error
	for _, r := range h.regions {
		if err := r.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Hardware) Close() error {
	var errs []error
	for _, r := range h.regions {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	h.regions = nil
	return errors.Join(errs...)
}
