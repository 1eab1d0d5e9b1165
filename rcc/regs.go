package rcc

import (
	"encoding/binary"
	"unsafe"
)

const (
	RCC_BASE = uintptr(0x40023800)

	RCC_CR_HSION     = 1 << 0
	RCC_CR_HSIRDY    = 1 << 1
	RCC_CR_HSEON     = 1 << 16
	RCC_CR_HSERDY    = 1 << 17
	RCC_CR_PLLON     = 1 << 24
	RCC_CR_PLLRDY    = 1 << 25
	RCC_CR_PLLI2SON  = 1 << 26
	RCC_CR_PLLI2SRDY = 1 << 27
	RCC_CR_PLLSAION  = 1 << 28
	RCC_CR_PLLSAIRDY = 1 << 29

	RCC_PLLCFGR_M_MASK   = 0x3f
	RCC_PLLCFGR_N_SHIFT  = 6
	RCC_PLLCFGR_N_MASK   = 0x1ff << RCC_PLLCFGR_N_SHIFT
	RCC_PLLCFGR_P_SHIFT  = 16
	RCC_PLLCFGR_P_MASK   = 0x3 << RCC_PLLCFGR_P_SHIFT
	RCC_PLLCFGR_SRC_HSE  = 1 << 22
	RCC_PLLCFGR_Q_SHIFT  = 24
	RCC_PLLCFGR_Q_MASK   = 0xf << RCC_PLLCFGR_Q_SHIFT
	RCC_PLLXCFGR_R_SHIFT = 28
	RCC_PLLXCFGR_R_MASK  = 0x7 << RCC_PLLXCFGR_R_SHIFT

	RCC_CFGR_SW_MASK     = 0x3
	RCC_CFGR_SWS_SHIFT   = 2
	RCC_CFGR_SWS_MASK    = 0x3 << RCC_CFGR_SWS_SHIFT
	RCC_CFGR_HPRE_SHIFT  = 4
	RCC_CFGR_HPRE_MASK   = 0xf << RCC_CFGR_HPRE_SHIFT
	RCC_CFGR_PPRE1_SHIFT = 10
	RCC_CFGR_PPRE1_MASK  = 0x7 << RCC_CFGR_PPRE1_SHIFT
	RCC_CFGR_PPRE2_SHIFT = 13
	RCC_CFGR_PPRE2_MASK  = 0x7 << RCC_CFGR_PPRE2_SHIFT

	// The CCM data RAM clock is on out of reset and stays on.
	RCC_AHB1ENR_CCMDATARAMEN = 1 << 20
)

// Registers is the RCC register block, see RM0090 section 6.3. It is either
// allocated in memory for simulation or laid over mapped device memory.
type Registers struct {
	cr         uint32 // clock control
	pllcfgr    uint32 // PLL configuration
	cfgr       uint32 // clock configuration
	cir        uint32 // clock interrupt
	ahb1rstr   uint32
	ahb2rstr   uint32
	ahb3rstr   uint32
	resvd_0x1c uint32
	apb1rstr   uint32
	apb2rstr   uint32
	resvd_0x28 [2]uint32
	ahb1enr    uint32
	ahb2enr    uint32
	ahb3enr    uint32
	resvd_0x3c uint32
	apb1enr    uint32
	apb2enr    uint32
	resvd_0x48 [2]uint32
	ahb1lpenr  uint32
	ahb2lpenr  uint32
	ahb3lpenr  uint32
	resvd_0x5c uint32
	apb1lpenr  uint32
	apb2lpenr  uint32
	resvd_0x68 [2]uint32
	bdcr       uint32 // backup domain control
	csr        uint32 // control/status
	resvd_0x78 [2]uint32
	sscgr      uint32 // spread spectrum
	plli2scfgr uint32
	pllsaicfgr uint32 // STM32F429 only
	dckcfgr    uint32 // STM32F429 only
}

const RegistersSize = int(unsafe.Sizeof(Registers{}))

func NewRegisters() *Registers {
	return &Registers{}
}

// RegistersAt lays the register block over memory at p, typically the
// Pointer of an mmio.Region mapped at RCC_BASE.
func RegistersAt(p unsafe.Pointer) *Registers {
	return (*Registers)(p)
}

type regDesc struct {
	name    string
	offset  uintptr
	reset   uint32
	saiOnly bool
}

// regTable lists the registers in the order ResetToDefaults writes them,
// which is also offset order.
var regTable = []regDesc{
	{"CR", 0x00, 0x00000083, false},
	{"PLLCFGR", 0x04, 0x24003010, false},
	{"CFGR", 0x08, 0x00000000, false},
	{"CIR", 0x0c, 0x00000000, false},
	{"AHB1RSTR", 0x10, 0x00000000, false},
	{"AHB2RSTR", 0x14, 0x00000000, false},
	{"AHB3RSTR", 0x18, 0x00000000, false},
	{"APB1RSTR", 0x20, 0x00000000, false},
	{"APB2RSTR", 0x24, 0x00000000, false},
	{"AHB1ENR", 0x30, RCC_AHB1ENR_CCMDATARAMEN, false},
	{"AHB2ENR", 0x34, 0x00000000, false},
	{"AHB3ENR", 0x38, 0x00000000, false},
	{"APB1ENR", 0x40, 0x00000000, false},
	{"APB2ENR", 0x44, 0x00000000, false},
	{"AHB1LPENR", 0x50, 0x7eef97ff, false},
	{"AHB2LPENR", 0x54, 0x000000f1, false},
	{"AHB3LPENR", 0x58, 0x00000001, false},
	{"APB1LPENR", 0x60, 0xf6fec9ff, false},
	{"APB2LPENR", 0x64, 0x04777f33, false},
	{"BDCR", 0x70, 0x00000000, false},
	{"CSR", 0x74, 0x0e000000, false},
	{"SSCGR", 0x80, 0x00000000, false},
	{"PLLI2SCFGR", 0x84, 0x24003000, false},
	{"PLLSAICFGR", 0x88, 0x24003000, true},
	{"DCKCFGR", 0x8c, 0x00000000, true},
}

func (r *Registers) word(offset uintptr) *uint32 {
	return (*uint32)(unsafe.Add(unsafe.Pointer(r), offset))
}

// Reg is one named register value.
type Reg struct {
	Name   string
	Offset uintptr
	Value  uint32
}

func (r *Registers) snapshot(sai bool) []Reg {
	regs := make([]Reg, 0, len(regTable))
	for _, d := range regTable {
		if d.saiOnly && !sai {
			continue
		}
		regs = append(regs, Reg{Name: d.name, Offset: d.offset, Value: *r.word(d.offset)})
	}
	return regs
}

// image returns the whole block, reserved words included, little-endian as
// the device sees it.
func (r *Registers) image() []byte {
	b := make([]byte, RegistersSize)
	for off := 0; off < RegistersSize; off += 4 {
		binary.LittleEndian.PutUint32(b[off:], *r.word(uintptr(off)))
	}
	return b
}
