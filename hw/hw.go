package hw

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	PART_UNKNOWN = iota
	PART_STM32F407
	PART_STM32F429

	MHz = 1000000
)

// Variant describes the capabilities of one STM32F4 part. Drivers take one of
// these at construction rather than being built for a single part.
type Variant struct {
	Part      int
	Name      string
	HasPLLSAI bool // PLLSAI, PLLSAICFGR and DCKCFGR exist
	Extended  bool // F42x line: PLLI2S Q divider, extra ports and peripherals
	Ports     int  // number of GPIO ports, counting from A
	MaxSYSCLK uint32
	MaxHCLK   uint32
	MaxPCLK1  uint32
	MaxPCLK2  uint32
}

var Variants = map[string]Variant{
	"stm32f407": {
		Part:      PART_STM32F407,
		Name:      "STM32F407",
		HasPLLSAI: false,
		Extended:  false,
		Ports:     9, // A..I
		MaxSYSCLK: 168 * MHz,
		MaxHCLK:   168 * MHz,
		MaxPCLK1:  42 * MHz,
		MaxPCLK2:  84 * MHz,
	},
	"stm32f429": {
		Part:      PART_STM32F429,
		Name:      "STM32F429",
		HasPLLSAI: true,
		Extended:  true,
		Ports:     11, // A..K
		MaxSYSCLK: 180 * MHz,
		MaxHCLK:   180 * MHz,
		MaxPCLK1:  45 * MHz,
		MaxPCLK2:  90 * MHz,
	},
}

var (
	STM32F407 = Variants["stm32f407"]
	STM32F429 = Variants["stm32f429"]
)

// Lookup finds a variant by part name, ignoring case.
func Lookup(name string) (Variant, error) {
	if v, ok := Variants[strings.ToLower(name)]; ok {
		return v, nil
	}
	return Variant{}, fmt.Errorf("unknown part %q, want one of %s", name, strings.Join(Names(), ", "))
}

// Names returns the known part names, sorted.
func Names() []string {
	names := maps.Keys(Variants)
	slices.Sort(names)
	return names
}

func (v Variant) String() string {
	return v.Name
}
