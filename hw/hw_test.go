package hw

import (
	"testing"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name    string
		part    int
		sai     bool
		wantErr bool
	}{
		{"stm32f407", PART_STM32F407, false, false},
		{"STM32F429", PART_STM32F429, true, false},
		{"stm32f103", PART_UNKNOWN, false, true},
	}
	for _, test := range tests {
		v, err := Lookup(test.name)
		if (err != nil) != test.wantErr {
			t.Errorf("%s: unexpected error state, got: %v, want error %v", test.name, err, test.wantErr)
			continue
		}
		if v.Part != test.part {
			t.Errorf("%s: wrong part, got: %d, want %d", test.name, v.Part, test.part)
		}
		if v.HasPLLSAI != test.sai {
			t.Errorf("%s: wrong PLLSAI, got: %v, want %v", test.name, v.HasPLLSAI, test.sai)
		}
	}
}

func TestNamesSorted(t *testing.T) {
	n := Names()
	if len(n) != 2 || n[0] != "stm32f407" || n[1] != "stm32f429" {
		t.Errorf("Wrong names, got: %v, want [stm32f407 stm32f429]", n)
	}
}
