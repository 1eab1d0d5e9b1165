package systick

import (
	"errors"
	"testing"
	"time"
)

func TestReload(t *testing.T) {
	tests := []struct {
		hclk uint32
		hz   uint32
		want uint32
		err  bool
	}{
		{80000000, 1000, 79999, false},
		{168000000, 1000, 167999, false},
		{16000000, 1, 15999999, false},
		{168000000, 1, 0, true},
		{1000, 1000, 0, true},
		{80000000, 0, 0, true},
	}
	for _, test := range tests {
		got, err := Reload(test.hclk, test.hz)
		if (err != nil) != test.err {
			t.Errorf("%d/%d: unexpected error state, got: %v", test.hclk, test.hz, err)
			continue
		}
		if test.err && !errors.Is(err, ErrReloadOutOfRange) {
			t.Errorf("%d/%d: wrong error, got: %v, want %v", test.hclk, test.hz, err, ErrReloadOutOfRange)
		}
		if got != test.want {
			t.Errorf("%d/%d: wrong reload, got: %d, want %d", test.hclk, test.hz, got, test.want)
		}
	}
}

func TestConfigure(t *testing.T) {
	tm := New()
	tm.regs.val = 1234
	err := tm.Configure(80000000, 1000)
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if tm.Reload() != 79999 || tm.regs.val != 0 {
		t.Errorf("Wrong LOAD/VAL, got: %d %d, want 79999 0", tm.Reload(), tm.regs.val)
	}
	if tm.regs.ctrl != SYSTICK_CTRL_CLKSOURCE|SYSTICK_CTRL_ENABLE {
		t.Errorf("Wrong CTRL, got: %08X", tm.regs.ctrl)
	}
	if tm.Period(80000000) != time.Millisecond {
		t.Errorf("Wrong period, got: %v, want %v", tm.Period(80000000), time.Millisecond)
	}
	tm.Stop()
	if tm.Running() {
		t.Errorf("Still running after Stop")
	}
}
