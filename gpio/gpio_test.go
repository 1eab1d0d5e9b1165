package gpio

import (
	"errors"
	"io"
	"log"
	"testing"
	"unsafe"

	"github.com/Jon-Bright/stm32ctl/hw"
	"github.com/Jon-Bright/stm32ctl/rcc"
)

// The Discovery board's pins from the Dio/Port test program.
func boardChannels() []Channel {
	return []Channel{
		{Name: "LED1", Port: 6, Pin: 13, Direction: DirOut, Speed: SpeedMedium},
		{Name: "LED2", Port: 6, Pin: 14, Direction: DirOut, Initial: High, DirectionChangeable: true},
		{Name: "SW1", Port: 0, Pin: 0, Direction: DirIn, Pull: PullDown},
		{Name: "USART2_TX", Port: 0, Pin: 2, Mode: ModeAlternate, AF: AF7_USART1_2_3, Pull: PullUp, ModeChangeable: true},
		{Name: "UART4_RX", Port: 2, Pin: 11, Mode: ModeAlternate, AF: AF8_USART4_5_6_UART7_8},
	}
}

func newDriver(t *testing.T, v hw.Variant) (*Driver, *Bank, *rcc.Manager) {
	b := NewBank(v)
	m := rcc.NewManager(rcc.NewRegisters(), v)
	d := NewDriver(b, m, v)
	d.SetLogger(log.New(io.Discard, "", 0))
	err := d.Init(boardChannels())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return d, b, m
}

func TestInit(t *testing.T) {
	_, b, m := newDriver(t, hw.STM32F429)
	for _, port := range []int{0, 2, 6} {
		if !m.ClockEnabled(PortClock(port)) {
			t.Errorf("Port %s clock not enabled", PortName(port))
		}
	}
	if m.ClockEnabled(PortClock(1)) {
		t.Errorf("Port B clock enabled, but unused")
	}

	tests := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"GPIOG MODER", b.ports[6].moder, 1<<26 | 1<<28},
		{"GPIOG OSPEEDR", b.ports[6].ospeedr, 1 << 26},
		{"GPIOG ODR", b.ports[6].odr, 1 << 14},
		{"GPIOA MODER", b.ports[0].moder, 2 << 4},
		{"GPIOA PUPDR", b.ports[0].pupdr, 2<<0 | 1<<4},
		{"GPIOA AFRL", b.ports[0].afr[0], 7 << 8},
		{"GPIOC MODER", b.ports[2].moder, 2 << 22},
		{"GPIOC AFRH", b.ports[2].afr[1], 8 << 12},
	}
	for _, test := range tests {
		if test.got != test.want {
			t.Errorf("Wrong %s, got: %08X, want %08X", test.name, test.got, test.want)
		}
	}
}

func TestInitRejects(t *testing.T) {
	tests := []struct {
		name string
		ch   Channel
		v    hw.Variant
		want error
	}{
		{"port J on F407", Channel{Port: 9}, hw.STM32F407, ErrInvalidPort},
		{"pin 16", Channel{Pin: 16}, hw.STM32F429, ErrInvalidChannel},
		{"AF16", Channel{Mode: ModeAlternate, AF: 16}, hw.STM32F429, ErrInvalidMode},
		{"mode", Channel{Mode: Mode(5)}, hw.STM32F429, ErrInvalidMode},
	}
	for _, test := range tests {
		b := NewBank(test.v)
		m := rcc.NewManager(rcc.NewRegisters(), test.v)
		d := NewDriver(b, m, test.v)
		err := d.Init([]Channel{test.ch})
		if !errors.Is(err, test.want) {
			t.Errorf("%s: wrong error, got: %v, want %v", test.name, err, test.want)
		}
		if m.ClockEnabled(PortClock(test.ch.Port)) {
			t.Errorf("%s: clock enabled for rejected channel", test.name)
		}
	}
}

func TestUninit(t *testing.T) {
	d := NewDriver(NewBank(hw.STM32F407), rcc.NewManager(rcc.NewRegisters(), hw.STM32F407), hw.STM32F407)
	_, err := d.ReadChannel(0)
	if !errors.Is(err, ErrUninit) {
		t.Errorf("ReadChannel: wrong error, got: %v, want %v", err, ErrUninit)
	}
	if err := d.WriteChannel(0, High); !errors.Is(err, ErrUninit) {
		t.Errorf("WriteChannel: wrong error, got: %v, want %v", err, ErrUninit)
	}
	if _, err := d.FlipChannel(0); !errors.Is(err, ErrUninit) {
		t.Errorf("FlipChannel: wrong error, got: %v, want %v", err, ErrUninit)
	}
	if err := d.RefreshPortDirection(); !errors.Is(err, ErrUninit) {
		t.Errorf("RefreshPortDirection: wrong error, got: %v, want %v", err, ErrUninit)
	}
	if err := d.WritePort(0, 1); !errors.Is(err, ErrUninit) {
		t.Errorf("WritePort: wrong error, got: %v, want %v", err, ErrUninit)
	}
}

func TestWriteChannel(t *testing.T) {
	d, b, _ := newDriver(t, hw.STM32F429)
	g := b.ports[6]
	err := d.WriteChannel(0, High)
	if err != nil {
		t.Fatalf("WriteChannel failed: %v", err)
	}
	if g.bsrr != 1<<13 {
		t.Errorf("Wrong BSRR for high, got: %08X, want %08X", g.bsrr, 1<<13)
	}
	err = d.WriteChannel(0, Low)
	if err != nil {
		t.Fatalf("WriteChannel failed: %v", err)
	}
	if g.bsrr != 1<<29 {
		t.Errorf("Wrong BSRR for low, got: %08X, want %08X", g.bsrr, 1<<29)
	}
	if g.odr != 1<<14 {
		t.Errorf("Other pin disturbed, ODR %08X", g.odr)
	}
	err = d.WriteChannel(99, High)
	if !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("Wrong error, got: %v, want %v", err, ErrInvalidChannel)
	}
}

func TestFlipChannel(t *testing.T) {
	d, b, _ := newDriver(t, hw.STM32F429)
	g := b.ports[6]
	tests := []struct {
		ch   int
		want Level
		bsrr uint32
	}{
		{0, High, 1 << 13},
		{0, Low, 1 << 29},
		{1, Low, 1 << 30},
		{1, High, 1 << 14},
	}
	for i, test := range tests {
		l, err := d.FlipChannel(test.ch)
		if err != nil {
			t.Fatalf("%d: FlipChannel failed: %v", i, err)
		}
		if l != test.want {
			t.Errorf("%d: wrong level, got: %v, want %v", i, l, test.want)
		}
		if g.bsrr != test.bsrr {
			t.Errorf("%d: wrong BSRR, got: %08X, want %08X", i, g.bsrr, test.bsrr)
		}
	}
}

func TestReadChannelAndPort(t *testing.T) {
	d, b, _ := newDriver(t, hw.STM32F429)
	b.ports[0].idr = 0x0001
	l, err := d.ReadChannel(2)
	if err != nil || l != High {
		t.Errorf("Wrong SW1 level, got: %v %v, want high", l, err)
	}
	b.ports[0].idr = 0x0004
	l, _ = d.ReadChannel(2)
	if l != Low {
		t.Errorf("Wrong SW1 level, got: %v, want low", l)
	}
	v, err := d.ReadPort(0)
	if err != nil || v != 0x0004 {
		t.Errorf("Wrong port A, got: %04X %v, want 0004", v, err)
	}
	_, err = d.ReadPort(11)
	if !errors.Is(err, ErrInvalidPort) {
		t.Errorf("Wrong error, got: %v, want %v", err, ErrInvalidPort)
	}
}

func TestOutputReadsBack(t *testing.T) {
	d, _, _ := newDriver(t, hw.STM32F429)
	l, err := d.ReadChannel(1)
	if err != nil || l != High {
		t.Errorf("Wrong LED2 level after Init, got: %v %v, want high", l, err)
	}
	err = d.WriteChannel(0, High)
	if err != nil {
		t.Fatalf("WriteChannel failed: %v", err)
	}
	l, _ = d.ReadChannel(0)
	if l != High {
		t.Errorf("Wrong LED1 level, got: %v, want high", l)
	}
	v, err := d.ReadPort(6)
	if err != nil || v != 0x6000 {
		t.Errorf("Wrong port G, got: %04X %v, want 6000", v, err)
	}

	// An input pin's IDR isn't ours to drive.
	err = d.SetPinDirection(1, DirIn)
	if err != nil {
		t.Fatalf("SetPinDirection failed: %v", err)
	}
	err = d.WriteChannel(1, Low)
	if err != nil {
		t.Fatalf("WriteChannel failed: %v", err)
	}
	l, _ = d.ReadChannel(1)
	if l != High {
		t.Errorf("Input LED2 followed ODR, got: %v, want high", l)
	}
	err = d.SetPinDirection(1, DirOut)
	if err != nil {
		t.Fatalf("SetPinDirection failed: %v", err)
	}
	l, _ = d.ReadChannel(1)
	if l != Low {
		t.Errorf("Wrong LED2 level back as output, got: %v, want low", l)
	}
}

func TestWritePort(t *testing.T) {
	d, b, _ := newDriver(t, hw.STM32F429)
	err := d.WritePort(3, 0x00f0)
	if err != nil {
		t.Fatalf("WritePort failed: %v", err)
	}
	if b.ports[3].bsrr != 0xff0f00f0 {
		t.Errorf("Wrong BSRR, got: %08X, want %08X", b.ports[3].bsrr, 0xff0f00f0)
	}
	if b.ports[3].odr != 0x00f0 {
		t.Errorf("Wrong ODR, got: %08X, want %08X", b.ports[3].odr, 0x00f0)
	}
}

func TestSetPinDirection(t *testing.T) {
	d, b, _ := newDriver(t, hw.STM32F429)
	err := d.SetPinDirection(0, DirIn)
	if !errors.Is(err, ErrDirectionUnchangeable) {
		t.Errorf("Wrong error, got: %v, want %v", err, ErrDirectionUnchangeable)
	}
	err = d.SetPinDirection(1, DirIn)
	if err != nil {
		t.Fatalf("SetPinDirection failed: %v", err)
	}
	if got := (b.ports[6].moder >> 28) & 3; got != GPIO_MODER_INPUT {
		t.Errorf("Wrong PG14 mode, got: %d, want %d", got, GPIO_MODER_INPUT)
	}
}

func TestRefreshPortDirection(t *testing.T) {
	d, b, _ := newDriver(t, hw.STM32F429)
	g := b.ports[6]
	g.moder = 0
	err := d.RefreshPortDirection()
	if err != nil {
		t.Fatalf("RefreshPortDirection failed: %v", err)
	}
	// Only LED1 is fixed; LED2's direction may change.
	if g.moder != 1<<26 {
		t.Errorf("Wrong MODER, got: %08X, want %08X", g.moder, 1<<26)
	}
}

func TestSetPinMode(t *testing.T) {
	d, b, _ := newDriver(t, hw.STM32F429)
	err := d.SetPinMode(4, ModeDigital, 0)
	if !errors.Is(err, ErrModeUnchangeable) {
		t.Errorf("Wrong error, got: %v, want %v", err, ErrModeUnchangeable)
	}
	err = d.SetPinMode(3, ModeAlternate, 16)
	if !errors.Is(err, ErrInvalidMode) {
		t.Errorf("Wrong error, got: %v, want %v", err, ErrInvalidMode)
	}
	err = d.SetPinMode(3, ModeAnalog, 0)
	if err != nil {
		t.Fatalf("SetPinMode failed: %v", err)
	}
	if got := (b.ports[0].moder >> 4) & 3; got != GPIO_MODER_ANALOG {
		t.Errorf("Wrong PA2 mode, got: %d, want %d", got, GPIO_MODER_ANALOG)
	}
}

func TestChannelByName(t *testing.T) {
	d, _, _ := newDriver(t, hw.STM32F429)
	ch, err := d.ChannelByName("SW1")
	if err != nil || ch != 2 {
		t.Errorf("Wrong SW1 channel, got: %d %v, want 2", ch, err)
	}
	_, err = d.ChannelByName("LED9")
	if !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("Wrong error, got: %v, want %v", err, ErrInvalidChannel)
	}
}

func TestPortNames(t *testing.T) {
	for _, s := range []string{"G", "GPIOG", "PG"} {
		n, err := PortFromName(s)
		if err != nil || n != 6 {
			t.Errorf("%s: got: %d %v, want 6", s, n, err)
		}
	}
	if _, err := PortFromName("GPIO1"); err == nil {
		t.Errorf("Expected error for GPIO1")
	}
	if PortName(10) != "K" {
		t.Errorf("Wrong name, got: %s, want K", PortName(10))
	}
}

func TestBankAt(t *testing.T) {
	mem := make([]uint32, BankSize(hw.STM32F407)/4)
	b := BankAt(unsafe.Pointer(&mem[0]), hw.STM32F407)
	b.ports[1].odr = 0x1234
	if mem[(GPIO_PORT_STRIDE+0x14)/4] != 0x1234 {
		t.Errorf("GPIOB ODR not at offset 0x414")
	}
}
