package gpio

import (
	"fmt"
)

func (d *Driver) ReadChannel(ch int) (Level, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, p, err := d.channel(ch)
	if err != nil {
		return Low, err
	}
	return Level(p.idr&(1<<c.Pin) != 0), nil
}

// WriteChannel drives the pin through BSRR, so other pins on the port are
// never touched.
func (d *Driver) WriteChannel(ch int, l Level) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, p, err := d.channel(ch)
	if err != nil {
		return err
	}
	d.bank.writeBSRR(p, bsrrFor(c.Pin, l))
	return nil
}

// FlipChannel inverts the output latch and returns the new level.
func (d *Driver) FlipChannel(ch int) (Level, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, p, err := d.channel(ch)
	if err != nil {
		return Low, err
	}
	l := !Level(p.odr&(1<<c.Pin) != 0)
	d.bank.writeBSRR(p, bsrrFor(c.Pin, l))
	return l, nil
}

func (d *Driver) ReadPort(port int) (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inited {
		return 0, ErrUninit
	}
	p, err := d.bank.port(port)
	if err != nil {
		return 0, err
	}
	return uint16(p.idr), nil
}

// WritePort sets every pin of the port at once.
func (d *Driver) WritePort(port int, val uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inited {
		return ErrUninit
	}
	p, err := d.bank.port(port)
	if err != nil {
		return err
	}
	d.bank.writeBSRR(p, uint32(val)|uint32(^val)<<16)
	return nil
}

func (l Level) String() string {
	if l {
		return "high"
	}
	return "low"
}

// ParseLevel accepts "high"/"low" and "1"/"0". Empty means low.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "high", "1":
		return High, nil
	case "low", "0", "":
		return Low, nil
	}
	return Low, fmt.Errorf("invalid level %q", s)
}
