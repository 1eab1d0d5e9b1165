package main

import (
	"fmt"
	"log"
	"time"

	"github.com/Jon-Bright/stm32ctl/gpio"
)

var (
	powerCtrl       string
	powerStatus     string
	powerStatusWait time.Duration
)

// powerOn drives the --power-ctrl channel high and, if there's a
// --power-status channel, waits for it to read high.
func powerOn(d *gpio.Driver) error {
	if powerCtrl == "" {
		return nil
	}
	ctrl, err := d.ChannelByName(powerCtrl)
	if err != nil {
		return fmt.Errorf("couldn't find power control: %w", err)
	}
	log.Printf("Power on")
	err = d.WriteChannel(ctrl, gpio.High)
	if err != nil {
		return fmt.Errorf("couldn't set power control high: %v", err)
	}
	if powerStatus == "" {
		return nil
	}
	status, err := d.ChannelByName(powerStatus)
	if err != nil {
		return fmt.Errorf("couldn't find power status: %w", err)
	}
	start := time.Now()
	for {
		val, err := d.ReadChannel(status)
		if err != nil {
			return fmt.Errorf("couldn't query power status: %v", err)
		}
		t := time.Now()
		if val == gpio.High {
			log.Printf("Power stabilized after %v", t.Sub(start))
			return nil
		}
		if t.Sub(start) > powerStatusWait {
			return fmt.Errorf("timed out waiting for power to be healthy, started %v, now %v", start, t)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func powerOff(d *gpio.Driver) error {
	if powerCtrl == "" {
		return nil
	}
	ctrl, err := d.ChannelByName(powerCtrl)
	if err != nil {
		return fmt.Errorf("couldn't find power control: %w", err)
	}
	log.Printf("Power off")
	err = d.WriteChannel(ctrl, gpio.Low)
	if err != nil {
		return fmt.Errorf("couldn't set power control low: %v", err)
	}
	return nil
}
