// Package registry maps a sensor's hardware identity to where it is installed.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Defaults written for a device seen for the first time.
const (
	DefaultLocation  = "default"
	DefaultEquipment = "default"
	DefaultTimezone  = "US/Eastern"
)

// Device is the registration of one sensor.
type Device struct {
	HardwareID string
	Location   string
	Equipment  string
	Timezone   string
}

// TimeLocation loads the device's timezone.
func (d Device) TimeLocation() (*time.Location, error) {
	if d.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", d.Timezone, err)
	}
	return loc, nil
}

// Resolver looks up a device registration, creating a default one on first sight.
type Resolver interface {
	Resolve(ctx context.Context, hardwareID string) (Device, error)
}

// Static always resolves to a fixed registration.
type Static struct {
	Device Device
}

// Resolve implements Resolver.
func (s Static) Resolve(_ context.Context, hardwareID string) (Device, error) {
	d := s.Device
	d.HardwareID = hardwareID
	if d.Location == "" {
		d.Location = DefaultLocation
	}
	if d.Equipment == "" {
		d.Equipment = DefaultEquipment
	}
	if d.Timezone == "" {
		d.Timezone = DefaultTimezone
	}
	return d, nil
}

// ErrNoHardwareID is returned when no interface has a hardware address.
var ErrNoHardwareID = errors.New("registry: no network interface with a hardware address")

// HardwareID returns the MAC address of the first non-loopback interface
// that has one, formatted as aa:bb:cc:dd:ee:ff.
func HardwareID() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("list interfaces: %w", err)
	}
	return pickHardwareID(ifaces)
}

func pickHardwareID(ifaces []net.Interface) (string, error) {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return strings.ToLower(iface.HardwareAddr.String()), nil
	}
	return "", ErrNoHardwareID
}
