package servo

import (
	"fmt"
	"io"
	"math"
	"sync"

	"go.bug.st/serial"
)

const maestroSetTarget = 0x84

// MaestroDriver drives a Pololu Maestro servo controller over its serial
// compact protocol.
type MaestroDriver struct {
	mu   sync.Mutex
	port io.WriteCloser
}

// OpenMaestro opens the controller's command port.
func OpenMaestro(portName string, baud int) (*MaestroDriver, error) {
	mode := &serial.Mode{
		BaudRate: baud,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open maestro %s: %w", portName, err)
	}
	return NewMaestroDriver(port), nil
}

// NewMaestroDriver wraps an already opened port.
func NewMaestroDriver(port io.WriteCloser) *MaestroDriver {
	return &MaestroDriver{port: port}
}

// SetDuty converts the duty cycle to a pulse width in quarter microseconds.
// A zero target tells the Maestro to stop sending pulses.
func (d *MaestroDriver) SetDuty(channel int, percent float64) error {
	if channel < 0 || channel > 23 {
		return fmt.Errorf("maestro channel %d out of range", channel)
	}
	target := MaestroTarget(percent)
	cmd := []byte{
		maestroSetTarget,
		byte(channel),
		byte(target & 0x7F),
		byte((target >> 7) & 0x7F),
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.port.Write(cmd); err != nil {
		return fmt.Errorf("maestro write: %w", err)
	}
	return nil
}

// MaestroTarget converts a duty cycle percentage of the 20 ms period to the
// controller's quarter-microsecond target.
func MaestroTarget(percent float64) int {
	micros := percent / 100 * (PeriodNanos / 1000)
	return int(math.Round(micros * 4))
}

// Close releases the serial port.
func (d *MaestroDriver) Close() error {
	return d.port.Close()
}
