package servo

import (
	"errors"
	"fmt"
	"time"
)

// ErrActuator is returned when a servo cannot be driven.
var ErrActuator = errors.New("actuator failure")

// PeriodNanos is the 50 Hz PWM period hobby servos expect.
const PeriodNanos = 20_000_000

// Driver sets the PWM duty cycle of an output channel, in percent of the
// period. A duty of 0 stops driving the servo.
type Driver interface {
	SetDuty(channel int, percent float64) error
	Close() error
}

// DutyCycle converts an angle in degrees to a duty cycle percentage.
func DutyCycle(angle float64) float64 {
	return 2.5 + angle/18
}

// Servo commands angles through a Driver and releases the output once the
// servo has settled, which avoids jitter and heat while idle.
type Servo struct {
	driver Driver
	settle time.Duration

	// Sleep is used for the settle hold; replaced in tests.
	Sleep func(time.Duration)
}

// New creates a Servo holding each commanded position for settle.
func New(driver Driver, settle time.Duration) *Servo {
	return &Servo{driver: driver, settle: settle, Sleep: time.Sleep}
}

// SetAngle drives channel to angle, waits for it to settle, then zeroes the duty.
func (s *Servo) SetAngle(channel int, angle float64) error {
	if angle < 0 || angle > 180 {
		return fmt.Errorf("%w: angle %.1f out of range on channel %d", ErrActuator, angle, channel)
	}
	if err := s.driver.SetDuty(channel, DutyCycle(angle)); err != nil {
		return fmt.Errorf("%w: channel %d: %v", ErrActuator, channel, err)
	}
	s.Sleep(s.settle)
	if err := s.driver.SetDuty(channel, 0); err != nil {
		return fmt.Errorf("%w: release channel %d: %v", ErrActuator, channel, err)
	}
	return nil
}

// Close releases the driver.
func (s *Servo) Close() error {
	return s.driver.Close()
}
