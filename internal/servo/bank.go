package servo

import (
	"errors"
	"fmt"
	"log"
	"time"

	"recycling-sorter/config"
	"recycling-sorter/internal/bins"
)

// Angles are the flap positions in degrees.
type Angles struct {
	Closed   float64
	Open     float64
	Diverter float64
}

// Bank is the set of bin flaps, one servo channel per bin.
type Bank struct {
	servo     *Servo
	channels  map[bins.ID]int
	angles    Angles
	parkOrder []bins.ID
	parkDelay time.Duration
}

// NewBank creates a Bank. parkOrder lists the order bins are closed in on
// park; bins missing from it are parked last.
func NewBank(s *Servo, channels map[bins.ID]int, angles Angles, parkOrder []bins.ID, parkDelay time.Duration) *Bank {
	order := append([]bins.ID(nil), parkOrder...)
	seen := make(map[bins.ID]bool, len(order))
	for _, id := range order {
		seen[id] = true
	}
	for _, id := range bins.All {
		if !seen[id] {
			order = append(order, id)
		}
	}
	return &Bank{
		servo:     s,
		channels:  channels,
		angles:    angles,
		parkOrder: order,
		parkDelay: parkDelay,
	}
}

// OpenDriver opens the configured PWM backend.
func OpenDriver(cfg config.ServoConfig) (Driver, error) {
	switch cfg.Driver {
	case "maestro":
		return OpenMaestro(cfg.SerialPort, cfg.BaudRate)
	case "sysfs", "":
		return NewSysfsDriver("/sys/class/pwm", cfg.PWMChip)
	default:
		return nil, fmt.Errorf("unknown servo driver %q", cfg.Driver)
	}
}

// NewBankFromConfig wires a Bank from configuration around an opened driver.
func NewBankFromConfig(cfg *config.Config, driver Driver) (*Bank, error) {
	order := make([]bins.ID, 0, len(cfg.Servo.ParkOrder))
	for _, name := range cfg.Servo.ParkOrder {
		id, err := bins.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("servo.park_order: %w", err)
		}
		order = append(order, id)
	}
	channels := map[bins.ID]int{
		bins.Paper:   cfg.Bins.Paper.ServoChannel,
		bins.Plastic: cfg.Bins.Plastic.ServoChannel,
		bins.Metal:   cfg.Bins.Metal.ServoChannel,
		bins.Trash:   cfg.Bins.Trash.ServoChannel,
	}
	angles := Angles{
		Closed:   cfg.Servo.ClosedAngle,
		Open:     cfg.Servo.OpenAngle,
		Diverter: cfg.Servo.DiverterAngle,
	}
	return NewBank(New(driver, cfg.Servo.Settle), channels, angles, order, cfg.Servo.ParkDelay), nil
}

// Angles returns the configured flap positions.
func (b *Bank) Angles() Angles {
	return b.angles
}

// Servo returns the underlying servo, mainly so callers can share its Sleep.
func (b *Bank) Servo() *Servo {
	return b.servo
}

// Move drives a bin's flap to angle.
func (b *Bank) Move(id bins.ID, angle float64) error {
	ch, ok := b.channels[id]
	if !ok {
		return fmt.Errorf("%w: no channel for bin %s", ErrActuator, id)
	}
	if err := b.servo.SetAngle(ch, angle); err != nil {
		return fmt.Errorf("move %s: %w", id, err)
	}
	return nil
}

// Open moves a bin's flap to the open position.
func (b *Bank) Open(id bins.ID) error { return b.Move(id, b.angles.Open) }

// Close moves a bin's flap to the closed position.
func (b *Bank) Close(id bins.ID) error { return b.Move(id, b.angles.Closed) }

// Divert moves the trash flap to the diverter position.
func (b *Bank) Divert() error { return b.Move(bins.Trash, b.angles.Diverter) }

// ParkAll closes every flap in park order with a delay between servos to
// limit the inrush on the supply. Every flap is attempted even if an earlier
// one fails.
func (b *Bank) ParkAll() error {
	return b.MoveAll(b.angles.Closed)
}

// OpenAll opens every flap in park order, the trash flap to its diverter
// position.
func (b *Bank) OpenAll() error {
	return b.moveAll(func(id bins.ID) float64 {
		if id == bins.Trash {
			return b.angles.Diverter
		}
		return b.angles.Open
	})
}

// MoveAll drives every flap to angle in park order.
func (b *Bank) MoveAll(angle float64) error {
	return b.moveAll(func(bins.ID) float64 { return angle })
}

func (b *Bank) moveAll(angleFor func(bins.ID) float64) error {
	var errs []error
	for i, id := range b.parkOrder {
		if i > 0 {
			b.servo.Sleep(b.parkDelay)
		}
		if err := b.Move(id, angleFor(id)); err != nil {
			log.Printf("servo: %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ParkOrder returns the order flaps are parked in.
func (b *Bank) ParkOrder() []bins.ID {
	return append([]bins.ID(nil), b.parkOrder...)
}

// CloseDriver releases the PWM backend.
func (b *Bank) CloseDriver() error {
	return b.servo.Close()
}
