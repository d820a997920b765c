package servo

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// SysfsDriver drives the kernel PWM chip through /sys/class/pwm.
type SysfsDriver struct {
	root string

	mu       sync.Mutex
	exported map[int]bool
}

// NewSysfsDriver opens pwmchipN under root, normally /sys/class/pwm.
func NewSysfsDriver(root string, chip int) (*SysfsDriver, error) {
	dir := filepath.Join(root, fmt.Sprintf("pwmchip%d", chip))
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("pwm chip: %w", err)
	}
	return &SysfsDriver{root: dir, exported: make(map[int]bool)}, nil
}

func (d *SysfsDriver) channelDir(channel int) string {
	return filepath.Join(d.root, fmt.Sprintf("pwm%d", channel))
}

// export makes the channel available and sets the servo period.
func (d *SysfsDriver) export(channel int) error {
	if d.exported[channel] {
		return nil
	}
	if _, err := os.Stat(d.channelDir(channel)); errors.Is(err, fs.ErrNotExist) {
		if err := d.write(filepath.Join(d.root, "export"), strconv.Itoa(channel)); err != nil {
			return err
		}
	}
	if err := d.write(filepath.Join(d.channelDir(channel), "period"), strconv.Itoa(PeriodNanos)); err != nil {
		return err
	}
	d.exported[channel] = true
	return nil
}

// SetDuty writes the duty cycle and enables the output when it is non-zero.
func (d *SysfsDriver) SetDuty(channel int, percent float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.export(channel); err != nil {
		return err
	}
	dir := d.channelDir(channel)
	ns := int(math.Round(percent / 100 * PeriodNanos))
	if err := d.write(filepath.Join(dir, "duty_cycle"), strconv.Itoa(ns)); err != nil {
		return err
	}
	enable := "1"
	if ns == 0 {
		enable = "0"
	}
	return d.write(filepath.Join(dir, "enable"), enable)
}

// Close disables every channel that was used.
func (d *SysfsDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for ch := range d.exported {
		errs = append(errs, d.write(filepath.Join(d.channelDir(ch), "enable"), "0"))
	}
	return errors.Join(errs...)
}

func (d *SysfsDriver) write(path, value string) error {
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
