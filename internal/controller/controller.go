// Package controller runs the sorter's polling loop: it watches the presence
// and bin sensors, starts a sorting cycle when an item has settled in front of
// the camera, and publishes the climate readings.
package controller

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"recycling-sorter/config"
	"recycling-sorter/internal/bins"
	"recycling-sorter/internal/camera"
	"recycling-sorter/internal/detection"
	"recycling-sorter/internal/model"
	"recycling-sorter/internal/sensor"
	"recycling-sorter/internal/snapshot"
	"recycling-sorter/internal/sorter"
	"recycling-sorter/internal/telemetry"
)

// Sensors reads the machine's inputs.
type Sensors interface {
	ReadPresence() bool
	ReadBinSensor(id bins.ID) bool
	ReadClimate() (sensor.Climate, error)
	Close()
}

// Cycle runs one capture, classify and actuate cycle.
type Cycle interface {
	Run(ctx context.Context) (sorter.Outcome, error)
}

// Actuators parks and releases the flaps.
type Actuators interface {
	ParkAll() error
	CloseDriver() error
}

// Telemetry queues a payload without blocking.
type Telemetry interface {
	Send(payload map[string]any) bool
}

// History persists bin and climate observations.
type History interface {
	RecordBinTransition(ctx context.Context, binID int, full bool, at time.Time) error
	RecordClimate(ctx context.Context, reading *model.ClimateReading) error
}

// Notifier is told when a bin becomes full.
type Notifier interface {
	Dispatch(binID int) bool
}

// Controller owns the loop state. It is driven by a single goroutine.
type Controller struct {
	tick           time.Duration
	persistClimate time.Duration

	sensors   Sensors
	cycle     Cycle
	actuators Actuators
	snapshot  *snapshot.Publisher
	telemetry Telemetry
	history   History
	notifier  Notifier

	monitor     *bins.Monitor
	timer       *detection.Timer
	temperature *sensor.ClimateFilter
	humidity    *sensor.ClimateFilter

	lastClimatePersist time.Time
	shutdownOnce       sync.Once
	shutdownErr        error

	// Now is replaced in tests.
	Now func() time.Time
}

// Option configures optional collaborators.
type Option func(*Controller)

// WithHistory persists bin transitions and periodic climate readings.
func WithHistory(h History) Option {
	return func(c *Controller) { c.history = h }
}

// WithNotifier sends a notification whenever a bin becomes full.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// New creates a Controller. Only bins enabled in cfg are monitored for fullness.
func New(cfg *config.Config, sensors Sensors, cycle Cycle, actuators Actuators, pub *snapshot.Publisher, tel Telemetry, opts ...Option) *Controller {
	var enabled []bins.ID
	for id, bc := range sensor.BinConfigs(cfg) {
		if bc.Enabled {
			enabled = append(enabled, id)
		}
	}

	c := &Controller{
		tick:           cfg.Controller.Tick,
		persistClimate: cfg.Controller.ClimatePersistInterval,
		sensors:        sensors,
		cycle:          cycle,
		actuators:      actuators,
		snapshot:       pub,
		telemetry:      tel,
		monitor:        bins.NewMonitor(cfg.Controller.BinFullThreshold, enabled),
		timer:          detection.NewTimer(cfg.Controller.DetectionDuration, cfg.Controller.Cooldown),
		temperature:    sensor.NewClimateFilter(cfg.Climate.Window),
		humidity:       sensor.NewClimateFilter(cfg.Climate.Window),
		Now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run homes the flaps, then polls every tick until ctx is cancelled. The
// flaps are parked and the hardware released before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	log.Printf("Homing flaps...")
	if err := c.actuators.ParkAll(); err != nil {
		log.Printf("controller: homing incomplete: %v", err)
	}
	defer c.Shutdown()

	log.Printf("Controller started, monitoring bins %v", c.monitor.Enabled())

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	c.Step(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Println("Controller shutting down.")
			return nil
		case <-ticker.C:
			c.Step(ctx)
		}
	}
}

// Step performs one loop iteration.
func (c *Controller) Step(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	now := c.Now()

	present := c.sensors.ReadPresence()
	c.checkBins(ctx, now)

	if c.timer.Tick(present, now) {
		c.sort(ctx)
	}

	c.checkClimate(ctx, c.Now())
}

// checkBins feeds every monitored bin and republishes the aggregate status,
// changed or not.
func (c *Controller) checkBins(ctx context.Context, now time.Time) {
	for _, id := range c.monitor.Enabled() {
		if tr, ok := c.monitor.Tick(id, c.sensors.ReadBinSensor(id), now); ok {
			c.reportBin(ctx, tr)
		}
	}
	c.snapshot.SetBinStatus(now, c.monitor.Status())
}

func (c *Controller) reportBin(ctx context.Context, tr bins.Transition) {
	if tr.Full {
		log.Printf("controller: %s bin is full", tr.Bin)
	} else {
		log.Printf("controller: %s bin was emptied", tr.Bin)
	}
	c.telemetry.Send(telemetry.BinFull(tr.Bin, tr.Full))

	key := model.BinKey(tr.Bin)
	if c.history != nil {
		if err := c.history.RecordBinTransition(ctx, key, tr.Full, tr.At); err != nil {
			log.Printf("controller: %v", err)
		}
	}
	if tr.Full && c.notifier != nil {
		c.notifier.Dispatch(key)
	}
}

func (c *Controller) sort(ctx context.Context) {
	out, err := c.cycle.Run(ctx)
	switch {
	case err == nil:
		c.timer.MarkCaptured(c.Now())
		log.Printf("controller: sorted %s into the %s bin", out.ID, out.Category.Bin())
	case errors.Is(err, camera.ErrCamera):
		log.Printf("controller: capture failed, no item sorted: %v", err)
	case sorter.IsInterrupted(err):
		log.Printf("controller: cycle interrupted: %v", err)
	default:
		log.Printf("controller: cycle failed: %v", err)
	}
}

func (c *Controller) checkClimate(ctx context.Context, now time.Time) {
	reading, err := c.sensors.ReadClimate()
	if err != nil {
		log.Printf("controller: climate skipped: %v", err)
		return
	}

	temperature := c.temperature.Push(reading.Temperature)
	humidity := c.humidity.Push(reading.Humidity)
	c.snapshot.SetClimate(now, temperature, humidity)
	c.telemetry.Send(telemetry.Climate(temperature, humidity))

	if c.history == nil || c.persistClimate <= 0 {
		return
	}
	if !c.lastClimatePersist.IsZero() && now.Sub(c.lastClimatePersist) < c.persistClimate {
		return
	}
	c.lastClimatePersist = now
	if err := c.history.RecordClimate(ctx, &model.ClimateReading{
		ObservedAt:  now,
		Temperature: temperature,
		Humidity:    humidity,
	}); err != nil {
		log.Printf("controller: %v", err)
	}
}

// Shutdown parks every flap and releases the hardware. Only the first call
// has an effect; later calls return the first result.
func (c *Controller) Shutdown() error {
	c.shutdownOnce.Do(func() {
		log.Println("Parking flaps...")
		var errs []error
		if err := c.actuators.ParkAll(); err != nil {
			errs = append(errs, err)
		}
		if err := c.actuators.CloseDriver(); err != nil {
			errs = append(errs, err)
		}
		c.sensors.Close()
		c.shutdownErr = errors.Join(errs...)
		if c.shutdownErr != nil {
			log.Printf("controller: shutdown: %v", c.shutdownErr)
		}
	})
	return c.shutdownErr
}

// Timer exposes the detection timer for inspection.
func (c *Controller) Timer() *detection.Timer {
	return c.timer
}
