package controller

import (
	"context"
	"errors"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recycling-sorter/config"
	"recycling-sorter/internal/bins"
	"recycling-sorter/internal/camera"
	"recycling-sorter/internal/classifier"
	"recycling-sorter/internal/model"
	"recycling-sorter/internal/sensor"
	"recycling-sorter/internal/servo"
	"recycling-sorter/internal/servo/servotest"
	"recycling-sorter/internal/snapshot"
	"recycling-sorter/internal/sorter"
)

type fakeSensors struct {
	mu         sync.Mutex
	present    bool
	full       map[bins.ID]bool
	climate    sensor.Climate
	climateErr error
	closed     bool
}

func (s *fakeSensors) ReadPresence() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present
}

func (s *fakeSensors) ReadBinSensor(id bins.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.full[id]
}

func (s *fakeSensors) ReadClimate() (sensor.Climate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.climate, s.climateErr
}

func (s *fakeSensors) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

type fakeCycle struct {
	runs []time.Time
	err  error
	now  func() time.Time
}

func (c *fakeCycle) Run(ctx context.Context) (sorter.Outcome, error) {
	c.runs = append(c.runs, c.now())
	if c.err != nil {
		return sorter.Outcome{}, c.err
	}
	return sorter.Outcome{ID: fmt.Sprintf("run-%d", len(c.runs)), Category: classifier.Metal}, nil
}

type fakeActuators struct {
	parks  int
	closed int
}

func (a *fakeActuators) ParkAll() error {
	a.parks++
	return nil
}

func (a *fakeActuators) CloseDriver() error {
	a.closed++
	return nil
}

type fakeTelemetry struct {
	mu   sync.Mutex
	sent []map[string]any
}

func (t *fakeTelemetry) Send(p map[string]any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, p)
	return true
}

func (t *fakeTelemetry) with(key string) []map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []map[string]any
	for _, p := range t.sent {
		if _, ok := p[key]; ok {
			out = append(out, p)
		}
	}
	return out
}

type binRecord struct {
	binID int
	full  bool
}

type fakeHistory struct {
	bins    []binRecord
	climate []*model.ClimateReading
}

func (h *fakeHistory) RecordBinTransition(ctx context.Context, binID int, full bool, at time.Time) error {
	h.bins = append(h.bins, binRecord{binID, full})
	return nil
}

func (h *fakeHistory) RecordClimate(ctx context.Context, reading *model.ClimateReading) error {
	h.climate = append(h.climate, reading)
	return nil
}

type fakeNotifier struct {
	dispatched []int
}

func (n *fakeNotifier) Dispatch(binID int) bool {
	n.dispatched = append(n.dispatched, binID)
	return true
}

type harness struct {
	clock    time.Time
	sensors  *fakeSensors
	cycle    *fakeCycle
	act      *fakeActuators
	tel      *fakeTelemetry
	hist     *fakeHistory
	notifier *fakeNotifier
	pub      *snapshot.Publisher
	c        *Controller
}

func newHarness() *harness {
	h := &harness{
		clock:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		sensors:  &fakeSensors{full: map[bins.ID]bool{}, climateErr: sensor.ErrSensor},
		act:      &fakeActuators{},
		tel:      &fakeTelemetry{},
		hist:     &fakeHistory{},
		notifier: &fakeNotifier{},
		pub:      snapshot.NewPublisher(),
	}
	h.cycle = &fakeCycle{now: func() time.Time { return h.clock }}
	h.c = New(config.Default(), h.sensors, h.cycle, h.act, h.pub, h.tel, WithHistory(h.hist), WithNotifier(h.notifier))
	h.c.Now = func() time.Time { return h.clock }
	return h
}

// steps runs n ticks one second apart, the first at the current clock.
func (h *harness) steps(n int) {
	for i := 0; i < n; i++ {
		h.c.Step(context.Background())
		h.clock = h.clock.Add(time.Second)
	}
}

func TestStep_FiresAfterOneSecondOfPresence(t *testing.T) {
	h := newHarness()
	t0 := h.clock
	h.sensors.present = true

	h.steps(2)
	require.Len(t, h.cycle.runs, 1)
	assert.Equal(t, t0.Add(time.Second), h.cycle.runs[0])
	assert.Equal(t, t0.Add(time.Second), h.c.Timer().LastCapture())
}

func TestStep_ContinuousPresenceWaitsForCooldown(t *testing.T) {
	h := newHarness()
	t0 := h.clock
	h.sensors.present = true

	h.steps(10)
	require.Len(t, h.cycle.runs, 2)
	assert.Equal(t, t0.Add(time.Second), h.cycle.runs[0])
	// the start stays armed through the cooldown and fires as soon as it ends
	assert.Equal(t, t0.Add(6*time.Second), h.cycle.runs[1])
}

func TestStep_EarlyReleaseDoesNotFire(t *testing.T) {
	h := newHarness()
	h.sensors.present = true
	h.steps(1)
	h.sensors.present = false
	h.steps(3)
	assert.Empty(t, h.cycle.runs)
}

func TestStep_CameraFailureDoesNotStartCooldown(t *testing.T) {
	h := newHarness()
	t0 := h.clock
	h.cycle.err = fmt.Errorf("%w: no frame", camera.ErrCamera)
	h.sensors.present = true

	h.steps(4)
	require.Len(t, h.cycle.runs, 2)
	assert.Equal(t, t0.Add(time.Second), h.cycle.runs[0])
	assert.Equal(t, t0.Add(3*time.Second), h.cycle.runs[1])
	assert.True(t, h.c.Timer().LastCapture().IsZero())
}

func TestStep_BinFullReportedOnce(t *testing.T) {
	h := newHarness()
	h.sensors.full[bins.Metal] = true
	// paper is not monitored in the default wiring
	h.sensors.full[bins.Paper] = true

	h.steps(5)
	assert.Empty(t, h.tel.with("metalFull"))
	assert.False(t, h.pub.Load().BinStatus[bins.Metal])

	h.steps(10)
	assert.Equal(t, []map[string]any{{"metalFull": 1}}, h.tel.with("metalFull"))
	assert.Empty(t, h.tel.with("paperFull"))
	assert.True(t, h.pub.Load().BinStatus[bins.Metal])
	assert.False(t, h.pub.Load().BinStatus[bins.Paper])
	assert.Equal(t, []binRecord{{model.BinKey(bins.Metal), true}}, h.hist.bins)
	assert.Equal(t, []int{model.BinKey(bins.Metal)}, h.notifier.dispatched)

	h.sensors.full[bins.Metal] = false
	h.steps(3)
	assert.Equal(t, []map[string]any{{"metalFull": 1}, {"metalFull": 0}}, h.tel.with("metalFull"))
	assert.False(t, h.pub.Load().BinStatus[bins.Metal])
	assert.Equal(t, []binRecord{{3, true}, {3, false}}, h.hist.bins)
	assert.Len(t, h.notifier.dispatched, 1, "emptying does not notify")
}

func TestStep_BinStatusPublishedEveryTick(t *testing.T) {
	dir := t.TempDir()
	mirror, err := snapshot.NewFileMirror(dir)
	require.NoError(t, err)

	h := newHarness()
	pub := snapshot.NewPublisher(mirror.Observe)
	h.c = New(config.Default(), h.sensors, h.cycle, h.act, pub, h.tel)
	h.c.Now = func() time.Time { return h.clock }

	var seen []time.Time
	h.steps(1)
	seen = append(seen, pub.Load().UpdatedAt)
	h.steps(4)
	seen = append(seen, pub.Load().UpdatedAt)

	// no bin changed and the climate read failed on every tick
	assert.Equal(t, []time.Time{h.clock.Add(-5 * time.Second), h.clock.Add(-time.Second)}, seen)

	data, err := os.ReadFile(filepath.Join(dir, snapshot.BinStatusFile))
	require.NoError(t, err)
	var status map[string]bool
	require.NoError(t, json.Unmarshal(data, &status))
	assert.Equal(t, map[string]bool{"paper": false, "plastic": false, "metal": false, "trash": false}, status)
}

func TestStep_ClimateFilteredAndPersisted(t *testing.T) {
	h := newHarness()
	h.sensors.climateErr = nil
	h.sensors.climate = sensor.Climate{Temperature: 20, Humidity: 40}
	h.steps(1)
	h.sensors.climate = sensor.Climate{Temperature: 22, Humidity: 50}
	h.steps(1)

	snap := h.pub.Load()
	assert.True(t, snap.HasClimate)
	assert.Equal(t, 21.0, snap.Temperature)
	assert.Equal(t, 45.0, snap.Humidity)
	assert.Equal(t, []map[string]any{
		{"temperature": 20.0, "humidity": 40.0},
		{"temperature": 21.0, "humidity": 45.0},
	}, h.tel.with("temperature"))

	// persisted on the first reading, then once per interval
	require.Len(t, h.hist.climate, 1)
	h.steps(60)
	assert.Len(t, h.hist.climate, 2)
}

func TestStep_ClimateErrorSkipsTick(t *testing.T) {
	h := newHarness()
	h.steps(3)
	assert.False(t, h.pub.Load().HasClimate)
	assert.Empty(t, h.tel.with("temperature"))
	assert.Empty(t, h.hist.climate)
}

func TestShutdown_RunsOnce(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.c.Shutdown())
	require.NoError(t, h.c.Shutdown())
	assert.Equal(t, 1, h.act.parks)
	assert.Equal(t, 1, h.act.closed)
	assert.True(t, h.sensors.closed)
}

type failingActuators struct{ fakeActuators }

func (a *failingActuators) ParkAll() error {
	a.parks++
	return errors.New("trash flap stuck")
}

func TestShutdown_ReportsParkFailure(t *testing.T) {
	h := newHarness()
	act := &failingActuators{}
	c := New(config.Default(), h.sensors, h.cycle, act, h.pub, h.tel)

	err := c.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trash flap stuck")
	assert.Equal(t, 1, act.closed, "driver released even when parking fails")
}

type stillCamera struct{}

func (stillCamera) Capture(ctx context.Context) (string, error) { return "object.jpg", nil }

func TestRun_ShutdownMidHoldParksEveryFlapInOrder(t *testing.T) {
	cfg := config.Default()
	cfg.Controller.Tick = time.Millisecond
	cfg.Controller.DetectionDuration = 0

	rec := &servotest.Recorder{}
	bank, err := servo.NewBankFromConfig(cfg, rec)
	require.NoError(t, err)
	bank.Servo().Sleep = func(time.Duration) {}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := snapshot.NewPublisher()
	tel := &fakeTelemetry{}
	cls := classifier.Func(func(context.Context, string) (classifier.Category, error) {
		return classifier.Metal, nil
	})
	s := sorter.New(stillCamera{}, cls, bank, pub, tel, cfg.Servo.Hold)
	// shutdown arrives while the metal flap is held open
	s.Sleep = func(time.Duration) { cancel() }

	sensors := &fakeSensors{present: true, full: map[bins.ID]bool{}, climateErr: sensor.ErrSensor}
	c := New(cfg, sensors, s, bank, pub, tel)

	require.NoError(t, c.Run(ctx))

	closed := servo.DutyCycle(cfg.Servo.ClosedAngle)
	open := servo.DutyCycle(cfg.Servo.OpenAngle)
	parked := []servotest.Call{
		{Channel: cfg.Bins.Metal.ServoChannel, Percent: closed},
		{Channel: cfg.Bins.Plastic.ServoChannel, Percent: closed},
		{Channel: cfg.Bins.Paper.ServoChannel, Percent: closed},
		{Channel: cfg.Bins.Trash.ServoChannel, Percent: closed},
	}

	var want []servotest.Call
	want = append(want, parked...) // homing
	want = append(want, servotest.Call{Channel: cfg.Bins.Metal.ServoChannel, Percent: open})
	want = append(want, parked...) // shutdown
	assert.Equal(t, want, rec.Commands())
	assert.True(t, rec.Closed())
	assert.True(t, sensors.closed)
	assert.True(t, c.Timer().LastCapture().IsZero(), "an interrupted cycle is not a capture")
}
