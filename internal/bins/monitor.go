package bins

import (
	"time"

	"github.com/anggasct/fluo"
)

// State is the debounced fullness of a bin.
type State int

const (
	Unknown State = iota
	NotFull
	Full
)

func (s State) String() string {
	switch s {
	case NotFull:
		return "not_full"
	case Full:
		return "full"
	default:
		return "unknown"
	}
}

func parseState(id string) State {
	switch id {
	case NotFull.String():
		return NotFull
	case Full.String():
		return Full
	default:
		return Unknown
	}
}

// Transition is emitted when a bin's reported fullness changes.
type Transition struct {
	Bin  ID
	Full bool
	At   time.Time
}

const (
	eventFull  = "full"
	eventEmpty = "empty"

	// lastReportedKey holds the last fullness sent downstream; absent until
	// the first report.
	lastReportedKey = "lastReportedFull"
)

type reading struct {
	At time.Time
}

// binMachine drives one bin through Unknown, NotFull and Full.
type binMachine struct {
	id            ID
	threshold     time.Duration
	machine       fluo.Machine
	fullnessSince time.Time
	pending       *Transition
}

func newBinMachine(id ID, threshold time.Duration) *binMachine {
	b := &binMachine{id: id, threshold: threshold}

	m := fluo.NewMachine()
	m.State(Unknown.String()).Initial().
		To(NotFull.String()).On(eventEmpty).
		To(Full.String()).On(eventFull).When(b.held)
	m.State(NotFull.String()).
		To(Full.String()).On(eventFull).When(b.held)
	m.State(Full.String()).
		OnEntry(b.reportFull).
		OnExit(b.reportEmptied).
		To(NotFull.String()).On(eventEmpty)

	b.machine = m.Build().CreateInstance()
	if err := b.machine.Start(); err != nil {
		panic("bins: start monitor for " + id.String() + ": " + err.Error())
	}
	return b
}

// held reports whether the sensor has read full for the whole threshold.
func (b *binMachine) held(ctx fluo.Context) bool {
	r, ok := ctx.GetEventData().(reading)
	return ok && !b.fullnessSince.IsZero() && r.At.Sub(b.fullnessSince) >= b.threshold
}

func (b *binMachine) reportFull(ctx fluo.Context) error {
	if last, ok := lastReported(ctx); ok && last {
		return nil
	}
	ctx.Set(lastReportedKey, true)
	b.emit(ctx, true)
	return nil
}

func (b *binMachine) reportEmptied(ctx fluo.Context) error {
	if last, ok := lastReported(ctx); ok && !last {
		return nil
	}
	ctx.Set(lastReportedKey, false)
	b.emit(ctx, false)
	return nil
}

func (b *binMachine) emit(ctx fluo.Context, full bool) {
	r, _ := ctx.GetEventData().(reading)
	b.pending = &Transition{Bin: b.id, Full: full, At: r.At}
}

func lastReported(ctx fluo.Context) (bool, bool) {
	v, ok := ctx.Get(lastReportedKey)
	if !ok {
		return false, false
	}
	full, ok := v.(bool)
	return full, ok
}

// tick feeds one reading. Readings with no matching transition are rejected by
// the machine and leave the state unchanged.
func (b *binMachine) tick(full bool, now time.Time) (Transition, bool) {
	event := eventEmpty
	if full {
		event = eventFull
		if b.fullnessSince.IsZero() {
			b.fullnessSince = now
		}
	} else {
		b.fullnessSince = time.Time{}
	}

	b.pending = nil
	b.machine.HandleEvent(event, reading{At: now})
	if b.pending == nil {
		return Transition{}, false
	}
	return *b.pending, true
}

func (b *binMachine) state() State {
	return parseState(b.machine.CurrentState())
}

func (b *binMachine) reportedFull() bool {
	full, ok := lastReported(b.machine.Context())
	return ok && full
}

// Monitor tracks fullness of every bin from raw sensor readings. A bin is only
// reported full after its sensor has read full for the whole threshold, and a
// transition is emitted only when it differs from the last reported value.
type Monitor struct {
	bins map[ID]*binMachine
}

// NewMonitor creates a monitor for the given enabled bins.
func NewMonitor(threshold time.Duration, enabled []ID) *Monitor {
	m := &Monitor{bins: make(map[ID]*binMachine, len(All))}
	for _, id := range enabled {
		if !id.Valid() {
			continue
		}
		if _, ok := m.bins[id]; !ok {
			m.bins[id] = newBinMachine(id, threshold)
		}
	}
	return m
}

// Enabled returns the monitored bins in display order.
func (m *Monitor) Enabled() []ID {
	var out []ID
	for _, id := range All {
		if _, ok := m.bins[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// State returns the current debounced state of a bin.
func (m *Monitor) State(id ID) State {
	if b, ok := m.bins[id]; ok {
		return b.state()
	}
	return Unknown
}

// Tick feeds one reading for a bin. It returns a transition and true when the
// reading confirms a change that must be reported.
func (m *Monitor) Tick(id ID, full bool, now time.Time) (Transition, bool) {
	b, ok := m.bins[id]
	if !ok {
		return Transition{}, false
	}
	return b.tick(full, now)
}

// Status returns the aggregate reported fullness of every bin.
func (m *Monitor) Status() Status {
	out := make(Status, len(All))
	for _, id := range All {
		b, ok := m.bins[id]
		out[id] = ok && b.reportedFull()
	}
	return out
}
