package snapshot

import (
	"sync/atomic"
	"time"

	"recycling-sorter/internal/bins"
	"recycling-sorter/internal/classifier"
)

// Snapshot is an immutable view of the controller state. Readers must not
// modify it; the controller publishes a new value for every change.
type Snapshot struct {
	Classification *classifier.Category
	ClassifiedAt   time.Time
	BinStatus      bins.Status
	Temperature    float64
	Humidity       float64
	HasClimate     bool
	ImagePath      string
	UpdatedAt      time.Time
}

// Observer is notified with every published snapshot. It runs on the
// publishing goroutine and must not block.
type Observer func(*Snapshot)

// Publisher holds the current snapshot. It has a single writer and any number
// of concurrent readers.
type Publisher struct {
	current   atomic.Pointer[Snapshot]
	observers []Observer
}

// NewPublisher starts with every bin reported not full.
func NewPublisher(observers ...Observer) *Publisher {
	p := &Publisher{observers: observers}
	st := make(bins.Status, len(bins.All))
	for _, id := range bins.All {
		st[id] = false
	}
	p.current.Store(&Snapshot{BinStatus: st})
	return p
}

// Load returns the current snapshot.
func (p *Publisher) Load() *Snapshot {
	return p.current.Load()
}

// Update publishes a modified copy of the current snapshot. mutate receives a
// private copy whose bin status map is already cloned.
func (p *Publisher) Update(now time.Time, mutate func(*Snapshot)) *Snapshot {
	next := *p.current.Load()
	next.BinStatus = next.BinStatus.Clone()
	if next.Classification != nil {
		c := *next.Classification
		next.Classification = &c
	}
	mutate(&next)
	next.UpdatedAt = now
	p.current.Store(&next)
	for _, obs := range p.observers {
		obs(&next)
	}
	return &next
}

// SetClassification records a classification and the image it came from.
func (p *Publisher) SetClassification(now time.Time, c classifier.Category, imagePath string) {
	p.Update(now, func(s *Snapshot) {
		s.Classification = &c
		s.ClassifiedAt = now
		if imagePath != "" {
			s.ImagePath = imagePath
		}
	})
}

// SetBinStatus replaces the bin status.
func (p *Publisher) SetBinStatus(now time.Time, st bins.Status) {
	p.Update(now, func(s *Snapshot) {
		s.BinStatus = st.Clone()
	})
}

// SetClimate records the filtered climate readings.
func (p *Publisher) SetClimate(now time.Time, temperature, humidity float64) {
	p.Update(now, func(s *Snapshot) {
		s.Temperature = temperature
		s.Humidity = humidity
		s.HasClimate = true
	})
}
