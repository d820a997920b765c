package sorter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"recycling-sorter/internal/bins"
	"recycling-sorter/internal/classifier"
	"recycling-sorter/internal/model"
	"recycling-sorter/internal/snapshot"
	"recycling-sorter/internal/telemetry"
)

// Camera captures one corrected frame and returns its path.
type Camera interface {
	Capture(ctx context.Context) (string, error)
}

// Actuators moves the bin flaps.
type Actuators interface {
	Open(id bins.ID) error
	Close(id bins.ID) error
	Divert() error
}

// Telemetry queues a payload without blocking.
type Telemetry interface {
	Send(payload map[string]any) bool
}

// Predictor is implemented by classifiers that also report scores.
type Predictor interface {
	Predict(ctx context.Context, imagePath string) (classifier.Result, error)
}

// Previewer is implemented by classifiers that save the image they actually
// scored, which is then shown instead of the raw frame.
type Previewer interface {
	CroppedPath() string
}

// History persists completed cycles.
type History interface {
	RecordSort(ctx context.Context, rec *model.SortRecord) error
}

// Outcome describes a completed cycle.
type Outcome struct {
	ID         string
	Category   classifier.Category
	Confidence float64
	Fallback   bool
	ImagePath  string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Sorter runs one capture, classify and actuate cycle per detected item.
type Sorter struct {
	camera     Camera
	classifier classifier.Classifier
	actuators  Actuators
	snapshot   *snapshot.Publisher
	telemetry  Telemetry
	history    History
	hold       time.Duration

	// Now and Sleep are replaced in tests.
	Now   func() time.Time
	Sleep func(time.Duration)
}

// Option configures optional collaborators.
type Option func(*Sorter)

// WithHistory persists every completed cycle.
func WithHistory(h History) Option {
	return func(s *Sorter) { s.history = h }
}

// New creates a Sorter. hold is how long a flap stays open.
func New(cam Camera, cls classifier.Classifier, act Actuators, pub *snapshot.Publisher, tel Telemetry, hold time.Duration, opts ...Option) *Sorter {
	s := &Sorter{
		camera:     cam,
		classifier: cls,
		actuators:  act,
		snapshot:   pub,
		telemetry:  tel,
		hold:       hold,
		Now:        time.Now,
		Sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs one cycle. A camera failure aborts before any flap moves.
// A classifier failure sorts the item as trash. Cancelling ctx stops the
// cycle after the step in progress; the caller is then expected to park.
func (s *Sorter) Run(ctx context.Context) (Outcome, error) {
	out := Outcome{StartedAt: s.Now()}

	path, err := s.camera.Capture(ctx)
	if err != nil {
		return out, err
	}
	out.ImagePath = path

	res, scored := s.classify(ctx, path)
	out.Category, out.Confidence, out.Fallback = res.Category, res.Confidence, res.Fallback
	log.Printf("sorter: classified as %s (confidence %.2f, fallback %v)", out.Category, out.Confidence, out.Fallback)

	display := path
	if pv, ok := s.classifier.(Previewer); ok && scored && pv.CroppedPath() != "" {
		display = pv.CroppedPath()
	}
	s.snapshot.SetClassification(s.Now(), out.Category, display)
	s.telemetry.Send(telemetry.Classification(out.Category))

	if err := s.Actuate(ctx, out.Category.Bin()); err != nil {
		return out, err
	}

	out.FinishedAt = s.Now()
	out.ID = uuid.NewString()
	s.record(ctx, out)
	return out, nil
}

// classify never fails: errors sort the item as trash. scored is false when
// the classifier produced no result.
func (s *Sorter) classify(ctx context.Context, path string) (res classifier.Result, scored bool) {
	if p, ok := s.classifier.(Predictor); ok {
		res, err := p.Predict(ctx, path)
		if err != nil {
			log.Printf("sorter: classify failed, sorting as trash: %v", err)
			return classifier.Result{Category: classifier.Trash, Fallback: true}, false
		}
		return res, true
	}
	c, err := s.classifier.Classify(ctx, path)
	if err != nil {
		log.Printf("sorter: classify failed, sorting as trash: %v", err)
		return classifier.Result{Category: classifier.Trash, Fallback: true}, false
	}
	return classifier.Result{Category: c, Confidence: 1}, true
}

type step struct {
	name string
	run  func() error
	// opens is the bin left open by this step, closes the one it closes.
	opens, closes *bins.ID
}

// steps returns the flap sequence for an item going into target. Items for
// the trash bin only use the trash flap; anything else opens its own flap and
// then the trash flap as a diverter, closing them in the same order.
func (s *Sorter) steps(target bins.ID) []step {
	trash := bins.Trash
	hold := step{name: "hold", run: func() error {
		s.Sleep(s.hold)
		return nil
	}}
	if target == bins.Trash {
		return []step{
			{name: "open trash", run: func() error { return s.actuators.Open(trash) }, opens: &trash},
			hold,
			{name: "close trash", run: func() error { return s.actuators.Close(trash) }, closes: &trash},
		}
	}
	return []step{
		{name: "open " + target.String(), run: func() error { return s.actuators.Open(target) }, opens: &target},
		hold,
		{name: "divert trash", run: s.actuators.Divert, opens: &trash},
		hold,
		{name: "close " + target.String(), run: func() error { return s.actuators.Close(target) }, closes: &target},
		{name: "close trash", run: func() error { return s.actuators.Close(trash) }, closes: &trash},
	}
}

// Actuate drives the flap sequence for target. On an actuator failure it
// tries to close whatever it opened.
func (s *Sorter) Actuate(ctx context.Context, target bins.ID) error {
	open := make(map[bins.ID]bool)
	for _, st := range s.steps(target) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("actuation interrupted before %s: %w", st.name, err)
		}
		if err := st.run(); err != nil {
			s.closeOpened(open)
			return fmt.Errorf("%s: %w", st.name, err)
		}
		if st.opens != nil {
			open[*st.opens] = true
		}
		if st.closes != nil {
			delete(open, *st.closes)
		}
	}
	return nil
}

func (s *Sorter) closeOpened(open map[bins.ID]bool) {
	for _, id := range bins.All {
		if !open[id] {
			continue
		}
		if err := s.actuators.Close(id); err != nil {
			log.Printf("sorter: could not close %s after failure: %v", id, err)
		}
	}
}

func (s *Sorter) record(ctx context.Context, out Outcome) {
	if s.history == nil {
		return
	}
	rec := &model.SortRecord{
		ID:          out.ID,
		Category:    out.Category.String(),
		Confidence:  out.Confidence,
		Fallback:    out.Fallback,
		ImagePath:   out.ImagePath,
		StartedAt:   out.StartedAt,
		CompletedAt: out.FinishedAt,
	}
	// the cycle already finished; persist even if shutdown has started
	if err := s.history.RecordSort(context.WithoutCancel(ctx), rec); err != nil {
		log.Printf("sorter: record sort: %v", err)
	}
}

// IsInterrupted reports whether err is a shutdown during actuation.
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
