package sensor

// ClimateFilter is a moving average over the most recent readings.
type ClimateFilter struct {
	buf  []float64
	next int
	n    int
}

// NewClimateFilter creates a filter averaging the last size values.
func NewClimateFilter(size int) *ClimateFilter {
	if size <= 0 {
		size = 10
	}
	return &ClimateFilter{buf: make([]float64, size)}
}

// Push adds a reading, evicting the oldest once full, and returns the mean of
// the buffered readings rounded to two decimals.
func (f *ClimateFilter) Push(v float64) float64 {
	f.buf[f.next] = v
	f.next = (f.next + 1) % len(f.buf)
	if f.n < len(f.buf) {
		f.n++
	}
	return f.Mean()
}

// Mean returns the rounded mean, zero when empty.
func (f *ClimateFilter) Mean() float64 {
	if f.n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < f.n; i++ {
		sum += f.buf[i]
	}
	return Round2(sum / float64(f.n))
}

// Len returns the number of buffered readings.
func (f *ClimateFilter) Len() int {
	return f.n
}
