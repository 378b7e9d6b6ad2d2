package closedloop

import "time"

// Sample is one metric reading at a point of workout time
type Sample struct {
	At    time.Duration
	Value float64
}

// HistoryProvider supplies recent metric samples for trend detection
type HistoryProvider interface {
	Since(at time.Duration) []Sample
}

// History is a bounded ring buffer of samples, oldest first
type History struct {
	samples []Sample
	start   int
	size    int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{samples: make([]Sample, capacity)}
}

func (h *History) Add(at time.Duration, value float64) {
	idx := (h.start + h.size) % len(h.samples)
	h.samples[idx] = Sample{At: at, Value: value}
	if h.size < len(h.samples) {
		h.size++
		return
	}
	h.start = (h.start + 1) % len(h.samples)
}

func (h *History) Len() int {
	return h.size
}

func (h *History) Reset() {
	h.start = 0
	h.size = 0
}

// Since returns the samples taken at or after at, oldest first
func (h *History) Since(at time.Duration) []Sample {
	var result []Sample
	for i := 0; i < h.size; i++ {
		s := h.samples[(h.start+i)%len(h.samples)]
		if s.At >= at {
			result = append(result, s)
		}
	}
	return result
}

// slopePerMinute fits a least squares line through the samples
func slopePerMinute(samples []Sample) (float64, bool) {
	if len(samples) < 2 {
		return 0, false
	}
	var sumX, sumY, sumXY, sumXX float64
	n := float64(len(samples))
	for _, s := range samples {
		x := s.At.Minutes()
		sumX += x
		sumY += s.Value
		sumXY += x * s.Value
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, false
	}
	return (n*sumXY - sumX*sumY) / denom, true
}
