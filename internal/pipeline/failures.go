package pipeline

import "sync"

// defaultFailureWindow is how many recent fast-path outcomes per document
// class feed the historical failure rate.
const defaultFailureWindow = 50

// FailureTracker keeps a sliding window of fast-path outcomes per document
// class. The router reads the rate to decide when a class should stop taking
// the fast path.
type FailureTracker struct {
	mu      sync.Mutex
	window  int
	classes map[string]*outcomeWindow
}

type outcomeWindow struct {
	outcomes []bool
	next     int
	filled   bool
}

// NewFailureTracker creates a tracker with the given window size per class.
func NewFailureTracker(window int) *FailureTracker {
	if window <= 0 {
		window = defaultFailureWindow
	}
	return &FailureTracker{
		window:  window,
		classes: map[string]*outcomeWindow{},
	}
}

// Record stores one outcome for the class, evicting the oldest once the
// window is full.
func (t *FailureTracker) Record(documentClass string, failed bool) {
	if documentClass == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.classes[documentClass]
	if !ok {
		w = &outcomeWindow{outcomes: make([]bool, t.window)}
		t.classes[documentClass] = w
	}
	w.outcomes[w.next] = failed
	w.next++
	if w.next == len(w.outcomes) {
		w.next = 0
		w.filled = true
	}
}

// Rate returns the failure fraction over the class's recorded window, or 0
// for classes with no history.
func (t *FailureTracker) Rate(documentClass string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.classes[documentClass]
	if !ok {
		return 0
	}
	size := w.next
	if w.filled {
		size = len(w.outcomes)
	}
	if size == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < size; i++ {
		if w.outcomes[i] {
			failures++
		}
	}
	return float64(failures) / float64(size)
}
