package trace

import "sync"

// Steps is the ordered, append-only list of human-readable step labels for one
// run. Every recorded label is mirrored to the attached Writer, if any.
type Steps struct {
	mu     sync.Mutex
	labels []string
	sink   *Writer
}

// NewSteps creates an empty step log. sink may be nil.
func NewSteps(sink *Writer) *Steps {
	return &Steps{sink: sink}
}

// Record appends a label.
func (s *Steps) Record(label string) {
	s.mu.Lock()
	s.labels = append(s.labels, label)
	index := len(s.labels) - 1
	s.mu.Unlock()

	s.sink.EmitStep(index, label)
}

// Snapshot returns a copy of the labels recorded so far.
func (s *Steps) Snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.labels))
	copy(out, s.labels)
	return out
}

// Len returns the number of recorded labels.
func (s *Steps) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.labels)
}
