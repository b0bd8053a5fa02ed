package progress

import "github.com/jonathan/ad-agent-console/internal/stages"

// Detector recognizes the terminal-success marker and fires its subscribers exactly once.
// Like Tracker, it is owned by a single consumer.
type Detector struct {
	vocab       *stages.Vocabulary
	completed   bool
	duplicates  int
	subscribers []func()
}

// NewDetector creates a detector for the given vocabulary.
func NewDetector(vocab *stages.Vocabulary) *Detector {
	return &Detector{vocab: vocab}
}

// Subscribe registers fn to run on the first completion.
func (d *Detector) Subscribe(fn func()) {
	if fn != nil {
		d.subscribers = append(d.subscribers, fn)
	}
}

// Check reports whether text is a terminal event. The first terminal event flips the
// completion flag and notifies subscribers; later ones are counted and otherwise ignored.
func (d *Detector) Check(text string) bool {
	if !d.vocab.IsTerminal(text) {
		return false
	}
	if d.completed {
		d.duplicates++
		return true
	}

	d.completed = true
	for _, fn := range d.subscribers {
		fn()
	}
	return true
}

// Completed reports whether a terminal event has been seen.
func (d *Detector) Completed() bool {
	return d.completed
}

// Duplicates returns how many terminal events arrived after the first.
func (d *Detector) Duplicates() int {
	return d.duplicates
}
