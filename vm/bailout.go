package vm

import "fmt"

// Snapshot is the state needed to resume a speculative path in the
// general, non-speculative execution path at the equivalent logical point.
type Snapshot struct {
	// ResumePoint identifies the instruction in the general path.
	ResumePoint uint32 `cbor:"1,keyasint"`

	// Frame holds the live values at the resume point.
	Frame []Value `cbor:"2,keyasint"`

	// Label names the guard for diagnostics.
	Label string `cbor:"3,keyasint,omitempty"`
}

// NewSnapshot creates a snapshot for resumePoint with a copy of frame.
func NewSnapshot(resumePoint uint32, label string, frame ...Value) *Snapshot {
	f := make([]Value, len(frame))
	copy(f, frame)
	return &Snapshot{ResumePoint: resumePoint, Frame: f, Label: label}
}

// Bailout is a single-shot transfer out of a speculative path. It is a
// value returned to the execution driver, not a panic, and is never
// re-entered.
type Bailout struct {
	Snapshot *Snapshot  `cbor:"1,keyasint"`
	Expected NativeType `cbor:"2,keyasint"`
	Observed Tag        `cbor:"3,keyasint"`
}

// Error describes the failed guard. Bailouts are not errors in the
// control-flow sense; this exists for logging.
func (b *Bailout) Error() string {
	label := ""
	if b.Snapshot != nil && b.Snapshot.Label != "" {
		label = " at " + b.Snapshot.Label
	}
	resume := uint32(0)
	if b.Snapshot != nil {
		resume = b.Snapshot.ResumePoint
	}
	return fmt.Sprintf("bailout%s: expected %s, got %s (resume %d)", label, b.Expected, b.Observed, resume)
}

// Driver consumes bailouts. An execution driver resumes the general path
// from the snapshot.
type Driver interface {
	Resume(b *Bailout) (Value, error)
}

// DriverFunc adapts a function to Driver.
type DriverFunc func(b *Bailout) (Value, error)

// Resume implements Driver.
func (f DriverFunc) Resume(b *Bailout) (Value, error) { return f(b) }
