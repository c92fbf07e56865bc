package model

import "fmt"

// OutcomeKind classifies how one execution attempt of a job ended
type OutcomeKind int

const (
	OutcomeSucceeded OutcomeKind = iota
	OutcomePaused
	OutcomeCanceled
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomePaused:
		return "paused"
	case OutcomeCanceled:
		return "canceled"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the result of running a job once.
// Err is set only for OutcomeFailed; Transient marks failures worth retrying.
type Outcome struct {
	Kind      OutcomeKind
	Err       error
	Transient bool
}

// Succeeded returns a successful outcome
func Succeeded() Outcome { return Outcome{Kind: OutcomeSucceeded} }

// Paused returns a paused outcome
func Paused() Outcome { return Outcome{Kind: OutcomePaused} }

// Canceled returns a canceled outcome
func Canceled() Outcome { return Outcome{Kind: OutcomeCanceled} }

// Failed returns a failed outcome wrapping err
func Failed(err error, transient bool) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err, Transient: transient}
}

// Status returns the terminal or resting job status for the outcome
func (o Outcome) Status() JobStatus {
	switch o.Kind {
	case OutcomeSucceeded:
		return StatusDone
	case OutcomePaused:
		return StatusPaused
	case OutcomeCanceled:
		return StatusCanceled
	default:
		return StatusError
	}
}

// Signal is a pending control request for a running job
type Signal int

const (
	SignalNone Signal = iota
	SignalPause
	SignalCancel
)

// Err returns the control-flow error raised when the signal is observed
func (s Signal) Err() error {
	switch s {
	case SignalPause:
		return ErrPaused
	case SignalCancel:
		return ErrCanceled
	default:
		return nil
	}
}

// ResolveSignal combines the two flags; cancel wins over pause
func ResolveSignal(pause, cancel bool) Signal {
	switch {
	case cancel:
		return SignalCancel
	case pause:
		return SignalPause
	default:
		return SignalNone
	}
}
