package retry

import (
	"context"
	"time"
)

// Deadlines models the two-layer deadline every retried operation carries:
// an overall operation deadline and a per-attempt deadline, with each
// attempt's context bounded by whichever is tighter.
type Deadlines struct {
	operationDeadline time.Time
	hasOperation      bool
	attemptTimeout    time.Duration
}

// NewDeadlines builds a Deadlines from an operation timeout (0 means no
// operation deadline — bounded only by ctx) and a per-attempt timeout (0
// means unbounded per attempt).
func NewDeadlines(operationTimeout, attemptTimeout time.Duration) Deadlines {
	d := Deadlines{attemptTimeout: attemptTimeout}
	if operationTimeout > 0 {
		d.operationDeadline = time.Now().Add(operationTimeout)
		d.hasOperation = true
	}
	return d
}

// Expired reports whether the operation deadline has already passed.
func (d Deadlines) Expired() bool {
	return d.hasOperation && !time.Now().Before(d.operationDeadline)
}

// Remaining returns the time left in the operation budget, and false if
// there is no operation deadline configured.
func (d Deadlines) Remaining() (time.Duration, bool) {
	if !d.hasOperation {
		return 0, false
	}
	return time.Until(d.operationDeadline), true
}

// AttemptContext derives a context for a single attempt: its deadline is
// min(attemptTimeout, remaining operation budget).
func (d Deadlines) AttemptContext(parent context.Context) (context.Context, context.CancelFunc) {
	remaining, hasOp := d.Remaining()
	switch {
	case d.attemptTimeout > 0 && hasOp:
		if d.attemptTimeout < remaining {
			return context.WithTimeout(parent, d.attemptTimeout)
		}
		return context.WithTimeout(parent, remaining)
	case d.attemptTimeout > 0:
		return context.WithTimeout(parent, d.attemptTimeout)
	case hasOp:
		return context.WithTimeout(parent, remaining)
	default:
		return context.WithCancel(parent)
	}
}
