package pipeline

import (
	"github.com/zalando/respipe/ambient"
)

// Suspend marks the chain to pause when the current filter returns. It
// fails with an IllegalSuspensionState error when called outside of a
// filter invocation, and with an UnsupportedSuspension error when the
// transport can't complete the request asynchronously.
func (r *Runner) Suspend() error {
	r.state.Lock()
	defer r.state.Unlock()

	if !r.inFilter {
		return illegalState("suspend outside of a filter invocation")
	}

	if r.continuation == nil || r.asyncContext() == nil {
		return &Error{Kind: UnsupportedSuspension, Err: ErrUnsupported}
	}

	r.suspended = true
	r.snapshot = r.snapshot.Copy()
	return nil
}

// Resume continues the suspended chain with the filter following the one
// that suspended it. It fails with an IllegalSuspensionState error when the
// chain is not suspended.
//
// When called during the invocation of the suspending filter, the resume
// is recorded and the chain continues when the filter returns. Otherwise,
// the chain is executed on the calling goroutine. The failures during the
// resumed execution are escalated, and not returned to the caller.
func (r *Runner) Resume() error {
	r.state.Lock()
	if r.inFilter {
		defer r.state.Unlock()
		if !r.suspended || r.resumePending {
			return illegalState("resume while not suspended")
		}

		r.resumePending = true
		return nil
	}

	cycle := r.cycle
	r.state.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.Lock()
	if !r.suspended || r.done || r.cycle != cycle {
		r.state.Unlock()
		return illegalState("resume while not suspended")
	}

	r.suspended = false
	s := r.snapshot
	r.state.Unlock()

	r.metrics.IncResumes()
	r.restore(s)
	if err := r.filter(); err != nil {
		r.escalate(err)
	}

	return nil
}

// ResumeWithError abandons the chain, and escalates the error. It can be
// called before the first filter was executed, too. A nil error is
// replaced by ErrAborted.
//
// When called during a filter invocation, the abort is recorded, and the
// error is handled when the filter returns: returned by Filter before the
// first suspension, and escalated afterwards. It fails with an
// IllegalSuspensionState error when the chain was already finished.
func (r *Runner) ResumeWithError(err error) error {
	if err == nil {
		err = ErrAborted
	}

	r.state.Lock()
	if r.inFilter {
		defer r.state.Unlock()
		if r.abortPending {
			return illegalState("chain already aborted")
		}

		r.abortPending = true
		r.abortErr = err
		return nil
	}

	r.state.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.Lock()
	if r.done || r.fired {
		r.state.Unlock()
		return illegalState("resume after the chain was finished")
	}

	r.done = true
	r.abandoned = true
	r.suspended = false
	s := r.snapshot
	r.state.Unlock()

	r.restore(s)
	r.escalate(err)
	return nil
}

// restore needs to be called with mu held.
func (r *Runner) restore(s *ambient.Snapshot) {
	r.rc.ctx = ambient.NewContext(r.rc.base, s)
}
