package lab

// sampleTransitions lists the forward moves of the sample lifecycle.
// Rejection is the only way out of the normal path.
var sampleTransitions = map[SampleStatus][]SampleStatus{
	SampleAwaitingCollection:   {SampleInLab, SampleRejected},
	SampleInLab:                {SampleTesting, SampleAwaitingVerification, SampleVerified, SampleRejected},
	SampleTesting:              {SampleAwaitingVerification, SampleVerified, SampleRejected},
	SampleAwaitingVerification: {SampleVerified, SampleRejected},
	SampleVerified:             {SampleArchived},
	SampleArchived:             {SampleDisposed},
	SampleRejected:             {SampleDisposed},
	SampleDisposed:             {},
}

func (s SampleStatus) Valid() bool {
	_, ok := sampleTransitions[s]
	return ok
}

func (s SampleStatus) CanTransition(to SampleStatus) bool {
	for _, next := range sampleTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal statuses need no further lab work.
func (s SampleStatus) Terminal() bool {
	switch s {
	case SampleVerified, SampleRejected, SampleArchived, SampleDisposed:
		return true
	}
	return false
}

// acceptsResults is false for samples that were rejected or are past
// verification.
func (s SampleStatus) acceptsResults() bool {
	switch s {
	case SampleInLab, SampleTesting, SampleAwaitingVerification, SampleVerified:
		return true
	}
	return false
}

// rollupSample sets a received sample to Verified once every test is
// Verified or Cancelled, or to Testing once some work has been verified.
func rollupSample(s *Sample) {
	if !s.Status.acceptsResults() || s.Status == SampleVerified {
		return
	}
	done, started := 0, false
	for _, t := range s.Tests {
		switch t.Status {
		case TestVerified:
			done++
			started = true
		case TestCancelled:
			done++
		}
	}
	switch {
	case len(s.Tests) > 0 && done == len(s.Tests):
		s.Status = SampleVerified
	case started && s.Status == SampleInLab:
		s.Status = SampleTesting
	}
}

// rollupOrder completes the order when every sample is terminal, and moves
// a pending order to In-Progress on the first testing activity.
func rollupOrder(o *Order) {
	if o.Status == OrderCancelled || len(o.Samples) == 0 {
		return
	}
	allTerminal, active := true, false
	for _, s := range o.Samples {
		if !s.Status.Terminal() {
			allTerminal = false
		}
		switch s.Status {
		case SampleTesting, SampleAwaitingVerification, SampleVerified:
			active = true
		}
	}
	switch {
	case allTerminal:
		o.Status = OrderComplete
	case active && o.Status == OrderPending:
		o.Status = OrderInProgress
	}
}
