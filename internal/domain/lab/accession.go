package lab

import (
	"context"
	"errors"
	"fmt"
)

type AccessionResult struct {
	OrderID     string `json:"order_id"`
	SampleIndex int    `json:"sample_index"`
	Sample      Sample `json:"sample"`
}

// AccessionSample receives a collected sample into the lab. The status
// change is a conditional write; losing a race is a Conflict and is not
// retried.
func (s *Service) AccessionSample(ctx context.Context, orderID string, index int) (*AccessionResult, error) {
	p, err := authorize(ctx, AccessionRoles)
	if err != nil {
		return nil, err
	}
	o, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(o.Samples) {
		return nil, notFound("sample %d not found in order %s", index, orderID)
	}
	if o.Status == OrderCancelled {
		return nil, conflict("order is cancelled", nil)
	}
	smp := o.Samples[index]
	if smp.Status != SampleAwaitingCollection {
		s.countAccessionConflict()
		return nil, conflict(fmt.Sprintf("sample %d is %s, not %s", index, smp.Status, SampleAwaitingCollection), nil)
	}

	now := s.now()
	var accession string
	for attempt := 1; ; attempt++ {
		accession = s.newAccession(now)
		err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
			if err := s.orders.AccessionSample(ctx, o.ID, index, accession, now); err != nil {
				return err
			}
			return s.audit.Append(ctx, ActionSampleAccessioned, p.ID, o.Ref(), map[string]interface{}{
				"sample_index":     index,
				"accession_number": accession,
				"specimen_type":    smp.SpecimenType,
			})
		})
		if errors.Is(err, ErrAccessionTaken) && attempt < maxAccessionAttempts {
			continue
		}
		break
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrSampleStateChanged):
		s.countAccessionConflict()
		return nil, conflict(fmt.Sprintf("sample %d was accessioned by another request", index), err)
	default:
		return nil, internal("accession sample", err)
	}

	smp.Status = SampleInLab
	smp.AccessionNumber = accession
	smp.ReceivedAt = &now
	if s.metrics != nil {
		s.metrics.SamplesAccessioned.Inc()
	}
	return &AccessionResult{OrderID: o.OrderID, SampleIndex: index, Sample: smp}, nil
}

func (s *Service) countAccessionConflict() {
	if s.metrics != nil {
		s.metrics.AccessionConflicts.Inc()
	}
}

// RejectSample marks a sample unusable and cancels its unverified tests.
func (s *Service) RejectSample(ctx context.Context, orderID string, index int, reason string) (*Order, error) {
	p, err := authorize(ctx, RejectRoles)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, validation("rejection reason is required", map[string]string{"reason": "is required"})
	}
	o, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(o.Samples) {
		return nil, notFound("sample %d not found in order %s", index, orderID)
	}
	if o.Status == OrderCancelled {
		return nil, conflict("order is cancelled", nil)
	}
	smp := &o.Samples[index]
	if !smp.Status.CanTransition(SampleRejected) {
		return nil, conflict(fmt.Sprintf("sample %d is %s and cannot be rejected", index, smp.Status), nil)
	}

	smp.Status = SampleRejected
	smp.RejectionReason = reason
	var cancelled []string
	for i := range smp.Tests {
		if smp.Tests[i].Status != TestVerified && smp.Tests[i].Status != TestCancelled {
			smp.Tests[i].Status = TestCancelled
			cancelled = append(cancelled, smp.Tests[i].Code)
		}
	}
	rollupOrder(o)
	o.UpdatedAt = s.now()

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.orders.ReplaceSamples(ctx, o); err != nil {
			return err
		}
		return s.audit.Append(ctx, ActionSampleRejected, p.ID, o.Ref(), map[string]interface{}{
			"sample_index":    index,
			"reason":          reason,
			"cancelled_tests": cancelled,
		})
	})
	if err != nil {
		return nil, s.repoError(err, "reject sample")
	}
	return o, nil
}
