package lab

import (
	"context"

	"github.com/moazmaksod/LabFlow-sub000/internal/platform/eligibility"
)

// TriggerEligibilityCheck hands the order to the eligibility collaborator
// and returns as soon as the request is accepted. No result flows back into
// the order.
func (s *Service) TriggerEligibilityCheck(ctx context.Context, orderID string) (*eligibility.Request, error) {
	p, err := authorize(ctx, EligibilityRoles)
	if err != nil {
		return nil, err
	}
	o, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if s.eligibility == nil {
		return nil, internal("eligibility checks are not configured", nil)
	}
	req, err := s.eligibility.Enqueue(ctx, o.OrderID, o.PatientID.String(), p.ID)
	if err != nil {
		return nil, internal("enqueue eligibility check", err)
	}
	return req, nil
}
