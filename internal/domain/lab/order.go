package lab

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/moazmaksod/LabFlow-sub000/internal/domain/catalog"
	"github.com/moazmaksod/LabFlow-sub000/internal/domain/patient"
)

type CreateOrderInput struct {
	PatientID     uuid.UUID   `json:"patient_id"`
	PhysicianID   *uuid.UUID  `json:"physician_id,omitempty"`
	TestCodes     []string    `json:"test_codes"`
	DiagnosisCode string      `json:"diagnosis_code"`
	Priority      Priority    `json:"priority"`
	BillingType   BillingType `json:"billing_type"`
}

// normalize applies defaults, trims and de-duplicates test codes, and
// returns the field errors found.
func (in *CreateOrderInput) normalize() map[string]string {
	fields := map[string]string{}
	if in.PatientID == uuid.Nil {
		fields["patient_id"] = "is required"
	}
	if strings.TrimSpace(in.DiagnosisCode) == "" {
		fields["diagnosis_code"] = "is required"
	}
	in.DiagnosisCode = strings.TrimSpace(in.DiagnosisCode)

	switch in.Priority {
	case "":
		in.Priority = PriorityRoutine
	case PriorityRoutine, PrioritySTAT:
	default:
		fields["priority"] = fmt.Sprintf("must be %s or %s", PriorityRoutine, PrioritySTAT)
	}
	switch in.BillingType {
	case "":
		in.BillingType = BillingSelfPay
	case BillingSelfPay, BillingInsurance:
	default:
		fields["billing_type"] = fmt.Sprintf("must be %s or %s", BillingSelfPay, BillingInsurance)
	}

	seen := map[string]bool{}
	codes := make([]string, 0, len(in.TestCodes))
	for _, c := range in.TestCodes {
		c = strings.TrimSpace(c)
		if c == "" {
			fields["test_codes"] = "must not contain blank codes"
			continue
		}
		if !seen[c] {
			seen[c] = true
			codes = append(codes, c)
		}
	}
	in.TestCodes = codes
	if len(codes) == 0 && fields["test_codes"] == "" {
		fields["test_codes"] = "at least one test is required"
	}
	return fields
}

// CreateOrder validates the patient and tests, groups tests into one sample
// per tube type, snapshots catalog data and persists a Pending order.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	p, err := authorize(ctx, CreateOrderRoles)
	if err != nil {
		return nil, err
	}
	if fields := in.normalize(); len(fields) > 0 {
		return nil, validation("invalid order", fields)
	}

	if _, err := s.patients.GetByID(ctx, in.PatientID); err != nil {
		if errors.Is(err, patient.ErrPatientNotFound) {
			return nil, notFound("patient %s not found", in.PatientID)
		}
		return nil, internal("look up patient", err)
	}

	resolved := make([]*catalog.Test, 0, len(in.TestCodes))
	var unknown []string
	for _, code := range in.TestCodes {
		ct, err := s.catalog.GetByCode(ctx, code)
		if errors.Is(err, catalog.ErrTestNotFound) {
			unknown = append(unknown, code)
			continue
		}
		if err != nil {
			return nil, internal("look up catalog test "+code, err)
		}
		resolved = append(resolved, ct)
	}
	if len(unknown) > 0 {
		return nil, validation("unknown test code: "+strings.Join(unknown, ", "),
			map[string]string{"test_codes": "not in catalog: " + strings.Join(unknown, ", ")})
	}

	now := s.now()
	o := &Order{
		ID:            uuid.New(),
		PatientID:     in.PatientID,
		PhysicianID:   in.PhysicianID,
		DiagnosisCode: in.DiagnosisCode,
		BillingType:   in.BillingType,
		Priority:      in.Priority,
		Status:        OrderPending,
		PaymentStatus: PaymentUnpaid,
		Samples:       groupSamples(resolved),
		Payments:      []Payment{},
		Version:       1,
		CreatedBy:     p.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if o.BillingType == BillingInsurance {
		o.PaymentStatus = PaymentWaived
	}

	for attempt := 1; ; attempt++ {
		o.OrderID = newOrderID(now)
		err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
			if err := s.orders.Create(ctx, o); err != nil {
				return err
			}
			return s.audit.Append(ctx, ActionOrderCreate, p.ID, o.Ref(), map[string]interface{}{
				"patient_id": o.PatientID.String(),
				"tests":      in.TestCodes,
				"samples":    len(o.Samples),
				"priority":   string(o.Priority),
			})
		})
		if errors.Is(err, ErrDuplicateOrderID) && attempt < maxOrderIDAttempts {
			continue
		}
		break
	}
	if err != nil {
		return nil, internal("create order", err)
	}
	if s.metrics != nil {
		s.metrics.OrdersCreated.Inc()
	}
	return o, nil
}

// groupSamples creates one sample per distinct tube type, in the order the
// tube types first appear, snapshotting each test.
func groupSamples(tests []*catalog.Test) []Sample {
	var samples []Sample
	byTube := map[string]int{}
	for _, ct := range tests {
		idx, ok := byTube[ct.TubeType]
		if !ok {
			idx = len(samples)
			byTube[ct.TubeType] = idx
			samples = append(samples, Sample{SpecimenType: ct.TubeType, Status: SampleAwaitingCollection})
		}
		samples[idx].Tests = append(samples[idx].Tests, snapshotTest(ct))
	}
	return samples
}

// snapshotTest copies catalog data into the order. The first listed
// reference range is used regardless of patient demographics.
func snapshotTest(ct *catalog.Test) Test {
	return Test{
		Code:           ct.Code,
		Name:           ct.Name,
		Price:          ct.Price,
		ReferenceRange: ParseReferenceRange(ct.FirstRange()),
		Status:         TestPending,
	}
}

// CancelOrder cancels every test of an order none of whose samples has been
// received.
func (s *Service) CancelOrder(ctx context.Context, orderID, reason string) (*Order, error) {
	p, err := authorize(ctx, CancelRoles)
	if err != nil {
		return nil, err
	}
	o, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == OrderCancelled || o.Status == OrderComplete {
		return nil, conflict(fmt.Sprintf("order is already %s", o.Status), nil)
	}
	for _, smp := range o.Samples {
		if smp.AccessionNumber != "" {
			return nil, conflict("order has accessioned samples and can no longer be cancelled", nil)
		}
	}

	for i := range o.Samples {
		for j := range o.Samples[i].Tests {
			o.Samples[i].Tests[j].Status = TestCancelled
		}
	}
	o.Status = OrderCancelled
	o.UpdatedAt = s.now()

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.orders.ReplaceSamples(ctx, o); err != nil {
			return err
		}
		return s.audit.Append(ctx, ActionOrderCancel, p.ID, o.Ref(), map[string]interface{}{"reason": reason})
	})
	if err != nil {
		return nil, s.repoError(err, "cancel order")
	}
	return o, nil
}
