package lab

import (
	"context"
	"fmt"
	"math"
	"strings"
)

type RecordPaymentInput struct {
	Amount float64 `json:"amount"`
	Method string  `json:"method"`
}

type Balance struct {
	OrderID       string        `json:"order_id"`
	TotalCost     float64       `json:"total_cost"`
	TotalPaid     float64       `json:"total_paid"`
	BalanceDue    float64       `json:"balance_due"`
	PaymentStatus PaymentStatus `json:"payment_status"`
}

// RecordPayment appends a payment. The running total may never exceed the
// snapshotted cost of the order's tests.
func (s *Service) RecordPayment(ctx context.Context, orderID string, in RecordPaymentInput) (*Order, error) {
	p, err := authorize(ctx, PaymentRoles)
	if err != nil {
		return nil, err
	}
	fields := map[string]string{}
	if math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) || toCents(in.Amount) <= 0 {
		fields["amount"] = "must be a positive amount"
	}
	in.Method = strings.TrimSpace(in.Method)
	if in.Method == "" {
		fields["method"] = "is required"
	}
	if len(fields) > 0 {
		return nil, validation("invalid payment", fields)
	}

	o, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == OrderCancelled {
		return nil, conflict("order is cancelled", nil)
	}
	if o.PaymentStatus == PaymentWaived {
		return nil, conflict("order is billed to insurance; patient payment is waived", nil)
	}

	amount := toCents(in.Amount)
	cost, paid := o.totalCostCents(), o.totalPaidCents()
	remaining := cost - paid
	if amount > remaining {
		if remaining < 0 {
			remaining = 0
		}
		return nil, validation(
			fmt.Sprintf("payment of %s exceeds the remaining balance by %s; remaining balance is %s",
				formatCents(amount), formatCents(amount-remaining), formatCents(remaining)),
			map[string]string{
				"amount":            formatCents(amount),
				"overage":           formatCents(amount - remaining),
				"remaining_balance": formatCents(remaining),
			})
	}

	now := s.now()
	pay := Payment{Amount: fromCents(amount), Method: in.Method, PaidAt: now, RecordedBy: p.ID}
	o.Payments = append(o.Payments, pay)
	if paid+amount >= cost {
		o.PaymentStatus = PaymentPaid
	} else {
		o.PaymentStatus = PaymentPartiallyPaid
	}
	o.UpdatedAt = now

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.orders.AppendPayment(ctx, o, pay); err != nil {
			return err
		}
		return s.audit.Append(ctx, ActionPaymentRecorded, p.ID, o.Ref(), map[string]interface{}{
			"amount":         pay.Amount,
			"method":         pay.Method,
			"total_paid":     fromCents(paid + amount),
			"payment_status": string(o.PaymentStatus),
		})
	})
	if err != nil {
		return nil, s.repoError(err, "record payment")
	}
	if s.metrics != nil {
		s.metrics.PaymentsRecorded.Inc()
	}
	return o, nil
}

// GetBalance reports cost, payments and the amount still due.
func (s *Service) GetBalance(ctx context.Context, orderID string) (*Balance, error) {
	if _, err := authorize(ctx, PaymentRoles); err != nil {
		return nil, err
	}
	o, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &Balance{
		OrderID:       o.OrderID,
		TotalCost:     o.TotalCost(),
		TotalPaid:     o.TotalPaid(),
		BalanceDue:    o.BalanceDue(),
		PaymentStatus: o.PaymentStatus,
	}, nil
}
