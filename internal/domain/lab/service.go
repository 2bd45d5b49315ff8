package lab

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/moazmaksod/LabFlow-sub000/internal/domain/catalog"
	"github.com/moazmaksod/LabFlow-sub000/internal/domain/patient"
	"github.com/moazmaksod/LabFlow-sub000/internal/platform/eligibility"
	"github.com/moazmaksod/LabFlow-sub000/internal/platform/metrics"
)

// Audit actions.
const (
	ActionOrderCreate       = "ORDER_CREATE"
	ActionOrderCancel       = "ORDER_CANCEL"
	ActionSampleAccessioned = "SAMPLE_ACCESSIONED"
	ActionSampleRejected    = "SAMPLE_REJECTED"
	ActionResultVerified    = "RESULT_VERIFIED"
	ActionPaymentRecorded   = "PAYMENT_RECORDED"
)

const (
	maxOrderIDAttempts   = 3
	maxAccessionAttempts = 5
)

type CatalogLookup interface {
	GetByCode(ctx context.Context, code string) (*catalog.Test, error)
}

type PatientLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// AuditSink appends one event per successful mutation.
type AuditSink interface {
	Append(ctx context.Context, action, actor, entityRef string, details map[string]interface{}) error
}

// Transactor runs fn in a unit of work that commits only when fn succeeds.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type EligibilityQueue interface {
	Enqueue(ctx context.Context, orderID, patientID, requestedBy string) (*eligibility.Request, error)
}

type Service struct {
	orders   Repository
	catalog  CatalogLookup
	patients PatientLookup
	audit    AuditSink
	tx       Transactor

	accessionPrefix string
	now             func() time.Time

	metrics     *metrics.Registry
	eligibility EligibilityQueue
}

func NewService(orders Repository, cat CatalogLookup, patients PatientLookup, audit AuditSink, tx Transactor, accessionPrefix string) *Service {
	return &Service{
		orders:          orders,
		catalog:         cat,
		patients:        patients,
		audit:           audit,
		tx:              tx,
		accessionPrefix: accessionPrefix,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// SetMetrics attaches an optional metrics registry.
func (s *Service) SetMetrics(m *metrics.Registry) {
	s.metrics = m
}

// SetEligibilityQueue attaches the eligibility check collaborator.
func (s *Service) SetEligibilityQueue(q EligibilityQueue) {
	s.eligibility = q
}

// GetOrder returns the order aggregate by its human-readable id.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	if _, err := authorize(ctx, ReadOrderRoles); err != nil {
		return nil, err
	}
	return s.loadOrder(ctx, orderID)
}

func (s *Service) loadOrder(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, s.repoError(err, "load order")
	}
	return o, nil
}

// repoError translates repository sentinels into the error taxonomy.
func (s *Service) repoError(err error, op string) error {
	var typed *Error
	switch {
	case errors.As(err, &typed):
		return typed
	case errors.Is(err, ErrOrderNotFound):
		return &Error{Kind: KindNotFound, Message: "order not found", Err: err}
	case errors.Is(err, ErrStaleVersion):
		if s.metrics != nil {
			s.metrics.WriteConflicts.Inc()
		}
		return conflict("order was modified by another request; reload and retry", err)
	}
	return internal(op, err)
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func randomCode(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b)
}

// newOrderID returns ORD-YYYYMMDD-XXXXXX.
func newOrderID(now time.Time) string {
	return "ORD-" + now.Format("20060102") + "-" + randomCode(6)
}

// newAccession returns <prefix><year>-XXXXXXXX.
func (s *Service) newAccession(now time.Time) string {
	return fmt.Sprintf("%s%d-%s", s.accessionPrefix, now.Year(), randomCode(8))
}
