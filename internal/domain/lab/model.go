package lab

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "Pending"
	OrderInProgress OrderStatus = "In-Progress"
	OrderComplete   OrderStatus = "Complete"
	OrderCancelled  OrderStatus = "Cancelled"
)

type Priority string

const (
	PriorityRoutine Priority = "Routine"
	PrioritySTAT    Priority = "STAT"
)

type PaymentStatus string

const (
	PaymentUnpaid        PaymentStatus = "Unpaid"
	PaymentPartiallyPaid PaymentStatus = "PartiallyPaid"
	PaymentPaid          PaymentStatus = "Paid"
	PaymentWaived        PaymentStatus = "Waived"
)

type BillingType string

const (
	BillingSelfPay   BillingType = "self-pay"
	BillingInsurance BillingType = "insurance"
)

type SampleStatus string

const (
	SampleAwaitingCollection   SampleStatus = "AwaitingCollection"
	SampleInLab                SampleStatus = "InLab"
	SampleTesting              SampleStatus = "Testing"
	SampleAwaitingVerification SampleStatus = "AwaitingVerification"
	SampleVerified             SampleStatus = "Verified"
	SampleRejected             SampleStatus = "Rejected"
	SampleArchived             SampleStatus = "Archived"
	SampleDisposed             SampleStatus = "Disposed"
)

type TestStatus string

const (
	TestPending              TestStatus = "Pending"
	TestInProgress           TestStatus = "InProgress"
	TestAwaitingVerification TestStatus = "AwaitingVerification"
	TestVerified             TestStatus = "Verified"
	TestCancelled            TestStatus = "Cancelled"
)

// FlagDeltaCheckFailed marks a result that moved more than the delta limit
// from the patient's previous result for the same test.
const FlagDeltaCheckFailed = "DELTA_CHECK_FAILED"

// ResultValue holds either a numeric or a free-text result. On the wire it
// is a JSON number or string.
type ResultValue struct {
	Numeric *float64
	Text    string
}

func NumericResult(v float64) ResultValue { return ResultValue{Numeric: &v} }
func TextResult(s string) ResultValue     { return ResultValue{Text: s} }

func (v ResultValue) IsZero() bool { return v.Numeric == nil && v.Text == "" }

func (v ResultValue) String() string {
	if v.Numeric != nil {
		return fmt.Sprintf("%g", *v.Numeric)
	}
	return v.Text
}

func (v ResultValue) MarshalJSON() ([]byte, error) {
	switch {
	case v.Numeric != nil:
		return json.Marshal(*v.Numeric)
	case v.Text != "":
		return json.Marshal(v.Text)
	default:
		return []byte("null"), nil
	}
}

func (v *ResultValue) UnmarshalJSON(b []byte) error {
	*v = ResultValue{}
	if string(b) == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		v.Numeric = &f
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("result value must be a number or a string")
	}
	v.Text = s
	return nil
}

type Test struct {
	Code           string         `json:"test_code"`
	Name           string         `json:"name"`
	Price          float64        `json:"price"`
	ReferenceRange ReferenceRange `json:"reference_range"`
	Status         TestStatus     `json:"status"`
	Result         *ResultValue   `json:"result,omitempty"`
	Notes          string         `json:"notes,omitempty"`
	IsAbnormal     bool           `json:"is_abnormal"`
	Flags          []string       `json:"flags,omitempty"`
	VerifiedBy     string         `json:"verified_by,omitempty"`
	VerifiedAt     *time.Time     `json:"verified_at,omitempty"`
}

// AddFlag records flag once. Flags are never removed.
func (t *Test) AddFlag(flag string) bool {
	for _, f := range t.Flags {
		if f == flag {
			return false
		}
	}
	t.Flags = append(t.Flags, flag)
	return true
}

func (t *Test) HasFlag(flag string) bool {
	for _, f := range t.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Sample is one physical specimen. It is identified by its position in the
// order and, once received, by its accession number.
type Sample struct {
	SpecimenType    string       `json:"specimen_type"`
	Status          SampleStatus `json:"status"`
	AccessionNumber string       `json:"accession_number,omitempty"`
	ReceivedAt      *time.Time   `json:"received_at,omitempty"`
	RejectionReason string       `json:"rejection_reason,omitempty"`
	Tests           []Test       `json:"tests"`
}

func (s *Sample) findTest(code string) *Test {
	for i := range s.Tests {
		if s.Tests[i].Code == code {
			return &s.Tests[i]
		}
	}
	return nil
}

func (s *Sample) TestCodes() []string {
	codes := make([]string, len(s.Tests))
	for i, t := range s.Tests {
		codes[i] = t.Code
	}
	return codes
}

type Payment struct {
	Amount     float64   `json:"amount"`
	Method     string    `json:"method"`
	PaidAt     time.Time `json:"paid_at"`
	RecordedBy string    `json:"recorded_by"`
}

type Order struct {
	ID            uuid.UUID     `db:"id" json:"id"`
	OrderID       string        `db:"order_id" json:"order_id"`
	PatientID     uuid.UUID     `db:"patient_id" json:"patient_id"`
	PhysicianID   *uuid.UUID    `db:"physician_id" json:"physician_id,omitempty"`
	DiagnosisCode string        `db:"diagnosis_code" json:"diagnosis_code"`
	BillingType   BillingType   `db:"billing_type" json:"billing_type"`
	Priority      Priority      `db:"priority" json:"priority"`
	Status        OrderStatus   `db:"order_status" json:"order_status"`
	PaymentStatus PaymentStatus `db:"payment_status" json:"payment_status"`
	Samples       []Sample      `db:"samples" json:"samples"`
	Payments      []Payment     `db:"payments" json:"payments"`
	Version       int           `db:"version" json:"version"`
	CreatedBy     string        `db:"created_by" json:"created_by"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// Ref is the audit entity reference for the order.
func (o *Order) Ref() string { return "order/" + o.OrderID }

func (o *Order) totalCostCents() int64 {
	var c int64
	for _, s := range o.Samples {
		for _, t := range s.Tests {
			c += toCents(t.Price)
		}
	}
	return c
}

func (o *Order) totalPaidCents() int64 {
	var c int64
	for _, p := range o.Payments {
		c += toCents(p.Amount)
	}
	return c
}

func (o *Order) TotalCost() float64 { return fromCents(o.totalCostCents()) }
func (o *Order) TotalPaid() float64 { return fromCents(o.totalPaidCents()) }

// BalanceDue is never negative.
func (o *Order) BalanceDue() float64 {
	due := o.totalCostCents() - o.totalPaidCents()
	if due < 0 {
		due = 0
	}
	return fromCents(due)
}

func toCents(amount float64) int64 { return int64(math.Round(amount * 100)) }
func fromCents(c int64) float64    { return float64(c) / 100 }
func formatCents(c int64) string   { return fmt.Sprintf("%.2f", fromCents(c)) }
