//go:build integration

package integration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/moazmaksod/LabFlow-sub000/internal/domain/lab"
	"github.com/moazmaksod/LabFlow-sub000/internal/platform/auth"
)

const (
	glucoseRanges = `[{"range": "70 - 99 mg/dL"}]`
	cbcRanges     = `[{"range": "4.5 - 11.0 x10^9/L"}]`
)

func sampleIndex(t *testing.T, o *lab.Order, tube string) int {
	t.Helper()
	for i, s := range o.Samples {
		if s.SpecimenType == tube {
			return i
		}
	}
	t.Fatalf("order %s has no %s sample", o.OrderID, tube)
	return -1
}

func TestOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, ctx)
	patientID := e.createPatient(t, ctx, "MRN-LIFE-001", "female")
	e.createTest(t, ctx, "GLU", "Grey", 15, glucoseRanges)
	e.createTest(t, ctx, "CBC", "Lavender", 25, cbcRanges)

	o, err := e.Service.CreateOrder(as(auth.RoleReceptionist), lab.CreateOrderInput{
		PatientID:     patientID,
		TestCodes:     []string{"GLU", "CBC"},
		DiagnosisCode: "E11.9",
		BillingType:   lab.BillingSelfPay,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if len(o.Samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(o.Samples))
	}

	t.Run("GetOrder round trips samples", func(t *testing.T) {
		got, err := e.Service.GetOrder(as(auth.RoleManager), o.OrderID)
		if err != nil {
			t.Fatalf("GetOrder: %v", err)
		}
		if got.Samples[0].Status != lab.SampleAwaitingCollection {
			t.Errorf("expected AwaitingCollection, got %s", got.Samples[0].Status)
		}
		if got.Samples[0].Tests[0].ReferenceRange.Text == "" {
			t.Error("expected reference range snapshot to persist")
		}
	})

	grey := sampleIndex(t, o, "Grey")
	lav := sampleIndex(t, o, "Lavender")

	accGrey, err := e.Service.AccessionSample(as(auth.RoleTechnician), o.OrderID, grey)
	if err != nil {
		t.Fatalf("AccessionSample grey: %v", err)
	}
	accLav, err := e.Service.AccessionSample(as(auth.RoleTechnician), o.OrderID, lav)
	if err != nil {
		t.Fatalf("AccessionSample lavender: %v", err)
	}

	t.Run("second accession conflicts", func(t *testing.T) {
		_, err := e.Service.AccessionSample(as(auth.RoleTechnician), o.OrderID, grey)
		if !errors.Is(err, lab.ErrConflict) {
			t.Errorf("expected conflict on second accession, got %v", err)
		}
	})

	res, err := e.Service.VerifyResults(as(auth.RoleTechnician), lab.VerifyResultsInput{
		AccessionNumber: accGrey.Sample.AccessionNumber,
		Results:         []lab.ResultEntry{{TestCode: "GLU", Value: lab.NumericResult(150)}},
	})
	if err != nil {
		t.Fatalf("VerifyResults grey: %v", err)
	}
	if !res.Sample.Tests[0].IsAbnormal {
		t.Error("expected glucose 150 to be abnormal")
	}
	if res.OrderStatus == lab.OrderComplete {
		t.Error("order should not be complete with lavender pending")
	}

	res, err = e.Service.VerifyResults(as(auth.RoleTechnician), lab.VerifyResultsInput{
		AccessionNumber: accLav.Sample.AccessionNumber,
		Results:         []lab.ResultEntry{{TestCode: "CBC", Value: lab.NumericResult(7.2)}},
	})
	if err != nil {
		t.Fatalf("VerifyResults lavender: %v", err)
	}
	if res.OrderStatus != lab.OrderComplete {
		t.Errorf("expected Complete, got %s", res.OrderStatus)
	}

	paid, err := e.Service.RecordPayment(as(auth.RoleReceptionist), o.OrderID, lab.RecordPaymentInput{Amount: 40, Method: "cash"})
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if paid.PaymentStatus != lab.PaymentPaid {
		t.Errorf("expected Paid, got %s", paid.PaymentStatus)
	}

	t.Run("audit trail", func(t *testing.T) {
		events, total, err := e.Audit.ListByEntity(ctx, o.Ref(), 50, 0)
		if err != nil {
			t.Fatalf("ListByEntity: %v", err)
		}
		// create, 2 accessions, 2 verifications, 1 payment
		if total != 6 || len(events) != 6 {
			t.Fatalf("expected 6 audit events, got %d", total)
		}
		if events[0].Action != lab.ActionOrderCreate {
			t.Errorf("expected first event %s, got %s", lab.ActionOrderCreate, events[0].Action)
		}
	})
}

func TestDeltaCheckAgainstPreviousOrder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, ctx)
	patientID := e.createPatient(t, ctx, "MRN-DELTA-001", "male")
	e.createTest(t, ctx, "GLU", "Grey", 15, glucoseRanges)

	run := func(value float64) *lab.VerificationResult {
		o, err := e.Service.CreateOrder(as(auth.RoleReceptionist), lab.CreateOrderInput{
			PatientID: patientID, TestCodes: []string{"GLU"}, DiagnosisCode: "E11.9", BillingType: lab.BillingInsurance,
		})
		if err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}
		acc, err := e.Service.AccessionSample(as(auth.RoleTechnician), o.OrderID, 0)
		if err != nil {
			t.Fatalf("AccessionSample: %v", err)
		}
		res, err := e.Service.VerifyResults(as(auth.RoleTechnician), lab.VerifyResultsInput{
			AccessionNumber: acc.Sample.AccessionNumber,
			Results:         []lab.ResultEntry{{TestCode: "GLU", Value: lab.NumericResult(value)}},
		})
		if err != nil {
			t.Fatalf("VerifyResults: %v", err)
		}
		return res
	}

	first := run(90)
	if first.Sample.Tests[0].HasFlag(lab.FlagDeltaCheckFailed) {
		t.Error("first result has nothing to compare against")
	}
	second := run(200)
	if !second.Sample.Tests[0].HasFlag(lab.FlagDeltaCheckFailed) {
		t.Error("expected delta flag for 90 -> 200")
	}
}

func TestConcurrentAccessionSingleWinner(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, ctx)
	patientID := e.createPatient(t, ctx, "MRN-RACE-001", "female")
	e.createTest(t, ctx, "GLU", "Grey", 15, glucoseRanges)

	o, err := e.Service.CreateOrder(as(auth.RoleReceptionist), lab.CreateOrderInput{
		PatientID: patientID, TestCodes: []string{"GLU"}, DiagnosisCode: "E11.9", BillingType: lab.BillingSelfPay,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins, conflicts int
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Service.AccessionSample(as(auth.RoleTechnician), o.OrderID, 0)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, lab.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || conflicts != workers-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d and %d", workers-1, wins, conflicts)
	}

	var n int
	if err := e.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM accession_numbers WHERE order_id = $1`, o.ID).Scan(&n); err != nil {
		t.Fatalf("count accession rows: %v", err)
	}
	if n != 1 {
		t.Errorf("expected exactly one accession row, got %d", n)
	}
}

func TestCatalogRepoPG(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, ctx)
	e.createTest(t, ctx, "GLU", "Grey", 15, glucoseRanges)
	e.createTest(t, ctx, "CBC", "Lavender", 25, cbcRanges)
	e.exec(t, ctx, `UPDATE catalog_tests SET active = FALSE WHERE code = 'CBC'`)

	got, err := e.Catalog.GetByCode(ctx, "GLU")
	if err != nil {
		t.Fatalf("GetByCode: %v", err)
	}
	if got.Price != 15 || len(got.ReferenceRanges) != 1 {
		t.Errorf("unexpected test %+v", got)
	}

	tests, total, err := e.Catalog.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || len(tests) != 1 {
		t.Errorf("expected only active tests, got %d", total)
	}
}
