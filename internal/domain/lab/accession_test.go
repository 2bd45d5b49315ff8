package lab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/moazmaksod/LabFlow-sub000/internal/platform/auth"
	"github.com/moazmaksod/LabFlow-sub000/internal/platform/metrics"
)

func TestAccessionSample(t *testing.T) {
	f := newFixture()
	o := f.mustCreate(t, CreateOrderInput{PatientID: testPatientID, TestCodes: []string{"GLU"}, DiagnosisCode: "Z00.0"})

	res, err := f.svc.AccessionSample(as(auth.RoleTechnician), o.OrderID, 0)
	if err != nil {
		t.Fatalf("AccessionSample: %v", err)
	}
	if res.Sample.Status != SampleInLab {
		t.Errorf("expected InLab, got %s", res.Sample.Status)
	}
	if !strings.HasPrefix(res.Sample.AccessionNumber, "ACC2026-") || len(res.Sample.AccessionNumber) != len("ACC2026-")+8 {
		t.Errorf("unexpected accession number %q", res.Sample.AccessionNumber)
	}
	if res.Sample.ReceivedAt == nil || !res.Sample.ReceivedAt.Equal(testNow) {
		t.Errorf("expected received timestamp, got %v", res.Sample.ReceivedAt)
	}

	stored, _ := f.svc.GetOrder(as(auth.RoleTechnician), o.OrderID)
	if stored.Samples[0].AccessionNumber != res.Sample.AccessionNumber {
		t.Error("accession number not persisted")
	}
	if stored.Status != OrderPending {
		t.Errorf("accessioning must not change order status, got %s", stored.Status)
	}
	if a := f.audit.actions(); a[len(a)-1] != ActionSampleAccessioned {
		t.Errorf("expected SAMPLE_ACCESSIONED audit, got %v", a)
	}
}

func TestAccessionSample_Twice(t *testing.T) {
	f := newFixture()
	m := metrics.NewRegistry()
	f.svc.SetMetrics(m)
	o := f.mustCreate(t, CreateOrderInput{PatientID: testPatientID, TestCodes: []string{"GLU"}, DiagnosisCode: "Z00.0"})
	first := f.mustAccession(t, o.OrderID, 0)

	_, err := f.svc.AccessionSample(as(auth.RoleTechnician), o.OrderID, 0)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	stored, _ := f.svc.GetOrder(as(auth.RoleManager), o.OrderID)
	if stored.Samples[0].AccessionNumber != first {
		t.Error("accession number must never be reassigned")
	}
	if testutil.ToFloat64(m.AccessionConflicts) != 1 || testutil.ToFloat64(m.SamplesAccessioned) != 1 {
		t.Errorf("unexpected counters: conflicts=%v accessioned=%v",
			testutil.ToFloat64(m.AccessionConflicts), testutil.ToFloat64(m.SamplesAccessioned))
	}
}

func TestAccessionSample_ConcurrentAttempts(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture()
		o := f.mustCreate(t, CreateOrderInput{PatientID: testPatientID, TestCodes: []string{"GLU"}, DiagnosisCode: "Z00.0"})

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.svc.AccessionSample(as(auth.RoleTechnician), o.OrderID, 0)
			}(i)
		}
		wg.Wait()

		ok, conflicts := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if ok != 1 || conflicts != 1 {
			t.Fatalf("round %d: expected one success and one conflict, got %d/%d", round, ok, conflicts)
		}
		if n := len(f.repo.accessions); n != 1 {
			t.Fatalf("round %d: expected one accession number recorded, got %d", round, n)
		}
		if got := f.audit.actions(); len(got) != 2 {
			t.Fatalf("round %d: expected create + one accession audit, got %v", round, got)
		}
	}
}

func TestAccessionSample_RegeneratesTakenNumber(t *testing.T) {
	f := newFixture()
	o := f.mustCreate(t, CreateOrderInput{PatientID: testPatientID, TestCodes: []string{"GLU"}, DiagnosisCode: "Z00.0"})
	f.svc.orders = &takenOnceRepo{memRepo: f.repo}

	acc := f.mustAccession(t, o.OrderID, 0)
	if acc == "" {
		t.Fatal("expected accession number after regeneration")
	}
}

func TestAccessionSample_NotFound(t *testing.T) {
	f := newFixture()
	o := f.mustCreate(t, CreateOrderInput{PatientID: testPatientID, TestCodes: []string{"GLU"}, DiagnosisCode: "Z00.0"})

	if _, err := f.svc.AccessionSample(as(auth.RoleTechnician), "ORD-NOPE", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found for order, got %v", err)
	}
	if _, err := f.svc.AccessionSample(as(auth.RoleTechnician), o.OrderID, 5); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found for sample, got %v", err)
	}
}

func TestAccessionSample_Forbidden(t *testing.T) {
	f := newFixture()
	o := f.mustCreate(t, CreateOrderInput{PatientID: testPatientID, TestCodes: []string{"GLU"}, DiagnosisCode: "Z00.0"})
	for _, role := range []auth.Role{auth.RoleReceptionist, auth.RolePhysician, auth.RolePatient} {
		if _, err := f.svc.AccessionSample(as(role), o.OrderID, 0); !errors.Is(err, ErrForbidden) {
			t.Errorf("role %s: expected forbidden, got %v", role, err)
		}
	}
}

func TestRejectSample(t *testing.T) {
	f := newFixture()
	o := f.mustCreate(t, CreateOrderInput{PatientID: testPatientID, TestCodes: []string{"GLU", "CBC"}, DiagnosisCode: "Z00.0"})
	f.mustAccession(t, o.OrderID, 0)

	got, err := f.svc.RejectSample(as(auth.RoleTechnician), o.OrderID, 0, "hemolyzed")
	if err != nil {
		t.Fatalf("RejectSample: %v", err)
	}
	smp := got.Samples[0]
	if smp.Status != SampleRejected || smp.RejectionReason != "hemolyzed" {
		t.Errorf("unexpected sample: %+v", smp)
	}
	if smp.Tests[0].Status != TestCancelled {
		t.Errorf("expected pending test cancelled, got %s", smp.Tests[0].Status)
	}
	if got.Status != OrderPending {
		t.Errorf("expected order still Pending, got %s", got.Status)
	}
	if _, err := f.svc.RejectSample(as(auth.RoleTechnician), o.OrderID, 0, "again"); !errors.Is(err, ErrConflict) {
		t.Errorf("expected conflict rejecting twice, got %v", err)
	}
	if _, err := f.svc.RejectSample(as(auth.RoleTechnician), o.OrderID, 1, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation for missing reason, got %v", err)
	}
	if a := f.audit.actions(); a[len(a)-1] != ActionSampleRejected {
		t.Errorf("expected SAMPLE_REJECTED audit, got %v", a)
	}
}

type takenOnceRepo struct {
	*memRepo
	tripped bool
}

func (r *takenOnceRepo) AccessionSample(ctx context.Context, id uuid.UUID, index int, accession string, receivedAt time.Time) error {
	if !r.tripped {
		r.tripped = true
		return fmt.Errorf("accession %s: %w", accession, ErrAccessionTaken)
	}
	return r.memRepo.AccessionSample(ctx, id, index, accession, receivedAt)
}
