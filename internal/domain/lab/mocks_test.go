package lab

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moazmaksod/LabFlow-sub000/internal/domain/catalog"
	"github.com/moazmaksod/LabFlow-sub000/internal/domain/patient"
	"github.com/moazmaksod/LabFlow-sub000/internal/platform/auth"
	"github.com/moazmaksod/LabFlow-sub000/internal/platform/eligibility"
)

// memRepo mirrors the Postgres repository's conditional-write semantics.
type memRepo struct {
	mu         sync.Mutex
	orders     map[uuid.UUID]*Order
	byOrderID  map[string]uuid.UUID
	accessions map[string]accessionRef
}

type accessionRef struct {
	id    uuid.UUID
	index int
}

func newMemRepo() *memRepo {
	return &memRepo{
		orders:     map[uuid.UUID]*Order{},
		byOrderID:  map[string]uuid.UUID{},
		accessions: map[string]accessionRef{},
	}
}

func clone(o *Order) *Order {
	b, err := json.Marshal(o)
	if err != nil {
		panic(err)
	}
	var out Order
	if err := json.Unmarshal(b, &out); err != nil {
		panic(err)
	}
	return &out
}

func (m *memRepo) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byOrderID[o.OrderID]; ok {
		return fmt.Errorf("order %s: %w", o.OrderID, ErrDuplicateOrderID)
	}
	m.orders[o.ID] = clone(o)
	m.byOrderID[o.OrderID] = o.ID
	return nil
}

func (m *memRepo) GetByOrderID(_ context.Context, orderID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byOrderID[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrOrderNotFound)
	}
	return clone(m.orders[id]), nil
}

func (m *memRepo) GetByAccession(_ context.Context, accession string) (*Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.accessions[accession]
	if !ok {
		return nil, 0, fmt.Errorf("accession %s: %w", accession, ErrOrderNotFound)
	}
	return clone(m.orders[ref.id]), ref.index, nil
}

func (m *memRepo) AccessionSample(_ context.Context, id uuid.UUID, index int, accession string, receivedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accessions[accession]; ok {
		return fmt.Errorf("accession %s: %w", accession, ErrAccessionTaken)
	}
	o := m.orders[id]
	if o == nil || o.Status == OrderCancelled || o.Samples[index].Status != SampleAwaitingCollection {
		return fmt.Errorf("sample %d: %w", index, ErrSampleStateChanged)
	}
	smp := &o.Samples[index]
	smp.Status = SampleInLab
	smp.AccessionNumber = accession
	ts := receivedAt
	smp.ReceivedAt = &ts
	o.Version++
	o.UpdatedAt = receivedAt
	m.accessions[accession] = accessionRef{id: id, index: index}
	return nil
}

func (m *memRepo) ReplaceSamples(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.orders[o.ID]
	if cur == nil || cur.Version != o.Version {
		return fmt.Errorf("order %s: %w", o.OrderID, ErrStaleVersion)
	}
	cur.Samples = clone(o).Samples
	cur.Status = o.Status
	cur.UpdatedAt = o.UpdatedAt
	cur.Version++
	o.Version++
	return nil
}

func (m *memRepo) AppendPayment(_ context.Context, o *Order, p Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.orders[o.ID]
	if cur == nil || cur.Version != o.Version {
		return fmt.Errorf("order %s: %w", o.OrderID, ErrStaleVersion)
	}
	cur.Payments = append(cur.Payments, p)
	cur.PaymentStatus = o.PaymentStatus
	cur.UpdatedAt = o.UpdatedAt
	cur.Version++
	o.Version++
	return nil
}

func (m *memRepo) FindLatestComplete(_ context.Context, patientID, excludeID uuid.UUID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Order
	for _, o := range m.orders {
		if o.PatientID != patientID || o.ID == excludeID || o.Status != OrderComplete {
			continue
		}
		if best == nil || o.UpdatedAt.After(best.UpdatedAt) {
			best = o
		}
	}
	if best == nil {
		return nil, nil
	}
	return clone(best), nil
}

func (m *memRepo) ListBySampleStatus(_ context.Context, statuses []SampleStatus) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[SampleStatus]bool{}
	for _, s := range statuses {
		want[s] = true
	}
	var out []*Order
	for _, o := range m.orders {
		if o.Status == OrderCancelled {
			continue
		}
		for _, smp := range o.Samples {
			if want[smp.Status] {
				out = append(out, clone(o))
				break
			}
		}
	}
	return out, nil
}

// put stores a prebuilt order, indexing any accession numbers it carries.
func (m *memRepo) put(o *Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = clone(o)
	m.byOrderID[o.OrderID] = o.ID
	for i, smp := range o.Samples {
		if smp.AccessionNumber != "" {
			m.accessions[smp.AccessionNumber] = accessionRef{id: o.ID, index: i}
		}
	}
}

type mockCatalog struct {
	mu    sync.Mutex
	tests map[string]*catalog.Test
}

func (m *mockCatalog) GetByCode(_ context.Context, code string) (*catalog.Test, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tests[code]
	if !ok {
		return nil, fmt.Errorf("test %s: %w", code, catalog.ErrTestNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *mockCatalog) set(t *catalog.Test) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tests[t.Code] = t
}

func (m *mockCatalog) remove(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tests, code)
}

type mockPatients struct {
	patients map[uuid.UUID]*patient.Patient
	err      error
}

func (m *mockPatients) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.patients[id]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", id, patient.ErrPatientNotFound)
	}
	return p, nil
}

type auditCall struct {
	Action    string
	Actor     string
	EntityRef string
	Details   map[string]interface{}
}

type recordingAudit struct {
	mu    sync.Mutex
	calls []auditCall
	err   error
}

func (r *recordingAudit) Append(_ context.Context, action, actor, entityRef string, details map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, auditCall{action, actor, entityRef, details})
	return nil
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Action
	}
	return out
}

type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockQueue struct {
	requests []*eligibility.Request
	err      error
}

func (q *mockQueue) Enqueue(_ context.Context, orderID, patientID, requestedBy string) (*eligibility.Request, error) {
	if q.err != nil {
		return nil, q.err
	}
	r := &eligibility.Request{ID: "req-1", OrderID: orderID, PatientID: patientID, RequestedBy: requestedBy, Status: eligibility.StatusAccepted}
	q.requests = append(q.requests, r)
	return r, nil
}

var (
	testPatientID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	testNow       = time.Date(2026, 3, 14, 8, 30, 0, 0, time.UTC)
)

type fixture struct {
	svc      *Service
	repo     *memRepo
	catalog  *mockCatalog
	patients *mockPatients
	audit    *recordingAudit
}

func newFixture() *fixture {
	f := &fixture{
		repo: newMemRepo(),
		catalog: &mockCatalog{tests: map[string]*catalog.Test{
			"GLU":   {Code: "GLU", Name: "Glucose", Price: 15, TubeType: "Grey", ReferenceRanges: []catalog.ReferenceRange{{Range: "70 - 99 mg/dL"}}, Active: true},
			"HBA1C": {Code: "HBA1C", Name: "Hemoglobin A1c", Price: 35, TubeType: "Lavender", ReferenceRanges: []catalog.ReferenceRange{{Range: "4 - 5.6 %"}}, Active: true},
			"CBC":   {Code: "CBC", Name: "Complete Blood Count", Price: 25, TubeType: "Lavender", ReferenceRanges: []catalog.ReferenceRange{{Range: "4.5 - 11 x10^9/L"}}, Active: true},
			"UA":    {Code: "UA", Name: "Urinalysis", Price: 10, TubeType: "Urine Cup", ReferenceRanges: []catalog.ReferenceRange{{Range: "negative"}}, Active: true},
		}},
		patients: &mockPatients{patients: map[uuid.UUID]*patient.Patient{
			testPatientID: {ID: testPatientID, MRN: "MRN-0042", FullName: "Dana Reyes"},
		}},
		audit: &recordingAudit{},
	}
	f.svc = NewService(f.repo, f.catalog, f.patients, f.audit, passthroughTx{}, "ACC")
	f.svc.now = func() time.Time { return testNow }
	return f
}

func as(role auth.Role) context.Context {
	return auth.WithPrincipal(context.Background(), auth.Principal{ID: string(role) + "-1", Role: role})
}

// mustCreate places an order as a receptionist or fails the test.
func (f *fixture) mustCreate(t interface {
	Helper()
	Fatalf(string, ...interface{})
}, in CreateOrderInput) *Order {
	t.Helper()
	o, err := f.svc.CreateOrder(as(auth.RoleReceptionist), in)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return o
}

func (f *fixture) mustAccession(t interface {
	Helper()
	Fatalf(string, ...interface{})
}, orderID string, index int) string {
	t.Helper()
	res, err := f.svc.AccessionSample(as(auth.RoleTechnician), orderID, index)
	if err != nil {
		t.Fatalf("AccessionSample(%s, %d): %v", orderID, index, err)
	}
	return res.Sample.AccessionNumber
}
