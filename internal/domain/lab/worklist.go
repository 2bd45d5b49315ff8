package lab

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/moazmaksod/LabFlow-sub000/internal/domain/patient"
	"github.com/moazmaksod/LabFlow-sub000/pkg/pagination"
)

// DefaultWorklistStatuses are the sample statuses shown when the caller
// names none.
var DefaultWorklistStatuses = []SampleStatus{SampleInLab, SampleTesting}

const patientLookupConcurrency = 8

type WorklistQuery struct {
	Statuses []SampleStatus
	Limit    int
	Offset   int
}

type PatientSummary struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name,omitempty"`
	MRN      string    `json:"mrn,omitempty"`
}

type WorklistRow struct {
	OrderID         string         `json:"order_id"`
	Priority        Priority       `json:"priority"`
	SampleIndex     int            `json:"sample_index"`
	AccessionNumber string         `json:"accession_number,omitempty"`
	SpecimenType    string         `json:"specimen_type"`
	Status          SampleStatus   `json:"status"`
	ReceivedAt      *time.Time     `json:"received_at,omitempty"`
	Tests           []string       `json:"tests"`
	Patient         PatientSummary `json:"patient"`
}

type WorklistPage struct {
	Rows   []WorklistRow `json:"rows"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// Worklist flattens matching samples across orders, sorts them by priority
// then receipt time, and returns one page.
func (s *Service) Worklist(ctx context.Context, q WorklistQuery) (*WorklistPage, error) {
	if _, err := authorize(ctx, WorklistRoles); err != nil {
		return nil, err
	}
	statuses := q.Statuses
	if len(statuses) == 0 {
		statuses = DefaultWorklistStatuses
	}
	want := map[SampleStatus]bool{}
	for _, st := range statuses {
		if !st.Valid() {
			return nil, validation("invalid worklist filter", map[string]string{"status": fmt.Sprintf("unknown sample status %q", st)})
		}
		want[st] = true
	}

	orders, err := s.orders.ListBySampleStatus(ctx, statuses)
	if err != nil {
		return nil, internal("list worklist", err)
	}

	var rows []WorklistRow
	for _, o := range orders {
		for i, smp := range o.Samples {
			if !want[smp.Status] {
				continue
			}
			rows = append(rows, WorklistRow{
				OrderID:         o.OrderID,
				Priority:        o.Priority,
				SampleIndex:     i,
				AccessionNumber: smp.AccessionNumber,
				SpecimenType:    smp.SpecimenType,
				Status:          smp.Status,
				ReceivedAt:      smp.ReceivedAt,
				Tests:           smp.TestCodes(),
				Patient:         PatientSummary{ID: o.PatientID},
			})
		}
	}
	SortWorklist(rows)

	page := pagination.Params{Limit: q.Limit, Offset: q.Offset}.Normalize()
	start, end := page.Window(len(rows))
	out := rows[start:end]
	if err := s.fillPatients(ctx, out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []WorklistRow{}
	}
	return &WorklistPage{Rows: out, Total: len(rows), Limit: page.Limit, Offset: page.Offset}, nil
}

// SortWorklist orders STAT before Routine, then by ascending receipt time.
// A missing receipt time sorts first. Ties keep their input order.
func SortWorklist(rows []WorklistRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if ra, rb := priorityRank(a.Priority), priorityRank(b.Priority); ra != rb {
			return ra < rb
		}
		switch {
		case a.ReceivedAt == nil:
			return b.ReceivedAt != nil
		case b.ReceivedAt == nil:
			return false
		}
		return a.ReceivedAt.Before(*b.ReceivedAt)
	})
}

func priorityRank(p Priority) int {
	if p == PrioritySTAT {
		return 0
	}
	return 1
}

// fillPatients looks up each distinct patient on the page concurrently. A
// patient missing from the registry leaves the summary with its id only.
func (s *Service) fillPatients(ctx context.Context, rows []WorklistRow) error {
	ids := map[uuid.UUID]bool{}
	for _, r := range rows {
		ids[r.Patient.ID] = true
	}

	var mu sync.Mutex
	found := make(map[uuid.UUID]*patient.Patient, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(patientLookupConcurrency)
	for id := range ids {
		id := id
		g.Go(func() error {
			pt, err := s.patients.GetByID(gctx, id)
			if errors.Is(err, patient.ErrPatientNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			found[id] = pt
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return internal("look up worklist patients", err)
	}

	for i := range rows {
		if pt, ok := found[rows[i].Patient.ID]; ok {
			rows[i].Patient.FullName = pt.FullName
			rows[i].Patient.MRN = pt.MRN
		}
	}
	return nil
}
