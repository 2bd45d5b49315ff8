package lab

import (
	"context"
	"fmt"
	"strings"
)

type ResultEntry struct {
	TestCode string      `json:"test_code"`
	Value    ResultValue `json:"value"`
	Notes    string      `json:"notes,omitempty"`
}

type VerifyResultsInput struct {
	AccessionNumber string        `json:"accession_number"`
	Results         []ResultEntry `json:"results"`
}

type VerificationResult struct {
	OrderID       string       `json:"order_id"`
	SampleIndex   int          `json:"sample_index"`
	SampleStatus  SampleStatus `json:"sample_status"`
	OrderStatus   OrderStatus  `json:"order_status"`
	VerifiedTests []string     `json:"verified_tests"`
	Sample        Sample       `json:"sample"`
}

func (in *VerifyResultsInput) validate() map[string]string {
	fields := map[string]string{}
	if strings.TrimSpace(in.AccessionNumber) == "" {
		fields["accession_number"] = "is required"
	}
	first := map[string]int{}
	for i, r := range in.Results {
		code := strings.TrimSpace(r.TestCode)
		if code == "" {
			fields[fmt.Sprintf("results[%d].test_code", i)] = "is required"
		} else if j, dup := first[code]; dup {
			fields[fmt.Sprintf("results[%d].test_code", i)] = fmt.Sprintf("duplicate of results[%d]", j)
		} else {
			first[code] = i
		}
		if r.Value.IsZero() {
			fields[fmt.Sprintf("results[%d].value", i)] = "is required"
		}
	}
	return fields
}

// VerifyResults records and verifies a batch of results for one sample.
//
// Entries whose code matches no test on the sample, or a cancelled test,
// are ignored. Every matched test ends up Verified: the delta-check flag
// and the abnormal marker are informational and never hold a result back.
// An empty batch still re-evaluates the status rollups.
func (s *Service) VerifyResults(ctx context.Context, in VerifyResultsInput) (*VerificationResult, error) {
	p, err := authorize(ctx, VerifyRoles)
	if err != nil {
		return nil, err
	}
	if fields := in.validate(); len(fields) > 0 {
		return nil, validation("invalid result batch", fields)
	}

	o, idx, err := s.orders.GetByAccession(ctx, in.AccessionNumber)
	if err != nil {
		e := s.repoError(err, "load sample")
		if KindOf(e) == KindNotFound {
			return nil, notFound("no sample with accession number %s", in.AccessionNumber)
		}
		return nil, e
	}
	if o.Status == OrderCancelled {
		return nil, conflict("order is cancelled", nil)
	}
	smp := &o.Samples[idx]
	if !smp.Status.acceptsResults() {
		return nil, conflict(fmt.Sprintf("sample %s is %s and does not accept results", in.AccessionNumber, smp.Status), nil)
	}

	prev, err := s.orders.FindLatestComplete(ctx, o.PatientID, o.ID)
	if err != nil {
		return nil, internal("load previous results", err)
	}
	baseline := previousValues(prev)

	now := s.now()
	verified := []string{}
	var flagged, abnormal []string
	for _, r := range in.Results {
		t := smp.findTest(strings.TrimSpace(r.TestCode))
		if t == nil || t.Status == TestCancelled {
			continue
		}
		v := coerceResult(r.Value)
		t.Result = &v
		t.Notes = r.Notes
		t.IsAbnormal = false
		if v.Numeric != nil {
			if pv, ok := baseline[t.Code]; ok && DeltaExceeded(pv, *v.Numeric) {
				t.AddFlag(FlagDeltaCheckFailed)
				flagged = append(flagged, t.Code)
			}
			t.IsAbnormal = t.ReferenceRange.Outside(*v.Numeric)
		}
		if t.IsAbnormal {
			abnormal = append(abnormal, t.Code)
		}
		t.Status = TestVerified
		t.VerifiedBy = p.ID
		verifiedAt := now
		t.VerifiedAt = &verifiedAt
		verified = append(verified, t.Code)
	}

	rollupSample(smp)
	rollupOrder(o)
	o.UpdatedAt = now

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.orders.ReplaceSamples(ctx, o); err != nil {
			return err
		}
		return s.audit.Append(ctx, ActionResultVerified, p.ID, o.Ref(), map[string]interface{}{
			"accession_number": smp.AccessionNumber,
			"sample_index":     idx,
			"tests":            verified,
			"delta_flagged":    flagged,
			"abnormal":         abnormal,
		})
	})
	if err != nil {
		return nil, s.repoError(err, "save results")
	}

	if s.metrics != nil {
		s.metrics.ResultsVerified.Add(float64(len(verified)))
		s.metrics.DeltaCheckFlags.Add(float64(len(flagged)))
		s.metrics.AbnormalResults.Add(float64(len(abnormal)))
	}
	return &VerificationResult{
		OrderID:       o.OrderID,
		SampleIndex:   idx,
		SampleStatus:  smp.Status,
		OrderStatus:   o.Status,
		VerifiedTests: verified,
		Sample:        *smp,
	}, nil
}

// previousValues collects numeric verified results of a prior order by test
// code.
func previousValues(prev *Order) map[string]float64 {
	out := map[string]float64{}
	if prev == nil {
		return out
	}
	for _, smp := range prev.Samples {
		for _, t := range smp.Tests {
			if t.Status != TestVerified || t.Result == nil || t.Result.Numeric == nil {
				continue
			}
			if _, seen := out[t.Code]; !seen {
				out[t.Code] = *t.Result.Numeric
			}
		}
	}
	return out
}
