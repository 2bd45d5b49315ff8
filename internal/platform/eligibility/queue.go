package eligibility

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	StatusAccepted   = "accepted"
	StatusDispatched = "dispatched"
)

var ErrQueueFull = errors.New("eligibility queue full")

// Request asks an external payer whether an order's patient is covered.
type Request struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	PatientID   string    `json:"patient_id"`
	RequestedBy string    `json:"requested_by"`
	Status      string    `json:"status"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Queue accepts eligibility requests without waiting for any outcome. A
// single worker drains it and hands requests to the dispatch function.
type Queue struct {
	ch       chan Request
	dispatch func(ctx context.Context, r *Request) error
	log      zerolog.Logger

	mu      sync.Mutex
	pending int
}

// NewQueue builds a queue with the given buffer size. A nil dispatch only
// logs the request, which is all this deployment does.
func NewQueue(size int, dispatch func(ctx context.Context, r *Request) error, log zerolog.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	q := &Queue{
		ch:       make(chan Request, size),
		dispatch: dispatch,
		log:      log.With().Str("component", "eligibility").Logger(),
	}
	if q.dispatch == nil {
		q.dispatch = q.logOnly
	}
	return q
}

// Enqueue never blocks. It returns the accepted request or ErrQueueFull.
// The worker gets its own copy, so the returned request is never written
// after Enqueue returns.
func (q *Queue) Enqueue(_ context.Context, orderID, patientID, requestedBy string) (*Request, error) {
	r := Request{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		PatientID:   patientID,
		RequestedBy: requestedBy,
		Status:      StatusAccepted,
		EnqueuedAt:  time.Now().UTC(),
	}
	q.mu.Lock()
	q.pending++
	q.mu.Unlock()
	select {
	case q.ch <- r:
		return &r, nil
	default:
		q.mu.Lock()
		q.pending--
		q.mu.Unlock()
		q.log.Warn().Str("order_id", orderID).Msg("eligibility queue full, request dropped")
		return nil, ErrQueueFull
	}
}

// Pending reports requests accepted but not yet dispatched.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Run drains the queue until ctx is cancelled. Dispatch errors are logged.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-q.ch:
			q.mu.Lock()
			q.pending--
			q.mu.Unlock()
			if err := q.dispatch(ctx, &r); err != nil {
				q.log.Error().Err(err).Str("request_id", r.ID).Str("order_id", r.OrderID).Msg("eligibility dispatch failed")
				continue
			}
			q.log.Debug().Str("request_id", r.ID).Str("status", StatusDispatched).Msg("eligibility request handed off")
		}
	}
}

func (q *Queue) logOnly(_ context.Context, r *Request) error {
	q.log.Info().
		Str("request_id", r.ID).
		Str("order_id", r.OrderID).
		Str("patient_id", r.PatientID).
		Str("requested_by", r.RequestedBy).
		Msg("eligibility check dispatched")
	return nil
}
