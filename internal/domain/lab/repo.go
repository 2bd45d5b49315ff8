package lab

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists Order aggregates. Writes that replace embedded
// collections are guarded by Order.Version and fail with ErrStaleVersion
// when another writer got there first; on success they bump o.Version.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByOrderID(ctx context.Context, orderID string) (*Order, error)
	// GetByAccession returns the order holding the sample and its index.
	GetByAccession(ctx context.Context, accession string) (*Order, int, error)
	// AccessionSample assigns the accession number and moves the sample to
	// InLab only if it is still AwaitingCollection at write time.
	AccessionSample(ctx context.Context, id uuid.UUID, index int, accession string, receivedAt time.Time) error
	ReplaceSamples(ctx context.Context, o *Order) error
	AppendPayment(ctx context.Context, o *Order, p Payment) error
	// FindLatestComplete returns nil without error when the patient has no
	// other complete order.
	FindLatestComplete(ctx context.Context, patientID, excludeID uuid.UUID) (*Order, error)
	ListBySampleStatus(ctx context.Context, statuses []SampleStatus) ([]*Order, error)
}
