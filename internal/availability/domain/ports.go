package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ResourceDirectory resolves a resource to its external calendar identities.
// Implementations return ErrUnknownResource for IDs they do not know.
type ResourceDirectory interface {
	ResolveIdentity(ctx context.Context, id ResourceID) (*ResourceIdentity, error)
}

// BookingStore lists internal bookings that occupy a resource inside a window.
type BookingStore interface {
	ListBookings(ctx context.Context, id ResourceID, start, end time.Time) ([]TimeInterval, error)
}

// ManualBlockStore lists manual blocks that may occupy a resource inside a window.
// Recurring blocks are returned once; expanding them is the caller's job.
type ManualBlockStore interface {
	ListBlocks(ctx context.Context, id ResourceID, start, end time.Time) ([]ManualBlock, error)
}

// FreeBusyProvider returns busy intervals for one external identity.
type FreeBusyProvider interface {
	FreeBusy(ctx context.Context, identity ExternalIdentity, start, end time.Time) ([]TimeInterval, error)
}

// ResourceRepository persists resources and their calendar links.
type ResourceRepository interface {
	ResourceDirectory
	SaveResource(ctx context.Context, identity ResourceIdentity) error
	ListResources(ctx context.Context) ([]ResourceIdentity, error)
}

// BookingRepository persists internal bookings.
type BookingRepository interface {
	BookingStore
	SaveBooking(ctx context.Context, booking Booking) error
}

// ManualBlockRepository persists manual blocks.
type ManualBlockRepository interface {
	ManualBlockStore
	SaveBlock(ctx context.Context, block ManualBlock) error
	DeleteBlock(ctx context.Context, blockID uuid.UUID) error
}
