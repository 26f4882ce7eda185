package integration

import (
	"context"
	"time"
)

// ---------------------------------------------------------------------------
// Repository ports
// ---------------------------------------------------------------------------

// PlatformConfigRepository persists PlatformConfig rows
type PlatformConfigRepository interface {
	// FindByPlatform returns ErrPlatformNotConfigured when no row exists
	FindByPlatform(ctx context.Context, platform PlatformCode) (*PlatformConfig, error)
	// FindActive returns all configs with IsActive set
	FindActive(ctx context.Context) ([]*PlatformConfig, error)
	// Save inserts the config, or updates credentials, sync interval and
	// the active flag of an existing one. Sync bookkeeping is left alone.
	Save(ctx context.Context, cfg *PlatformConfig) error
	// UpdateSyncStatus writes only the sync bookkeeping fields
	// (last sync, last attempt, last error, history) of an existing config
	UpdateSyncStatus(ctx context.Context, cfg *PlatformConfig) error
}

// UpsertOutcome is the store/update/skip decision of an order upsert
type UpsertOutcome string

const (
	UpsertStored  UpsertOutcome = "stored"
	UpsertUpdated UpsertOutcome = "updated"
	UpsertSkipped UpsertOutcome = "skipped"
)

// OrderRepository persists canonical orders keyed by (platform, external id)
type OrderRepository interface {
	// Upsert stores a new order, updates it when tracked fields changed, or skips it
	Upsert(ctx context.Context, order *CanonicalOrder) (UpsertOutcome, error)
	// FindByKey returns ErrOrderNotFound when the order is unknown
	FindByKey(ctx context.Context, platform PlatformCode, externalID string) (*CanonicalOrder, error)
	// FindByDateRange returns stored orders of every platform dated within [from, to]
	// that are not marked as duplicates
	FindByDateRange(ctx context.Context, from, to time.Time) ([]*CanonicalOrder, error)
}

// ---------------------------------------------------------------------------
// Sync report archive port
// ---------------------------------------------------------------------------

// SyncReport is the audit record of one sync run
type SyncReport struct {
	Entry     SyncResultEntry  `json:"entry"`
	Conflicts []ConflictRecord `json:"conflicts,omitempty"`
	Errors    []string         `json:"errors,omitempty"`
}

// SyncReportArchiver stores sync reports outside the database
type SyncReportArchiver interface {
	Archive(ctx context.Context, report *SyncReport) error
}
