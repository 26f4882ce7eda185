package integration

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// MinSyncIntervalSeconds is the shortest allowed sync interval
	MinSyncIntervalSeconds = 60
	// MaxSyncIntervalSeconds is the longest allowed sync interval
	MaxSyncIntervalSeconds = 86400
	// DefaultSyncIntervalSeconds is used when a config is created without an interval
	DefaultSyncIntervalSeconds = 900
	// MaxSyncHistory is the number of sync results retained per platform
	MaxSyncHistory = 10
)

// ---------------------------------------------------------------------------
// Sync results
// ---------------------------------------------------------------------------

// SyncStatus represents the outcome of one sync run
type SyncStatus string

const (
	SyncStatusSuccess           SyncStatus = "success"
	SyncStatusPartial           SyncStatus = "partial"
	SyncStatusFailed            SyncStatus = "failed"
	SyncStatusAlreadyInProgress SyncStatus = "already_in_progress"
)

// IsSuccessful returns true for outcomes that advance the last-sync watermark
func (s SyncStatus) IsSuccessful() bool {
	return s == SyncStatusSuccess || s == SyncStatusPartial
}

// SyncResultEntry records the counters of one sync run
type SyncResultEntry struct {
	SyncID              uuid.UUID    `json:"sync_id"`
	Platform            PlatformCode `json:"platform"`
	Status              SyncStatus   `json:"status"`
	StartedAt           time.Time    `json:"started_at"`
	FinishedAt          time.Time    `json:"finished_at"`
	WindowStart         time.Time    `json:"window_start"`
	WindowEnd           time.Time    `json:"window_end"`
	OrdersFetched       int          `json:"orders_fetched"`
	OrdersNormalized    int          `json:"orders_normalized"`
	NormalizationErrors int          `json:"normalization_errors"`
	Stored              int          `json:"stored"`
	Updated             int          `json:"updated"`
	Skipped             int          `json:"skipped"`
	PersistErrors       int          `json:"persist_errors"`
	DuplicateGroups     int          `json:"duplicate_groups"`
	DuplicatesMarked    int          `json:"duplicates_marked"`
	ConflictsDetected   int          `json:"conflicts_detected"`
	ManualReview        int          `json:"manual_review"`
	Error               string       `json:"error,omitempty"`
}

// Duration returns how long the run took
func (e *SyncResultEntry) Duration() time.Duration {
	if e.FinishedAt.IsZero() {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// ---------------------------------------------------------------------------
// PlatformConfig
// ---------------------------------------------------------------------------

// PlatformConfig holds the sync settings and state of one platform.
// It is mutated only by the credential store and the sync manager, and never by
// two sync runs for the same platform at once.
type PlatformConfig struct {
	Platform             PlatformCode
	EncryptedCredentials string
	SyncIntervalSeconds  int
	IsActive             bool
	LastSyncAt           *time.Time
	LastAttemptAt        *time.Time
	LastError            string
	SyncHistory          []SyncResultEntry
	UpdatedAt            time.Time
}

// NewPlatformConfig creates an inactive config with the default interval
func NewPlatformConfig(platform PlatformCode) (*PlatformConfig, error) {
	if !platform.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlatformCode, platform)
	}
	return &PlatformConfig{
		Platform:            platform,
		SyncIntervalSeconds: DefaultSyncIntervalSeconds,
		UpdatedAt:           time.Now(),
	}, nil
}

// SetSyncInterval updates the interval after bounds checking
func (c *PlatformConfig) SetSyncInterval(seconds int) error {
	if err := ValidateSyncInterval(seconds); err != nil {
		return err
	}
	c.SyncIntervalSeconds = seconds
	c.UpdatedAt = time.Now()
	return nil
}

// ValidateSyncInterval checks an interval against the allowed range
func ValidateSyncInterval(seconds int) error {
	if seconds < MinSyncIntervalSeconds || seconds > MaxSyncIntervalSeconds {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidSyncInterval,
			seconds, MinSyncIntervalSeconds, MaxSyncIntervalSeconds)
	}
	return nil
}

// SyncInterval returns the interval as a duration
func (c *PlatformConfig) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

// HasCredentials returns true once a credential bundle is stored
func (c *PlatformConfig) HasCredentials() bool {
	return c.EncryptedCredentials != ""
}

// NextSyncDue returns lastSync + interval, or now when the platform never synced
func (c *PlatformConfig) NextSyncDue(now time.Time) time.Time {
	if c.LastSyncAt == nil {
		return now
	}
	return c.LastSyncAt.Add(c.SyncInterval())
}

// IsDue reports whether an active platform should sync at now
func (c *PlatformConfig) IsDue(now time.Time) bool {
	return c.IsActive && !now.Before(c.NextSyncDue(now))
}

// RecordAttempt stores a sync result: it always bumps the attempt time and
// history, and advances LastSyncAt only for successful outcomes.
func (c *PlatformConfig) RecordAttempt(entry SyncResultEntry) {
	attempt := entry.StartedAt
	c.LastAttemptAt = &attempt
	if entry.Status.IsSuccessful() {
		finished := entry.FinishedAt
		c.LastSyncAt = &finished
		c.LastError = ""
	} else {
		c.LastError = entry.Error
	}
	c.AppendHistory(entry)
	c.UpdatedAt = time.Now()
}

// AppendHistory prepends entry and trims history to MaxSyncHistory (newest first)
func (c *PlatformConfig) AppendHistory(entry SyncResultEntry) {
	c.SyncHistory = append([]SyncResultEntry{entry}, c.SyncHistory...)
	if len(c.SyncHistory) > MaxSyncHistory {
		c.SyncHistory = c.SyncHistory[:MaxSyncHistory]
	}
}
