package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/ordersync/backend/internal/infrastructure/cache"
	"go.uber.org/zap"
)

const (
	// DefaultCredentialCacheTTL is how long encrypted bundles stay in the cache
	DefaultCredentialCacheTTL = 5 * time.Minute
	// DefaultCredentialBackupTTL is how long a rotated-out bundle can be rolled back
	DefaultCredentialBackupTTL = time.Hour
)

// Encrypter seals and opens credential bundles
type Encrypter interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(encoded string) ([]byte, error)
}

// CredentialStore keeps platform credentials encrypted at rest in PlatformConfig.
// The cache holds ciphertext only; decrypted values never leave the process.
type CredentialStore struct {
	configs   integration.PlatformConfigRepository
	cache     cache.Store
	cipher    Encrypter
	cacheTTL  time.Duration
	backupTTL time.Duration
	logger    *zap.Logger
	onChange  []func(integration.PlatformCode)

	locks sync.Map // platform -> *sync.Mutex
}

// CredentialStoreOption configures a CredentialStore
type CredentialStoreOption func(*CredentialStore)

// WithCredentialTTLs overrides the cache and backup TTLs
func WithCredentialTTLs(cacheTTL, backupTTL time.Duration) CredentialStoreOption {
	return func(s *CredentialStore) {
		if cacheTTL > 0 {
			s.cacheTTL = cacheTTL
		}
		if backupTTL > 0 {
			s.backupTTL = backupTTL
		}
	}
}

// WithChangeListener registers a callback run after credentials of a platform change
func WithChangeListener(fn func(integration.PlatformCode)) CredentialStoreOption {
	return func(s *CredentialStore) {
		s.onChange = append(s.onChange, fn)
	}
}

// NewCredentialStore creates a credential store
func NewCredentialStore(
	configs integration.PlatformConfigRepository,
	store cache.Store,
	cipher Encrypter,
	logger *zap.Logger,
	opts ...CredentialStoreOption,
) *CredentialStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &CredentialStore{
		configs:   configs,
		cache:     store,
		cipher:    cipher,
		cacheTTL:  DefaultCredentialCacheTTL,
		backupTTL: DefaultCredentialBackupTTL,
		logger:    logger.Named("credential_store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func cacheKey(platform integration.PlatformCode) string {
	return "credentials:" + string(platform)
}

func backupKey(platform integration.PlatformCode) string {
	return "credentials:backup:" + string(platform)
}

func (s *CredentialStore) lock(platform integration.PlatformCode) func() {
	m, _ := s.locks.LoadOrStore(platform, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// credentialSettings are the non-secret fields accepted alongside a credential bundle
type credentialSettings struct {
	SyncInterval *int `json:"sync_interval,omitempty"`
}

// Validate decodes and validates a raw bundle without storing it
func (s *CredentialStore) Validate(platform integration.PlatformCode, raw []byte) error {
	_, _, err := decodeBundle(platform, raw)
	return err
}

func decodeBundle(platform integration.PlatformCode, raw []byte) (integration.Credentials, *credentialSettings, error) {
	if !platform.IsValid() {
		return nil, nil, fmt.Errorf("%w: %q", integration.ErrInvalidPlatformCode, platform)
	}
	creds, err := integration.DecodeCredentials(platform, raw)
	if err != nil {
		return nil, nil, err
	}
	if err := creds.Validate(); err != nil {
		return nil, nil, err
	}

	var settings credentialSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, nil, fmt.Errorf("%w: malformed settings: %v", integration.ErrValidation, err)
	}
	if settings.SyncInterval != nil {
		if err := integration.ValidateSyncInterval(*settings.SyncInterval); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", integration.ErrValidation, err)
		}
	}
	return creds, &settings, nil
}

// ---------------------------------------------------------------------------
// Store / Get
// ---------------------------------------------------------------------------

// Store validates, encrypts and saves the credentials of a platform
func (s *CredentialStore) Store(ctx context.Context, platform integration.PlatformCode, raw []byte) error {
	creds, settings, err := decodeBundle(platform, raw)
	if err != nil {
		s.logger.Warn("rejected credentials",
			zap.String("platform", string(platform)),
			zap.Error(err),
		)
		return err
	}

	unlock := s.lock(platform)
	defer unlock()
	return s.storeLocked(ctx, platform, creds, settings)
}

func (s *CredentialStore) storeLocked(ctx context.Context, platform integration.PlatformCode, creds integration.Credentials, settings *credentialSettings) error {
	plaintext, err := integration.EncodeCredentials(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	encrypted, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	cfg, err := s.loadOrCreate(ctx, platform)
	if err != nil {
		return err
	}
	cfg.EncryptedCredentials = encrypted
	if settings != nil && settings.SyncInterval != nil {
		if err := cfg.SetSyncInterval(*settings.SyncInterval); err != nil {
			return err
		}
	}
	cfg.UpdatedAt = time.Now()

	if err := s.configs.Save(ctx, cfg); err != nil {
		return fmt.Errorf("failed to save platform config: %w", err)
	}
	s.invalidate(ctx, platform)

	s.logger.Info("credentials stored",
		zap.String("platform", string(platform)),
		zap.Any("credentials", creds.Redacted()),
	)
	return nil
}

// Get returns the decrypted credentials of a platform, or (nil, nil) when none are stored
func (s *CredentialStore) Get(ctx context.Context, platform integration.PlatformCode) (integration.Credentials, error) {
	encrypted, err := s.cache.Get(ctx, cacheKey(platform))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("credential cache read failed", zap.String("platform", string(platform)), zap.Error(err))
		}

		cfg, err := s.configs.FindByPlatform(ctx, platform)
		if errors.Is(err, integration.ErrPlatformNotConfigured) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if !cfg.HasCredentials() {
			return nil, nil
		}
		encrypted = []byte(cfg.EncryptedCredentials)
		if err := s.cache.Set(ctx, cacheKey(platform), encrypted, s.cacheTTL); err != nil {
			s.logger.Warn("credential cache write failed", zap.String("platform", string(platform)), zap.Error(err))
		}
	}

	return s.open(platform, string(encrypted))
}

func (s *CredentialStore) open(platform integration.PlatformCode, encrypted string) (integration.Credentials, error) {
	plaintext, err := s.cipher.Decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("credentials of %s: %w", platform, err)
	}
	return integration.DecodeCredentials(platform, plaintext)
}

// ---------------------------------------------------------------------------
// Rotation
// ---------------------------------------------------------------------------

// Rotate backs up the current bundle for the backup TTL, then stores the new one
func (s *CredentialStore) Rotate(ctx context.Context, platform integration.PlatformCode, raw []byte) error {
	creds, settings, err := decodeBundle(platform, raw)
	if err != nil {
		return err
	}

	unlock := s.lock(platform)
	defer unlock()

	cfg, err := s.configs.FindByPlatform(ctx, platform)
	if err != nil && !errors.Is(err, integration.ErrPlatformNotConfigured) {
		return err
	}
	if cfg != nil && cfg.HasCredentials() {
		if err := s.cache.Set(ctx, backupKey(platform), []byte(cfg.EncryptedCredentials), s.backupTTL); err != nil {
			return fmt.Errorf("failed to back up credentials: %w", err)
		}
		s.logger.Info("credentials backed up",
			zap.String("platform", string(platform)),
			zap.Duration("ttl", s.backupTTL),
		)
	}

	return s.storeLocked(ctx, platform, creds, settings)
}

// Rollback restores the bundle saved by the last Rotate while its backup exists
func (s *CredentialStore) Rollback(ctx context.Context, platform integration.PlatformCode) error {
	unlock := s.lock(platform)
	defer unlock()

	backup, err := s.cache.Get(ctx, backupKey(platform))
	if errors.Is(err, cache.ErrCacheMiss) {
		return fmt.Errorf("%w: %s", integration.ErrNoCredentialBackup, platform)
	}
	if err != nil {
		return err
	}
	if _, err := s.open(platform, string(backup)); err != nil {
		return err
	}

	cfg, err := s.loadOrCreate(ctx, platform)
	if err != nil {
		return err
	}
	cfg.EncryptedCredentials = string(backup)
	cfg.UpdatedAt = time.Now()
	if err := s.configs.Save(ctx, cfg); err != nil {
		return fmt.Errorf("failed to save platform config: %w", err)
	}
	_ = s.cache.Delete(ctx, backupKey(platform))
	s.invalidate(ctx, platform)

	s.logger.Info("credentials rolled back", zap.String("platform", string(platform)))
	return nil
}

// ---------------------------------------------------------------------------
// Activation
// ---------------------------------------------------------------------------

// SetActive enables or disables syncing of a platform.
// A platform can only be activated once credentials are stored.
func (s *CredentialStore) SetActive(ctx context.Context, platform integration.PlatformCode, active bool) error {
	unlock := s.lock(platform)
	defer unlock()

	cfg, err := s.configs.FindByPlatform(ctx, platform)
	if err != nil {
		return err
	}
	if active && !cfg.HasCredentials() {
		return fmt.Errorf("%w: %s has no credentials", integration.ErrPlatformNotConfigured, platform)
	}
	cfg.IsActive = active
	cfg.UpdatedAt = time.Now()
	if err := s.configs.Save(ctx, cfg); err != nil {
		return err
	}
	s.logger.Info("platform activation changed",
		zap.String("platform", string(platform)),
		zap.Bool("active", active),
	)
	return nil
}

func (s *CredentialStore) loadOrCreate(ctx context.Context, platform integration.PlatformCode) (*integration.PlatformConfig, error) {
	cfg, err := s.configs.FindByPlatform(ctx, platform)
	if errors.Is(err, integration.ErrPlatformNotConfigured) {
		return integration.NewPlatformConfig(platform)
	}
	return cfg, err
}

func (s *CredentialStore) invalidate(ctx context.Context, platform integration.PlatformCode) {
	if err := s.cache.Delete(ctx, cacheKey(platform)); err != nil {
		s.logger.Warn("credential cache invalidation failed", zap.String("platform", string(platform)), zap.Error(err))
	}
	for _, fn := range s.onChange {
		fn(platform)
	}
}

// Ensure CredentialStore implements CredentialProvider interface
var _ integration.CredentialProvider = (*CredentialStore)(nil)
