package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/shopspring/decimal"
)

// PlatformConfigModel is the persistence model for the PlatformConfig domain entity.
type PlatformConfigModel struct {
	Platform             integration.PlatformCode `gorm:"type:varchar(20);primaryKey"`
	EncryptedCredentials string                   `gorm:"type:text"`
	SyncIntervalSeconds  int                      `gorm:"not null;default:900"`
	IsActive             bool                     `gorm:"not null;default:false;index:idx_platform_configs_active"`
	LastSyncAt           *time.Time
	LastAttemptAt        *time.Time
	LastError            string                        `gorm:"type:text"`
	SyncHistory          []integration.SyncResultEntry `gorm:"type:jsonb;serializer:json"`
	CreatedAt            time.Time                     `gorm:"not null"`
	UpdatedAt            time.Time                     `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PlatformConfigModel) TableName() string {
	return "platform_configs"
}

// ToDomain converts the persistence model to a domain PlatformConfig.
func (m *PlatformConfigModel) ToDomain() *integration.PlatformConfig {
	return &integration.PlatformConfig{
		Platform:             m.Platform,
		EncryptedCredentials: m.EncryptedCredentials,
		SyncIntervalSeconds:  m.SyncIntervalSeconds,
		IsActive:             m.IsActive,
		LastSyncAt:           m.LastSyncAt,
		LastAttemptAt:        m.LastAttemptAt,
		LastError:            m.LastError,
		SyncHistory:          append([]integration.SyncResultEntry(nil), m.SyncHistory...),
		UpdatedAt:            m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain PlatformConfig.
func (m *PlatformConfigModel) FromDomain(c *integration.PlatformConfig) {
	m.Platform = c.Platform
	m.EncryptedCredentials = c.EncryptedCredentials
	m.SyncIntervalSeconds = c.SyncIntervalSeconds
	m.IsActive = c.IsActive
	m.LastSyncAt = c.LastSyncAt
	m.LastAttemptAt = c.LastAttemptAt
	m.LastError = c.LastError
	m.SyncHistory = c.SyncHistory
	m.UpdatedAt = c.UpdatedAt
}

// CanonicalOrderModel is the persistence model for the CanonicalOrder domain entity.
// (platform, external_id) is unique.
type CanonicalOrderModel struct {
	ID              uuid.UUID                `gorm:"type:uuid;primary_key"`
	Platform        integration.PlatformCode `gorm:"type:varchar(20);not null;uniqueIndex:idx_canonical_orders_platform_external,priority:1"`
	ExternalID      string                   `gorm:"type:varchar(128);not null;uniqueIndex:idx_canonical_orders_platform_external,priority:2"`
	CustomerName    string                   `gorm:"type:varchar(255);not null"`
	CustomerEmail   string                   `gorm:"type:varchar(255);index:idx_canonical_orders_email"`
	CustomerPhone   string                   `gorm:"type:varchar(50)"`
	TotalAmount     decimal.Decimal          `gorm:"type:decimal(18,2);not null"`
	Currency        string                   `gorm:"type:varchar(3);not null"`
	Status          integration.OrderStatus  `gorm:"type:varchar(20);not null;index:idx_canonical_orders_status"`
	OrderDate       time.Time                `gorm:"not null;index:idx_canonical_orders_order_date"`
	ShippingAddress string                   `gorm:"type:text"`
	BillingAddress  string                   `gorm:"type:text"`
	PlatformData    *string                  `gorm:"type:jsonb"`
	Notes           string                   `gorm:"type:text"`
	DedupStatus     integration.DedupStatus  `gorm:"type:varchar(20);not null;default:'unique';index:idx_canonical_orders_dedup_status"`
	DuplicateOf     string                   `gorm:"type:varchar(128)"`
	CreatedAt       time.Time                `gorm:"not null"`
	UpdatedAt       time.Time                `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CanonicalOrderModel) TableName() string {
	return "canonical_orders"
}

// ToDomain converts the persistence model to a domain CanonicalOrder.
func (m *CanonicalOrderModel) ToDomain() *integration.CanonicalOrder {
	o := &integration.CanonicalOrder{
		ExternalID:      m.ExternalID,
		Platform:        m.Platform,
		CustomerName:    m.CustomerName,
		CustomerEmail:   m.CustomerEmail,
		CustomerPhone:   m.CustomerPhone,
		TotalAmount:     m.TotalAmount,
		Currency:        m.Currency,
		Status:          m.Status,
		OrderDate:       m.OrderDate.UTC(),
		ShippingAddress: m.ShippingAddress,
		BillingAddress:  m.BillingAddress,
		Notes:           m.Notes,
		DedupStatus:     m.DedupStatus,
		DuplicateOf:     m.DuplicateOf,
	}
	if m.PlatformData != nil {
		o.PlatformData = []byte(*m.PlatformData)
	}
	return o
}

// FromDomain populates the persistence model from a domain CanonicalOrder.
// ID and CreatedAt are left to the caller.
func (m *CanonicalOrderModel) FromDomain(o *integration.CanonicalOrder) {
	m.Platform = o.Platform
	m.ExternalID = o.ExternalID
	m.CustomerName = o.CustomerName
	m.CustomerEmail = o.CustomerEmail
	m.CustomerPhone = o.CustomerPhone
	m.TotalAmount = o.TotalAmount
	m.Currency = o.Currency
	m.Status = o.Status
	m.OrderDate = o.OrderDate.UTC()
	m.ShippingAddress = o.ShippingAddress
	m.BillingAddress = o.BillingAddress
	m.Notes = o.Notes
	m.DedupStatus = o.DedupStatus
	m.DuplicateOf = o.DuplicateOf
	m.PlatformData = nil
	if len(o.PlatformData) > 0 {
		data := string(o.PlatformData)
		m.PlatformData = &data
	}
}
