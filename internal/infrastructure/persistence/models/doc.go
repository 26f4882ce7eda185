// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer free of ORM
// concerns; repositories convert between the two.
//
// - integration.go: platform configs and canonical orders
package models
