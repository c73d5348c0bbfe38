// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// Key Principles:
// 1. Domain entities carry no GORM tags or infrastructure concerns
// 2. Persistence models hold the table mappings and column constraints
// 3. Mappers (ToDomain / ...FromDomain) convert between the two
// 4. Repositories read and write persistence models only
//
// Structure:
// - base.go: shared aggregate columns (ID, timestamps, version, tenant)
// - finance.go: accounts, journal entries, documents, payments, allocations,
//   subscriptions, sequence counters, audit records and gateway callback logs
//
// The authoritative schema lives in the migrations directory; All() lists the
// models so tests can build an equivalent SQLite schema with AutoMigrate.
package models
