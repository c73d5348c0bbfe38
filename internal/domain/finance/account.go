package finance

import (
	"strings"

	"github.com/erp/billing/internal/domain/shared"
	"github.com/google/uuid"
)

// AccountType represents the classification of a chart-of-accounts entry
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// IsValid checks if the account type is valid
func (t AccountType) IsValid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// String returns the string representation of AccountType
func (t AccountType) String() string {
	return string(t)
}

// Account is a chart-of-accounts entry, unique per (tenant, code).
// Journal lines reference accounts but never own them.
type Account struct {
	shared.TenantAggregateRoot
	Code     string
	Name     string
	Type     AccountType
	IsActive bool
}

// NewAccount creates a new active account
func NewAccount(tenantID uuid.UUID, code, name string, accountType AccountType) (*Account, error) {
	code = strings.TrimSpace(code)
	if tenantID == uuid.Nil {
		return nil, NewValidationError("tenant_id", "is required")
	}
	if code == "" {
		return nil, NewValidationError("code", "is required")
	}
	if !accountType.IsValid() {
		return nil, NewValidationError("type", "unknown account type %q", accountType)
	}
	return &Account{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Code:                code,
		Name:                name,
		Type:                accountType,
		IsActive:            true,
	}, nil
}
