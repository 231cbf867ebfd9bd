package account

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Domain errors
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrForbidden       = errors.New("access forbidden")
	ErrInvalidInput    = errors.New("invalid input")
)

// Account mirrors one bank or credit account reported by the aggregator.
type Account struct {
	ID            string          `json:"id"`
	ExternalID    string          `json:"externalId"`
	UserID        string          `json:"userId"`
	ConnectionID  string          `json:"connectionId"`
	Name          string          `json:"name"`
	OfficialName  string          `json:"officialName,omitempty"`
	Mask          string          `json:"mask,omitempty"`
	Type          string          `json:"type,omitempty"`
	Subtype       string          `json:"subtype,omitempty"`
	InstitutionID string          `json:"institutionId,omitempty"`
	Currency      string          `json:"currency"`
	Balance       decimal.Decimal `json:"balance"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// UpsertParams contains parameters for upserting an account keyed by its
// external id.
type UpsertParams struct {
	ExternalID    string
	UserID        string
	ConnectionID  string
	Name          string
	OfficialName  string
	Mask          string
	Type          string
	Subtype       string
	InstitutionID string
	Currency      string
	Balance       decimal.Decimal
	SyncedAt      time.Time
}

// Validate validates the upsert parameters
func (p UpsertParams) Validate() error {
	if p.ExternalID == "" {
		return errors.New("external account ID is required for upsert")
	}
	if p.UserID == "" {
		return errors.New("user ID is required for upsert")
	}
	if p.ConnectionID == "" {
		return errors.New("connection ID is required for upsert")
	}
	if p.Name == "" {
		return errors.New("account name is required")
	}
	if p.Currency != "" && len(p.Currency) != 3 {
		return errors.New("currency must be a 3-letter ISO 4217 code")
	}
	return nil
}

// Tombstone records that a user unlinked an external account under a
// connection. The reconciler must never recreate that pair.
type Tombstone struct {
	ConnectionID      string    `json:"connectionId"`
	ExternalAccountID string    `json:"externalAccountId"`
	UserID            string    `json:"userId"`
	RemovedAt         time.Time `json:"removedAt"`
}
