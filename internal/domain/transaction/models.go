package transaction

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Direction of a money movement relative to the account.
const (
	DirectionDebit  = "DEBIT"
	DirectionCredit = "CREDIT"
)

var ErrTransactionNotFound = errors.New("transaction not found")

type Transaction struct {
	ID                 string          `json:"id"`
	ExternalID         string          `json:"externalId"`
	AccountID          string          `json:"accountId"`
	Amount             decimal.Decimal `json:"amount"`
	Direction          string          `json:"direction"`
	Date               time.Time       `json:"date"`
	AuthorizedDate     *time.Time      `json:"authorizedDate,omitempty"`
	Pending            bool            `json:"pending"`
	MerchantName       string          `json:"merchantName"`
	TopCategory        string          `json:"topCategory,omitempty"`
	CategoryHierarchy  []string        `json:"categoryHierarchy,omitempty"`
	ExternalCategoryID string          `json:"externalCategoryId,omitempty"`
	Category           *string         `json:"category"`
	Currency           string          `json:"currency"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// UpsertTransactionParams is used for syncing transactions from the aggregator
type UpsertTransactionParams struct {
	ExternalID         string // aggregator transaction id, the idempotency key
	AccountID          string
	Amount             decimal.Decimal
	Date               time.Time
	AuthorizedDate     *time.Time
	Pending            bool
	MerchantName       string
	TopCategory        string
	CategoryHierarchy  []string
	ExternalCategoryID string
	Category           *string
	Currency           string
	SyncedAt           time.Time
}

// Validate validates the upsert parameters
func (p UpsertTransactionParams) Validate() error {
	if p.ExternalID == "" {
		return errors.New("external transaction ID is required")
	}
	if p.AccountID == "" {
		return errors.New("account ID is required")
	}
	if p.Date.IsZero() {
		return errors.New("transaction date is required")
	}
	return nil
}

// DirectionFor derives the movement direction from a reported amount.
// The aggregator reports money leaving the account as a positive amount for
// every account type, so positive and zero amounts are debits.
func DirectionFor(amount decimal.Decimal) string {
	if amount.IsNegative() {
		return DirectionCredit
	}
	return DirectionDebit
}
