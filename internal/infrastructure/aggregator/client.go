// Package aggregator talks to the account-aggregation provider.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable marks transient failures (network, 5xx, rate limits).
	// Callers retry on the next pass.
	ErrUnavailable = errors.New("aggregator unavailable")
	// ErrAuth marks a credential the provider no longer accepts. The user
	// must re-link before the connection can sync again.
	ErrAuth = errors.New("aggregator credential rejected")
)

// Client defines the calls the sync engine makes against the provider.
type Client interface {
	ListAccounts(ctx context.Context, credential string) ([]Account, error)
	// ListTransactions returns one page. A page shorter than query.Count
	// means there is no more data.
	ListTransactions(ctx context.Context, credential string, query TransactionQuery) ([]Transaction, error)
	ExchangePublicToken(ctx context.Context, publicToken string) (*Exchange, error)
	GetItem(ctx context.Context, credential string) (*Item, error)
	GetInstitution(ctx context.Context, institutionID string) (*Institution, error)
	CreateLinkToken(ctx context.Context, userID string) (string, error)
}

// Account is one account as reported by the provider.
type Account struct {
	ExternalID    string
	Name          string
	OfficialName  string
	Mask          string
	Type          string
	Subtype       string
	InstitutionID string
	Currency      string
	Balance       decimal.Decimal
}

// Transaction is one transaction as reported by the provider. Amount keeps
// the provider's sign: positive means money left the account.
type Transaction struct {
	ExternalID        string
	ExternalAccountID string
	Amount            decimal.Decimal
	Date              time.Time
	AuthorizedDate    *time.Time
	Pending           bool
	MerchantName      string
	TopCategory       string
	CategoryHierarchy []string
	CategoryID        string
	Currency          string
}

// TransactionQuery selects one page of transactions. Dates are inclusive.
type TransactionQuery struct {
	StartDate time.Time
	EndDate   time.Time
	Count     int
	Offset    int
}

// Exchange is the result of swapping a public token for a long-lived credential.
type Exchange struct {
	Credential           string
	ExternalConnectionID string
}

type Item struct {
	ExternalConnectionID string
	InstitutionID        string
}

type Institution struct {
	ID   string
	Name string
}

// APIError is an error response from the provider.
type APIError struct {
	StatusCode int
	Type       string `json:"error_type"`
	Code       string `json:"error_code"`
	Message    string `json:"error_message"`
	RequestID  string `json:"request_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("aggregator error %d %s/%s: %s", e.StatusCode, e.Type, e.Code, e.Message)
}

// Unwrap maps the provider's error codes onto ErrAuth and ErrUnavailable.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "ITEM_LOGIN_REQUIRED", "INVALID_ACCESS_TOKEN", "ITEM_NOT_FOUND", "ACCESS_NOT_GRANTED", "USER_PERMISSION_REVOKED":
		return ErrAuth
	case "RATE_LIMIT_EXCEEDED", "INSTITUTION_DOWN", "INSTITUTION_NOT_RESPONDING", "INTERNAL_SERVER_ERROR", "PRODUCT_NOT_READY":
		return ErrUnavailable
	}
	if e.StatusCode >= 500 || e.StatusCode == 429 || e.Type == "API_ERROR" || e.Type == "RATE_LIMIT_EXCEEDED" {
		return ErrUnavailable
	}
	return nil
}
