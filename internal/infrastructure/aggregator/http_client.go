package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	dateLayout     = "2006-01-02"
	defaultTimeout = 30 * time.Second
	clientName     = "Flowly"
)

var baseURLs = map[string]string{
	"sandbox":     "https://sandbox.plaid.com",
	"development": "https://development.plaid.com",
	"production":  "https://production.plaid.com",
}

// Ensure HTTPClient implements Client
var _ Client = (*HTTPClient)(nil)

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	ClientID     string
	Secret       string
	Environment  string
	BaseURL      string // overrides Environment when set
	Timeout      time.Duration
	RateLimit    float64 // requests per second
	CountryCodes []string
}

// HTTPClient is the Plaid-style JSON-over-HTTP client.
type HTTPClient struct {
	httpClient   *http.Client
	baseURL      string
	clientID     string
	secret       string
	countryCodes []string
	limiter      *rate.Limiter
}

// NewHTTPClient creates a new HTTP aggregator client
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	base := cfg.BaseURL
	if base == "" {
		var ok bool
		base, ok = baseURLs[cfg.Environment]
		if !ok {
			return nil, fmt.Errorf("unknown aggregator environment %q", cfg.Environment)
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = max(1, int(cfg.RateLimit))
	}

	countryCodes := cfg.CountryCodes
	if len(countryCodes) == 0 {
		countryCodes = []string{"US"}
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:      base,
		clientID:     cfg.ClientID,
		secret:       cfg.Secret,
		countryCodes: countryCodes,
		limiter:      rate.NewLimiter(limit, burst),
	}, nil
}

type balancesPayload struct {
	Available              decimal.NullDecimal `json:"available"`
	Current                decimal.NullDecimal `json:"current"`
	ISOCurrencyCode        *string             `json:"iso_currency_code"`
	UnofficialCurrencyCode *string             `json:"unofficial_currency_code"`
}

type accountPayload struct {
	AccountID    string          `json:"account_id"`
	Name         string          `json:"name"`
	OfficialName *string         `json:"official_name"`
	Mask         *string         `json:"mask"`
	Type         string          `json:"type"`
	Subtype      *string         `json:"subtype"`
	Balances     balancesPayload `json:"balances"`
}

type itemPayload struct {
	ItemID        string  `json:"item_id"`
	InstitutionID *string `json:"institution_id"`
}

type accountsResponse struct {
	Accounts []accountPayload `json:"accounts"`
	Item     itemPayload      `json:"item"`
}

type personalFinanceCategory struct {
	Primary  string `json:"primary"`
	Detailed string `json:"detailed"`
}

type transactionPayload struct {
	TransactionID           string                   `json:"transaction_id"`
	AccountID               string                   `json:"account_id"`
	Amount                  decimal.Decimal          `json:"amount"`
	ISOCurrencyCode         *string                  `json:"iso_currency_code"`
	UnofficialCurrencyCode  *string                  `json:"unofficial_currency_code"`
	Date                    string                   `json:"date"`
	AuthorizedDate          *string                  `json:"authorized_date"`
	Pending                 bool                     `json:"pending"`
	MerchantName            *string                  `json:"merchant_name"`
	Name                    string                   `json:"name"`
	Category                []string                 `json:"category"`
	CategoryID              *string                  `json:"category_id"`
	PersonalFinanceCategory *personalFinanceCategory `json:"personal_finance_category"`
}

type transactionsResponse struct {
	Transactions      []transactionPayload `json:"transactions"`
	TotalTransactions int                  `json:"total_transactions"`
}

// ListAccounts fetches the accounts behind a credential.
func (c *HTTPClient) ListAccounts(ctx context.Context, credential string) ([]Account, error) {
	var resp accountsResponse
	err := c.post(ctx, "/accounts/get", map[string]any{"access_token": credential}, &resp)
	if err != nil {
		return nil, err
	}

	institutionID := deref(resp.Item.InstitutionID)
	accounts := make([]Account, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		accounts = append(accounts, Account{
			ExternalID:    a.AccountID,
			Name:          a.Name,
			OfficialName:  deref(a.OfficialName),
			Mask:          deref(a.Mask),
			Type:          a.Type,
			Subtype:       deref(a.Subtype),
			InstitutionID: institutionID,
			Currency:      firstNonEmpty(deref(a.Balances.ISOCurrencyCode), deref(a.Balances.UnofficialCurrencyCode)),
			Balance:       balanceOf(a.Balances),
		})
	}
	return accounts, nil
}

// ListTransactions fetches one page of transactions for the date window.
func (c *HTTPClient) ListTransactions(ctx context.Context, credential string, query TransactionQuery) ([]Transaction, error) {
	body := map[string]any{
		"access_token": credential,
		"start_date":   query.StartDate.Format(dateLayout),
		"end_date":     query.EndDate.Format(dateLayout),
		"options": map[string]int{
			"count":  query.Count,
			"offset": query.Offset,
		},
	}

	var resp transactionsResponse
	if err := c.post(ctx, "/transactions/get", body, &resp); err != nil {
		return nil, err
	}

	txs := make([]Transaction, 0, len(resp.Transactions))
	for _, p := range resp.Transactions {
		tx, err := p.toTransaction()
		if err != nil {
			return nil, fmt.Errorf("failed to decode transaction %s: %w", p.TransactionID, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// ExchangePublicToken swaps a link public token for an access credential.
func (c *HTTPClient) ExchangePublicToken(ctx context.Context, publicToken string) (*Exchange, error) {
	var resp struct {
		AccessToken string `json:"access_token"`
		ItemID      string `json:"item_id"`
	}
	if err := c.post(ctx, "/item/public_token/exchange", map[string]any{"public_token": publicToken}, &resp); err != nil {
		return nil, err
	}
	return &Exchange{Credential: resp.AccessToken, ExternalConnectionID: resp.ItemID}, nil
}

// GetItem returns connection metadata for a credential.
func (c *HTTPClient) GetItem(ctx context.Context, credential string) (*Item, error) {
	var resp struct {
		Item itemPayload `json:"item"`
	}
	if err := c.post(ctx, "/item/get", map[string]any{"access_token": credential}, &resp); err != nil {
		return nil, err
	}
	return &Item{ExternalConnectionID: resp.Item.ItemID, InstitutionID: deref(resp.Item.InstitutionID)}, nil
}

// GetInstitution looks up an institution's display name.
func (c *HTTPClient) GetInstitution(ctx context.Context, institutionID string) (*Institution, error) {
	var resp struct {
		Institution struct {
			InstitutionID string `json:"institution_id"`
			Name          string `json:"name"`
		} `json:"institution"`
	}
	body := map[string]any{
		"institution_id": institutionID,
		"country_codes":  c.countryCodes,
	}
	if err := c.post(ctx, "/institutions/get_by_id", body, &resp); err != nil {
		return nil, err
	}
	return &Institution{ID: resp.Institution.InstitutionID, Name: resp.Institution.Name}, nil
}

// CreateLinkToken starts a link flow for the user.
func (c *HTTPClient) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	var resp struct {
		LinkToken string `json:"link_token"`
	}
	body := map[string]any{
		"client_name":   clientName,
		"user":          map[string]string{"client_user_id": userID},
		"products":      []string{"transactions"},
		"country_codes": c.countryCodes,
		"language":      "en",
	}
	if err := c.post(ctx, "/link/token/create", body, &resp); err != nil {
		return "", err
	}
	return resp.LinkToken, nil
}

// post sends an authenticated JSON request and decodes the response into out.
func (c *HTTPClient) post(ctx context.Context, path string, body map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait for %s: %w", path, err)
	}

	body["client_id"] = c.clientID
	body["secret"] = c.secret

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("request %s: %w", path, ctx.Err())
		}
		return fmt.Errorf("request %s failed: %w: %w", path, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w: %w", path, ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(raw, apiErr); jsonErr != nil || apiErr.Code == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("request %s: %w", path, apiErr)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

func (p transactionPayload) toTransaction() (Transaction, error) {
	date, err := time.Parse(dateLayout, p.Date)
	if err != nil {
		return Transaction{}, fmt.Errorf("invalid date %q: %w", p.Date, err)
	}

	var authorized *time.Time
	if p.AuthorizedDate != nil && *p.AuthorizedDate != "" {
		t, err := time.Parse(dateLayout, *p.AuthorizedDate)
		if err != nil {
			return Transaction{}, fmt.Errorf("invalid authorized_date %q: %w", *p.AuthorizedDate, err)
		}
		authorized = &t
	}

	top, hierarchy := p.categories()

	return Transaction{
		ExternalID:        p.TransactionID,
		ExternalAccountID: p.AccountID,
		Amount:            p.Amount,
		Date:              date,
		AuthorizedDate:    authorized,
		Pending:           p.Pending,
		MerchantName:      firstNonEmpty(deref(p.MerchantName), p.Name),
		TopCategory:       top,
		CategoryHierarchy: hierarchy,
		CategoryID:        deref(p.CategoryID),
		Currency:          firstNonEmpty(deref(p.ISOCurrencyCode), deref(p.UnofficialCurrencyCode)),
	}, nil
}

// categories prefers the legacy hierarchy and falls back to the personal
// finance category.
func (p transactionPayload) categories() (string, []string) {
	if len(p.Category) > 0 {
		return p.Category[0], p.Category
	}
	if pfc := p.PersonalFinanceCategory; pfc != nil && pfc.Primary != "" {
		hierarchy := []string{pfc.Primary}
		if pfc.Detailed != "" {
			hierarchy = append(hierarchy, pfc.Detailed)
		}
		return pfc.Primary, hierarchy
	}
	return "", nil
}

// balanceOf prefers the current balance, then available, then zero.
func balanceOf(b balancesPayload) decimal.Decimal {
	if b.Current.Valid {
		return b.Current.Decimal
	}
	if b.Available.Valid {
		return b.Available.Decimal
	}
	return decimal.Zero
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
