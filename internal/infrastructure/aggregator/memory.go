package aggregator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ensure MemoryClient implements Client
var _ Client = (*MemoryClient)(nil)

type memoryConnection struct {
	externalID    string
	institutionID string
	accounts      []Account
	transactions  []Transaction
	accountsErr   error
	txErr         error
	txErrAtOffset int
}

// MemoryClient is an in-process aggregator. It backs tests and the sandbox
// mode used when no provider credentials are configured.
type MemoryClient struct {
	mu           sync.Mutex
	connections  map[string]*memoryConnection // keyed by credential
	publicTokens map[string]string            // public token -> credential
	institutions map[string]Institution
	seedOnLink   bool
	now          func() time.Time

	accountCalls     map[string]int
	transactionCalls map[string]int
}

// NewMemoryClient returns an empty in-memory aggregator.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		connections:      make(map[string]*memoryConnection),
		publicTokens:     make(map[string]string),
		institutions:     make(map[string]Institution),
		now:              time.Now,
		accountCalls:     make(map[string]int),
		transactionCalls: make(map[string]int),
	}
}

// NewSandboxClient returns an in-memory aggregator that accepts any public
// token and fills each new connection with demo accounts and transactions.
func NewSandboxClient() *MemoryClient {
	c := NewMemoryClient()
	c.seedOnLink = true
	c.institutions["ins_sandbox"] = Institution{ID: "ins_sandbox", Name: "Sandbox Bank"}
	return c
}

// AddConnection registers a credential with its accounts and transactions.
func (c *MemoryClient) AddConnection(credential, externalID, institutionID string, accounts []Account, txs []Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connections[credential] = &memoryConnection{
		externalID:    externalID,
		institutionID: institutionID,
		accounts:      accounts,
		transactions:  txs,
	}
}

// AddInstitution registers an institution for GetInstitution.
func (c *MemoryClient) AddInstitution(inst Institution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.institutions[inst.ID] = inst
}

// AddPublicToken makes ExchangePublicToken return the given credential.
func (c *MemoryClient) AddPublicToken(publicToken, credential string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publicTokens[publicToken] = credential
}

// SetAccounts replaces the accounts reported for a credential.
func (c *MemoryClient) SetAccounts(credential string, accounts []Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.connections[credential]; ok {
		conn.accounts = accounts
	}
}

// FailAccounts makes ListAccounts return err for a credential.
func (c *MemoryClient) FailAccounts(credential string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.connections[credential]; ok {
		conn.accountsErr = err
	}
}

// FailTransactions makes ListTransactions return err for any page at or
// beyond offset.
func (c *MemoryClient) FailTransactions(credential string, offset int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.connections[credential]; ok {
		conn.txErr = err
		conn.txErrAtOffset = offset
	}
}

// TransactionCalls reports how many pages were requested for a credential.
func (c *MemoryClient) TransactionCalls(credential string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transactionCalls[credential]
}

// AccountCalls reports how many account listings were requested.
func (c *MemoryClient) AccountCalls(credential string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accountCalls[credential]
}

func (c *MemoryClient) lookup(credential string) (*memoryConnection, error) {
	conn, ok := c.connections[credential]
	if !ok {
		return nil, &APIError{StatusCode: 400, Type: "INVALID_INPUT", Code: "INVALID_ACCESS_TOKEN", Message: "unknown access token"}
	}
	return conn, nil
}

func (c *MemoryClient) ListAccounts(ctx context.Context, credential string) ([]Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accountCalls[credential]++
	conn, err := c.lookup(credential)
	if err != nil {
		return nil, err
	}
	if conn.accountsErr != nil {
		return nil, conn.accountsErr
	}

	out := make([]Account, len(conn.accounts))
	copy(out, conn.accounts)
	for i := range out {
		if out[i].InstitutionID == "" {
			out[i].InstitutionID = conn.institutionID
		}
	}
	return out, nil
}

func (c *MemoryClient) ListTransactions(ctx context.Context, credential string, query TransactionQuery) ([]Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.transactionCalls[credential]++
	conn, err := c.lookup(credential)
	if err != nil {
		return nil, err
	}
	if conn.txErr != nil && query.Offset >= conn.txErrAtOffset {
		return nil, conn.txErr
	}

	start := truncateDay(query.StartDate)
	end := truncateDay(query.EndDate)
	var window []Transaction
	for _, tx := range conn.transactions {
		d := truncateDay(tx.Date)
		if (!start.IsZero() && d.Before(start)) || (!end.IsZero() && d.After(end)) {
			continue
		}
		window = append(window, tx)
	}

	// Newest first with a stable tie-break so offsets are repeatable.
	sort.SliceStable(window, func(i, j int) bool {
		if !window[i].Date.Equal(window[j].Date) {
			return window[i].Date.After(window[j].Date)
		}
		return window[i].ExternalID < window[j].ExternalID
	})

	if query.Offset >= len(window) {
		return []Transaction{}, nil
	}
	endIdx := len(window)
	if query.Count > 0 && query.Offset+query.Count < endIdx {
		endIdx = query.Offset + query.Count
	}
	out := make([]Transaction, endIdx-query.Offset)
	copy(out, window[query.Offset:endIdx])
	return out, nil
}

func (c *MemoryClient) ExchangePublicToken(ctx context.Context, publicToken string) (*Exchange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if credential, ok := c.publicTokens[publicToken]; ok {
		conn, err := c.lookup(credential)
		if err != nil {
			return nil, err
		}
		return &Exchange{Credential: credential, ExternalConnectionID: conn.externalID}, nil
	}

	if !c.seedOnLink {
		return nil, &APIError{StatusCode: 400, Type: "INVALID_INPUT", Code: "INVALID_PUBLIC_TOKEN", Message: "unknown public token"}
	}

	suffix := uuid.NewString()
	credential := "access-sandbox-" + suffix
	externalID := "item-sandbox-" + suffix
	accounts, txs := sandboxData(externalID, c.now())
	c.connections[credential] = &memoryConnection{
		externalID:    externalID,
		institutionID: "ins_sandbox",
		accounts:      accounts,
		transactions:  txs,
	}
	c.publicTokens[publicToken] = credential
	return &Exchange{Credential: credential, ExternalConnectionID: externalID}, nil
}

func (c *MemoryClient) GetItem(ctx context.Context, credential string) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.lookup(credential)
	if err != nil {
		return nil, err
	}
	return &Item{ExternalConnectionID: conn.externalID, InstitutionID: conn.institutionID}, nil
}

func (c *MemoryClient) GetInstitution(ctx context.Context, institutionID string) (*Institution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	inst, ok := c.institutions[institutionID]
	if !ok {
		return nil, &APIError{StatusCode: 400, Type: "INVALID_INPUT", Code: "INVALID_INSTITUTION", Message: "unknown institution"}
	}
	return &inst, nil
}

func (c *MemoryClient) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if userID == "" {
		return "", &APIError{StatusCode: 400, Type: "INVALID_REQUEST", Code: "MISSING_FIELDS", Message: "user id is required"}
	}
	return fmt.Sprintf("link-sandbox-%s", uuid.NewString()), nil
}

func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// sandboxData builds a checking and a credit account with a month of
// spending across the common categories.
func sandboxData(externalID string, now time.Time) ([]Account, []Transaction) {
	checking := externalID + "-checking"
	credit := externalID + "-credit"

	accounts := []Account{
		{ExternalID: checking, Name: "Plaid Checking", OfficialName: "Plaid Gold Standard 0% Interest Checking", Mask: "0000", Type: "depository", Subtype: "checking", Currency: "USD", Balance: decimal.RequireFromString("1100.00")},
		{ExternalID: credit, Name: "Plaid Credit Card", OfficialName: "Plaid Diamond 12.5% APR Interest Credit Card", Mask: "3333", Type: "credit", Subtype: "credit card", Currency: "USD", Balance: decimal.RequireFromString("410.00")},
	}

	samples := []struct {
		account   string
		amount    string
		merchant  string
		hierarchy []string
		id        string
	}{
		{credit, "12.00", "McDonald's", []string{"Food and Drink", "Restaurants", "Fast Food"}, "13005032"},
		{credit, "4.33", "Starbucks", []string{"Food and Drink", "Restaurants", "Coffee Shop"}, "13005043"},
		{credit, "89.40", "Whole Foods", []string{"Shops", "Supermarkets and Groceries"}, "19047000"},
		{credit, "5.40", "Uber", []string{"Travel", "Taxi"}, "22016000"},
		{credit, "500.00", "United Airlines", []string{"Travel", "Airlines and Aviation Services"}, "22001000"},
		{checking, "1200.00", "Rent", []string{"Payment", "Rent"}, "16002000"},
		{checking, "-2500.00", "Acme Payroll", []string{"Transfer", "Payroll"}, "21009000"},
		{checking, "78.50", "City Utilities", []string{"Service", "Utilities"}, "18068000"},
	}

	day := truncateDay(now)
	var txs []Transaction
	for i, s := range samples {
		date := day.AddDate(0, 0, -3*i)
		txs = append(txs, Transaction{
			ExternalID:        fmt.Sprintf("%s-tx-%02d", externalID, i),
			ExternalAccountID: s.account,
			Amount:            decimal.RequireFromString(s.amount),
			Date:              date,
			AuthorizedDate:    &date,
			Pending:           i == 0,
			MerchantName:      s.merchant,
			TopCategory:       s.hierarchy[0],
			CategoryHierarchy: s.hierarchy,
			CategoryID:        s.id,
			Currency:          "USD",
		})
	}
	return accounts, txs
}
