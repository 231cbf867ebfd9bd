package banksync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"flowly/internal/domain/account"
	"flowly/internal/domain/connection"
	"flowly/internal/domain/transaction"
)

// memStore is a stateful in-memory implementation of every repository the
// sync engine touches.
type memStore struct {
	mu           sync.Mutex
	connections  map[string]*connection.Connection
	accounts     map[string]*account.Account         // by id
	transactions map[string]*transaction.Transaction // by id
	tombstones   map[[2]string]account.Tombstone
	categories   transaction.CategoryMap
}

func newMemStore() *memStore {
	return &memStore{
		connections:  make(map[string]*connection.Connection),
		accounts:     make(map[string]*account.Account),
		transactions: make(map[string]*transaction.Transaction),
		tombstones:   make(map[[2]string]account.Tombstone),
		categories:   make(transaction.CategoryMap),
	}
}

func (m *memStore) connectionRepo() *memConnections   { return &memConnections{m} }
func (m *memStore) accountRepo() *memAccounts         { return &memAccounts{m} }
func (m *memStore) tombstoneRepo() *memTombstones     { return &memTombstones{m} }
func (m *memStore) transactionRepo() *memTransactions { return &memTransactions{m} }
func (m *memStore) categoryRepo() *memCategories      { return &memCategories{m} }

// accountsUnder returns a snapshot of the accounts under a connection.
func (m *memStore) accountsUnder(connectionID string) map[string]account.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]account.Account)
	for _, acc := range m.accounts {
		if acc.ConnectionID == connectionID {
			out[acc.ExternalID] = *acc
		}
	}
	return out
}

// transactionsByExternalID returns a snapshot of every stored transaction.
func (m *memStore) transactionsByExternalID() map[string]transaction.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]transaction.Transaction, len(m.transactions))
	for _, t := range m.transactions {
		out[t.ExternalID] = *t
	}
	return out
}

type memConnections struct{ m *memStore }

var _ connection.Repository = (*memConnections)(nil)

func (r *memConnections) Create(ctx context.Context, p connection.CreateParams) (*connection.Connection, error) {
	if err := p.Validate(); err != nil {
		return nil, connection.ErrInvalidInput
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, c := range r.m.connections {
		if c.ExternalID == p.ExternalID {
			return nil, connection.ErrConnectionConflict
		}
	}
	now := time.Now().UTC()
	c := &connection.Connection{
		ID:              uuid.NewString(),
		UserID:          p.UserID,
		ExternalID:      p.ExternalID,
		Credential:      p.Credential,
		InstitutionID:   p.InstitutionID,
		InstitutionName: p.InstitutionName,
		Status:          connection.StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.m.connections[c.ID] = c
	cp := *c
	return &cp, nil
}

func (r *memConnections) GetByID(ctx context.Context, id string) (*connection.Connection, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.connections[id]
	if !ok {
		return nil, connection.ErrConnectionNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memConnections) GetByExternalID(ctx context.Context, externalID string) (*connection.Connection, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, c := range r.m.connections {
		if c.ExternalID == externalID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memConnections) ListSyncable(ctx context.Context) ([]*connection.Connection, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*connection.Connection
	for _, c := range r.m.connections {
		if c.Syncable() {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

func (r *memConnections) update(id string, fn func(c *connection.Connection)) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.connections[id]
	if !ok {
		return connection.ErrConnectionNotFound
	}
	fn(c)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memConnections) UpdateCredential(ctx context.Context, id, credential string) error {
	return r.update(id, func(c *connection.Connection) {
		c.Credential = credential
		c.Status = connection.StatusActive
		c.LastError = ""
	})
}

func (r *memConnections) UpdateInstitution(ctx context.Context, id, institutionID, institutionName string) error {
	return r.update(id, func(c *connection.Connection) {
		c.InstitutionID = institutionID
		c.InstitutionName = institutionName
	})
}

func (r *memConnections) MarkSynced(ctx context.Context, id string, at time.Time) error {
	return r.update(id, func(c *connection.Connection) {
		c.LastSyncedAt = &at
		c.LastError = ""
	})
}

func (r *memConnections) SetStatus(ctx context.Context, id, status, lastError string) error {
	return r.update(id, func(c *connection.Connection) {
		c.Status = status
		c.LastError = lastError
	})
}

type memAccounts struct{ m *memStore }

var _ account.Repository = (*memAccounts)(nil)

func (r *memAccounts) Upsert(ctx context.Context, p account.UpsertParams) (*account.Account, bool, error) {
	if err := p.Validate(); err != nil {
		return nil, false, account.ErrInvalidInput
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	var existing *account.Account
	for _, acc := range r.m.accounts {
		if acc.ExternalID == p.ExternalID {
			existing = acc
			break
		}
	}
	created := existing == nil
	if created {
		existing = &account.Account{
			ID:           uuid.NewString(),
			ExternalID:   p.ExternalID,
			UserID:       p.UserID,
			ConnectionID: p.ConnectionID,
			CreatedAt:    p.SyncedAt,
		}
		r.m.accounts[existing.ID] = existing
	}
	existing.UserID = p.UserID
	existing.ConnectionID = p.ConnectionID
	existing.Name = p.Name
	existing.OfficialName = p.OfficialName
	existing.Mask = p.Mask
	existing.Type = p.Type
	existing.Subtype = p.Subtype
	existing.InstitutionID = p.InstitutionID
	existing.Currency = p.Currency
	existing.Balance = p.Balance
	existing.UpdatedAt = p.SyncedAt

	cp := *existing
	return &cp, created, nil
}

func (r *memAccounts) GetByID(ctx context.Context, id string) (*account.Account, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	acc, ok := r.m.accounts[id]
	if !ok {
		return nil, account.ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (r *memAccounts) GetByExternalID(ctx context.Context, connectionID, externalID string) (*account.Account, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, acc := range r.m.accounts {
		if acc.ConnectionID == connectionID && acc.ExternalID == externalID {
			cp := *acc
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memAccounts) ListByConnectionID(ctx context.Context, connectionID string) ([]*account.Account, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*account.Account
	for _, acc := range r.m.accounts {
		if acc.ConnectionID == connectionID {
			cp := *acc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memAccounts) DeleteCascade(ctx context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.accounts[id]; !ok {
		return account.ErrAccountNotFound
	}
	for txID, t := range r.m.transactions {
		if t.AccountID == id {
			delete(r.m.transactions, txID)
		}
	}
	delete(r.m.accounts, id)
	return nil
}

type memTombstones struct{ m *memStore }

var _ account.TombstoneRepository = (*memTombstones)(nil)

func (r *memTombstones) Create(ctx context.Context, t account.Tombstone) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := [2]string{t.ConnectionID, t.ExternalAccountID}
	if _, ok := r.m.tombstones[key]; !ok {
		r.m.tombstones[key] = t
	}
	return nil
}

func (r *memTombstones) ExternalIDsByConnection(ctx context.Context, connectionID string) (map[string]struct{}, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make(map[string]struct{})
	for key := range r.m.tombstones {
		if key[0] == connectionID {
			out[key[1]] = struct{}{}
		}
	}
	return out, nil
}

type memTransactions struct{ m *memStore }

var _ transaction.Repository = (*memTransactions)(nil)

func (r *memTransactions) Upsert(ctx context.Context, p transaction.UpsertTransactionParams) (*transaction.Transaction, bool, error) {
	if err := p.Validate(); err != nil {
		return nil, false, err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	var existing *transaction.Transaction
	for _, t := range r.m.transactions {
		if t.ExternalID == p.ExternalID {
			existing = t
			break
		}
	}
	created := existing == nil
	if created {
		existing = &transaction.Transaction{ID: uuid.NewString(), ExternalID: p.ExternalID, CreatedAt: p.SyncedAt}
		r.m.transactions[existing.ID] = existing
	}
	existing.AccountID = p.AccountID
	existing.Amount = p.Amount
	existing.Direction = transaction.DirectionFor(p.Amount)
	existing.Date = p.Date
	existing.AuthorizedDate = p.AuthorizedDate
	existing.Pending = p.Pending
	existing.MerchantName = p.MerchantName
	existing.TopCategory = p.TopCategory
	existing.CategoryHierarchy = p.CategoryHierarchy
	existing.ExternalCategoryID = p.ExternalCategoryID
	existing.Category = p.Category
	existing.Currency = p.Currency
	existing.UpdatedAt = p.SyncedAt

	cp := *existing
	return &cp, created, nil
}

func (r *memTransactions) GetByExternalID(ctx context.Context, externalID string) (*transaction.Transaction, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, t := range r.m.transactions {
		if t.ExternalID == externalID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memTransactions) ListByAccountID(ctx context.Context, accountID string) ([]*transaction.Transaction, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*transaction.Transaction
	for _, t := range r.m.transactions {
		if t.AccountID == accountID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

type memCategories struct{ m *memStore }

var _ transaction.CategoryRepository = (*memCategories)(nil)

func (r *memCategories) Map(ctx context.Context) (transaction.CategoryMap, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make(transaction.CategoryMap, len(r.m.categories))
	for k, v := range r.m.categories {
		out[k] = v
	}
	return out, nil
}

func (r *memCategories) Upsert(ctx context.Context, key, category string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.categories[key] = category
	return nil
}
