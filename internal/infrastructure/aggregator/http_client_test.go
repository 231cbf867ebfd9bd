package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(HTTPConfig{ClientID: "cid", Secret: "sec", BaseURL: srv.URL})
	require.NoError(t, err)
	return c
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestNewHTTPClient_UnknownEnvironment(t *testing.T) {
	_, err := NewHTTPClient(HTTPConfig{Environment: "staging"})
	assert.Error(t, err)
}

func TestListAccounts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/get", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, "cid", body["client_id"])
		assert.Equal(t, "sec", body["secret"])
		assert.Equal(t, "access-1", body["access_token"])

		w.Write([]byte(`{
			"accounts": [
				{"account_id": "a1", "name": "Checking", "official_name": "Gold Checking", "mask": "0000",
				 "type": "depository", "subtype": "checking",
				 "balances": {"available": 100.5, "current": 110.25, "iso_currency_code": "USD"}},
				{"account_id": "a2", "name": "Card", "official_name": null, "mask": null,
				 "type": "credit", "subtype": null,
				 "balances": {"available": 42, "current": null, "iso_currency_code": null, "unofficial_currency_code": "BTC"}},
				{"account_id": "a3", "name": "Empty", "type": "other",
				 "balances": {"available": null, "current": null}}
			],
			"item": {"item_id": "item-1", "institution_id": "ins_1"}
		}`))
	})

	accounts, err := c.ListAccounts(context.Background(), "access-1")
	require.NoError(t, err)
	require.Len(t, accounts, 3)

	assert.Equal(t, "a1", accounts[0].ExternalID)
	assert.Equal(t, "Gold Checking", accounts[0].OfficialName)
	assert.Equal(t, "ins_1", accounts[0].InstitutionID)
	assert.Equal(t, "USD", accounts[0].Currency)
	assert.True(t, decimal.RequireFromString("110.25").Equal(accounts[0].Balance), "current balance wins")

	assert.Equal(t, "", accounts[1].OfficialName)
	assert.Equal(t, "BTC", accounts[1].Currency)
	assert.True(t, decimal.NewFromInt(42).Equal(accounts[1].Balance), "falls back to available")

	assert.True(t, accounts[2].Balance.IsZero())
}

func TestListTransactions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/get", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, "2025-01-01", body["start_date"])
		assert.Equal(t, "2025-03-31", body["end_date"])
		opts := body["options"].(map[string]any)
		assert.EqualValues(t, 100, opts["count"])
		assert.EqualValues(t, 200, opts["offset"])

		w.Write([]byte(`{
			"transactions": [
				{"transaction_id": "t1", "account_id": "a1", "amount": 12.34, "iso_currency_code": "USD",
				 "date": "2025-03-02", "authorized_date": "2025-03-01", "pending": true,
				 "merchant_name": null, "name": "UBER TRIP",
				 "category": ["Travel", "Taxi"], "category_id": "22016000"},
				{"transaction_id": "t2", "account_id": "a1", "amount": -50, "iso_currency_code": "USD",
				 "date": "2025-03-03", "authorized_date": null, "pending": false,
				 "merchant_name": "Payroll Inc", "name": "PAYROLL",
				 "category": null, "category_id": null,
				 "personal_finance_category": {"primary": "INCOME", "detailed": "INCOME_WAGES"}}
			],
			"total_transactions": 202
		}`))
	})

	txs, err := c.ListTransactions(context.Background(), "access-1", TransactionQuery{
		StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		Count:     100,
		Offset:    200,
	})
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, "UBER TRIP", txs[0].MerchantName, "falls back to name")
	assert.Equal(t, "Travel", txs[0].TopCategory)
	assert.Equal(t, []string{"Travel", "Taxi"}, txs[0].CategoryHierarchy)
	assert.Equal(t, "22016000", txs[0].CategoryID)
	require.NotNil(t, txs[0].AuthorizedDate)
	assert.Equal(t, 1, txs[0].AuthorizedDate.Day())
	assert.True(t, txs[0].Pending)

	assert.Equal(t, "Payroll Inc", txs[1].MerchantName)
	assert.Equal(t, "INCOME", txs[1].TopCategory)
	assert.Equal(t, []string{"INCOME", "INCOME_WAGES"}, txs[1].CategoryHierarchy)
	assert.Nil(t, txs[1].AuthorizedDate)
	assert.True(t, decimal.NewFromInt(-50).Equal(txs[1].Amount))
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"login required", http.StatusBadRequest, `{"error_type":"ITEM_ERROR","error_code":"ITEM_LOGIN_REQUIRED","error_message":"login"}`, ErrAuth},
		{"invalid token", http.StatusBadRequest, `{"error_type":"INVALID_INPUT","error_code":"INVALID_ACCESS_TOKEN"}`, ErrAuth},
		{"rate limited", http.StatusTooManyRequests, `{"error_type":"RATE_LIMIT_EXCEEDED","error_code":"TRANSACTIONS_LIMIT"}`, ErrUnavailable},
		{"server error", http.StatusInternalServerError, `oops`, ErrUnavailable},
		{"institution down", http.StatusBadRequest, `{"error_type":"INSTITUTION_ERROR","error_code":"INSTITUTION_DOWN"}`, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.ListAccounts(context.Background(), "access-1")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var apiErr *APIError
			assert.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
		})
	}
}

func TestInvalidRequestIsNeitherAuthNorUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error_type":"INVALID_REQUEST","error_code":"MISSING_FIELDS"}`))
	})

	_, err := c.ListAccounts(context.Background(), "access-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAuth)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestNetworkFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewHTTPClient(HTTPConfig{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.GetItem(context.Background(), "access-1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestExchangeAndLookups(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		switch r.URL.Path {
		case "/item/public_token/exchange":
			assert.Equal(t, "public-1", body["public_token"])
			w.Write([]byte(`{"access_token":"access-9","item_id":"item-9"}`))
		case "/item/get":
			w.Write([]byte(`{"item":{"item_id":"item-9","institution_id":"ins_9"}}`))
		case "/institutions/get_by_id":
			assert.Equal(t, "ins_9", body["institution_id"])
			w.Write([]byte(`{"institution":{"institution_id":"ins_9","name":"First Bank"}}`))
		case "/link/token/create":
			user := body["user"].(map[string]any)
			assert.Equal(t, "user-1", user["client_user_id"])
			w.Write([]byte(`{"link_token":"link-abc"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	ctx := context.Background()

	ex, err := c.ExchangePublicToken(ctx, "public-1")
	require.NoError(t, err)
	assert.Equal(t, &Exchange{Credential: "access-9", ExternalConnectionID: "item-9"}, ex)

	item, err := c.GetItem(ctx, "access-9")
	require.NoError(t, err)
	assert.Equal(t, "ins_9", item.InstitutionID)

	inst, err := c.GetInstitution(ctx, "ins_9")
	require.NoError(t, err)
	assert.Equal(t, "First Bank", inst.Name)

	token, err := c.CreateLinkToken(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "link-abc", token)
}
