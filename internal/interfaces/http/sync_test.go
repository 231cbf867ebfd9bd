package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowly/internal/domain/banksync"
	"flowly/internal/domain/connection"
	"flowly/internal/infrastructure/aggregator"
)

type MockSyncer struct {
	SyncConnectionFunc func(ctx context.Context, connectionID string) (*banksync.ConnectionResult, error)
}

func (m *MockSyncer) SyncConnection(ctx context.Context, connectionID string) (*banksync.ConnectionResult, error) {
	return m.SyncConnectionFunc(ctx, connectionID)
}

type fakeTrigger struct {
	accept bool
	calls  int
}

func (f *fakeTrigger) TriggerNow() bool {
	f.calls++
	return f.accept
}

func TestHandleTriggerPass(t *testing.T) {
	tests := []struct {
		name           string
		accept         bool
		expectedStatus int
	}{
		{"started", true, http.StatusAccepted},
		{"already running", false, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger := &fakeTrigger{accept: tt.accept}
			handler := NewSyncHandler(&MockSyncer{}, trigger)

			rr := httptest.NewRecorder()
			handler.HandleTriggerPass(rr, httptest.NewRequest(http.MethodPost, "/api/sync", nil))

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, 1, trigger.calls)
		})
	}
}

func TestHandleSyncConnection(t *testing.T) {
	partial := &banksync.ConnectionResult{ConnectionID: "conn-1", Error: "boom"}

	tests := []struct {
		name           string
		result         *banksync.ConnectionResult
		err            error
		expectedStatus int
		wantResult     bool
	}{
		{
			name: "success",
			result: &banksync.ConnectionResult{
				ConnectionID: "conn-1",
				Accounts:     &banksync.AccountSyncResult{ConnectionID: "conn-1", Created: 2, Errors: []string{}},
			},
			expectedStatus: http.StatusOK,
			wantResult:     true,
		},
		{
			name:           "unknown connection",
			result:         &banksync.ConnectionResult{ConnectionID: "conn-1"},
			err:            fmt.Errorf("failed to load connection: %w", connection.ErrConnectionNotFound),
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "needs re-link",
			result:         &banksync.ConnectionResult{ConnectionID: "conn-1"},
			err:            fmt.Errorf("connection conn-1 (login_required): %w", banksync.ErrConnectionNotSyncable),
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "aggregator down",
			result:         partial,
			err:            fmt.Errorf("failed to list accounts: %w", aggregator.ErrUnavailable),
			expectedStatus: http.StatusBadGateway,
			wantResult:     true,
		},
		{
			name:           "credential rejected",
			result:         partial,
			err:            &aggregator.APIError{StatusCode: 400, Type: "ITEM_ERROR", Code: "ITEM_LOGIN_REQUIRED"},
			expectedStatus: http.StatusUnprocessableEntity,
			wantResult:     true,
		},
		{
			name:           "storage failure",
			result:         partial,
			err:            errors.New("db down"),
			expectedStatus: http.StatusInternalServerError,
			wantResult:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotID string
			syncer := &MockSyncer{SyncConnectionFunc: func(ctx context.Context, id string) (*banksync.ConnectionResult, error) {
				gotID = id
				return tt.result, tt.err
			}}
			handler := NewSyncHandler(syncer, &fakeTrigger{})

			req := httptest.NewRequest(http.MethodPost, "/api/connections/conn-1/sync", nil)
			req = mux.SetURLVars(req, map[string]string{"id": "conn-1"})
			rr := httptest.NewRecorder()

			handler.HandleSyncConnection(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, "conn-1", gotID)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			if tt.wantResult {
				var body banksync.ConnectionResult
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
				assert.Equal(t, "conn-1", body.ConnectionID)
				assert.Equal(t, tt.result.Error, body.Error)
			} else {
				var body errorResponse
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
				assert.NotEmpty(t, body.Error)
			}
		})
	}
}
