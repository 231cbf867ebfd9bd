package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"flowly/internal/domain/banksync"
	"flowly/internal/domain/connection"
	"flowly/internal/shared/logger"
)

// ConnectionSyncer syncs a single connection.
type ConnectionSyncer interface {
	SyncConnection(ctx context.Context, connectionID string) (*banksync.ConnectionResult, error)
}

// PassTrigger starts a full pass in the background.
type PassTrigger interface {
	TriggerNow() bool
}

type SyncHandler struct {
	syncer  ConnectionSyncer
	trigger PassTrigger
}

func NewSyncHandler(syncer ConnectionSyncer, trigger PassTrigger) *SyncHandler {
	return &SyncHandler{syncer: syncer, trigger: trigger}
}

type triggerResponse struct {
	Status string `json:"status"`
}

// HandleTriggerPass starts a full pass and returns without waiting for it.
func (h *SyncHandler) HandleTriggerPass(w http.ResponseWriter, r *http.Request) {
	if !h.trigger.TriggerNow() {
		writeError(w, r, http.StatusConflict, "A sync pass is already running or the scheduler is stopped")
		return
	}
	writeJSON(w, r, http.StatusAccepted, triggerResponse{Status: "started"})
}

// HandleSyncConnection syncs one connection and returns its result.
func (h *SyncHandler) HandleSyncConnection(w http.ResponseWriter, r *http.Request) {
	connectionID := mux.Vars(r)["id"]
	log := logger.FromContext(r.Context()).With().Str("connection_id", connectionID).Logger()

	result, err := h.syncer.SyncConnection(r.Context(), connectionID)
	if err == nil {
		writeJSON(w, r, http.StatusOK, result)
		return
	}

	switch {
	case errors.Is(err, connection.ErrConnectionNotFound):
		writeError(w, r, http.StatusNotFound, "Connection not found")
		return
	case errors.Is(err, banksync.ErrConnectionNotSyncable):
		writeError(w, r, http.StatusConflict, "Connection requires re-linking")
		return
	}

	status, _, ok := aggregatorStatus(err)
	if ok {
		log.Warn().Err(err).Msg("connection sync failed")
	} else {
		status = http.StatusInternalServerError
		log.Error().Err(err).Msg("connection sync failed")
	}
	if result == nil {
		writeError(w, r, status, "Failed to sync connection")
		return
	}
	writeJSON(w, r, status, result)
}
