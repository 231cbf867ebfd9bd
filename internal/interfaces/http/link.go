package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"flowly/internal/domain/connection"
	"flowly/internal/shared/logger"
)

// LinkService creates link tokens and exchanges public tokens.
type LinkService interface {
	CreateLinkToken(ctx context.Context, userID string) (string, error)
	Exchange(ctx context.Context, publicToken, userID string) (*connection.Connection, bool, error)
}

type LinkHandler struct {
	linker LinkService
}

func NewLinkHandler(linker LinkService) *LinkHandler {
	return &LinkHandler{linker: linker}
}

type LinkTokenRequest struct {
	UserID string `json:"userId"`
}

type LinkTokenResponse struct {
	LinkToken string `json:"linkToken"`
}

type ExchangeRequest struct {
	PublicToken string `json:"publicToken"`
	UserID      string `json:"userId"`
}

type ExchangeResponse struct {
	Connection *connection.Connection `json:"connection"`
	Relinked   bool                   `json:"relinked"`
}

func (h *LinkHandler) HandleCreateLinkToken(w http.ResponseWriter, r *http.Request) {
	var req LinkTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.linker.CreateLinkToken(r.Context(), req.UserID)
	if err != nil {
		h.fail(w, r, err, "Failed to create link token")
		return
	}

	writeJSON(w, r, http.StatusOK, LinkTokenResponse{LinkToken: token})
}

// HandleExchange stores the connection for a completed link flow. A new
// connection answers 201, a re-link of an existing one answers 200.
func (h *LinkHandler) HandleExchange(w http.ResponseWriter, r *http.Request) {
	var req ExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	conn, relinked, err := h.linker.Exchange(r.Context(), req.PublicToken, req.UserID)
	if err != nil {
		h.fail(w, r, err, "Failed to link connection")
		return
	}

	status := http.StatusCreated
	if relinked {
		status = http.StatusOK
	}
	writeJSON(w, r, status, ExchangeResponse{Connection: conn, Relinked: relinked})
}

func (h *LinkHandler) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, connection.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, connection.ErrConnectionConflict):
		writeError(w, r, http.StatusConflict, "Institution already linked by another user")
		return
	}
	if status, text, ok := aggregatorStatus(err); ok {
		writeError(w, r, status, text)
		return
	}
	log := logger.FromContext(r.Context())
	log.Error().Err(err).Msg(msg)
	writeError(w, r, http.StatusInternalServerError, msg)
}
