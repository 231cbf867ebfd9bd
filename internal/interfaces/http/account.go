package http

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"flowly/internal/domain/account"
	"flowly/internal/shared/logger"
)

type AccountHandler struct {
	accountService *account.Service
}

func NewAccountHandler(accountService *account.Service) *AccountHandler {
	return &AccountHandler{accountService: accountService}
}

// HandleUnlinkAccount removes an account the user no longer wants mirrored.
// The account is tombstoned so later syncs do not bring it back.
func (h *AccountHandler) HandleUnlinkAccount(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, accountID := vars["userId"], vars["accountId"]

	log := logger.FromContext(r.Context()).With().Str("user_id", userID).Str("account_id", accountID).Logger()

	if _, err := h.accountService.UnlinkAccount(r.Context(), accountID, userID); err != nil {
		switch {
		case errors.Is(err, account.ErrAccountNotFound):
			writeError(w, r, http.StatusNotFound, "Account not found")
		case errors.Is(err, account.ErrForbidden):
			writeError(w, r, http.StatusForbidden, "Forbidden")
		case errors.Is(err, account.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, err.Error())
		default:
			log.Error().Err(err).Msg("failed to unlink account")
			writeError(w, r, http.StatusInternalServerError, "Failed to unlink account")
		}
		return
	}

	log.Info().Msg("account unlinked")
	w.WriteHeader(http.StatusNoContent)
}
