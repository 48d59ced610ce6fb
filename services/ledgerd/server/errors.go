package server

import (
	"errors"
	"net/http"

	"nhbledger/native/common"
	"nhbledger/native/ledger"
)

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ledger.ErrDoesNotExist):
		return http.StatusNotFound
	case errors.Is(err, common.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrPositionAtRisk):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrAlreadyExists),
		errors.Is(err, ledger.ErrNotEmpty),
		errors.Is(err, ledger.ErrReentrantCycle),
		errors.Is(err, ledger.ErrRestrictedExecutionContext),
		errors.Is(err, ledger.ErrAlreadyContainsItem),
		errors.Is(err, ledger.ErrDoesNotContainItem),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrAmountNotReceived):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
