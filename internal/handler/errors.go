package handler

import (
	"errors"
	"net/http"

	pkgerrors "github.com/honeynil/MoneyMitra/pkg/errors"
)

var errInternal = errors.New("internal server error")

// statusFor maps a service error to an HTTP status and the message shown to
// the client. Infrastructure details never reach the response body.
func statusFor(err error) (int, error) {
	switch {
	case errors.Is(err, pkgerrors.ErrCompensationFailure):
		return http.StatusInternalServerError, pkgerrors.ErrCompensationFailure
	case errors.Is(err, pkgerrors.ErrUnauthorized):
		return http.StatusUnauthorized, err
	case errors.Is(err, pkgerrors.ErrProfileNotFound),
		errors.Is(err, pkgerrors.ErrReceiverNotFound):
		return http.StatusNotFound, err
	case errors.Is(err, pkgerrors.ErrInvalidAmount),
		errors.Is(err, pkgerrors.ErrInvalidCategory),
		errors.Is(err, pkgerrors.ErrInvalidPhone),
		errors.Is(err, pkgerrors.ErrInvalidInput),
		errors.Is(err, pkgerrors.ErrSelfTransfer):
		return http.StatusBadRequest, err
	case errors.Is(err, pkgerrors.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, err
	case errors.Is(err, pkgerrors.ErrConflict),
		errors.Is(err, pkgerrors.ErrPhoneTaken),
		errors.Is(err, pkgerrors.ErrProfileExists),
		errors.Is(err, pkgerrors.ErrRequestInProgress):
		return http.StatusConflict, err
	case errors.Is(err, pkgerrors.ErrPersistence):
		return http.StatusServiceUnavailable, pkgerrors.ErrPersistence
	case errors.Is(err, pkgerrors.ErrAdviceUnavailable):
		return http.StatusBadGateway, pkgerrors.ErrAdviceUnavailable
	default:
		return http.StatusInternalServerError, errInternal
	}
}
