package middleware

import (
	"errors"
	"net/http"

	"github.com/dvloznov/donation-tracker/internal/apperr"
)

// StatusFor maps an error kind to the HTTP status a client sees.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUniqueness:
		return http.StatusConflict
	case apperr.KindProviderFailure:
		return http.StatusBadGateway
	case apperr.KindDecodeFailure, apperr.KindInvalidArgument:
		return http.StatusBadRequest
	case apperr.KindTransactionNotRequested:
		return http.StatusUnprocessableEntity
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// WriteAppError writes err with its mapped status. Only the message of the classified
// error is returned; wrapped causes stay in the logs.
func WriteAppError(w http.ResponseWriter, err error) {
	status := StatusFor(err)

	message := "Internal server error"
	var e *apperr.Error
	if status != http.StatusInternalServerError && errors.As(err, &e) {
		message = e.Message
	}

	WriteJSON(w, status, map[string]string{
		"error": message,
		"kind":  string(apperr.KindOf(err)),
	})
}
