package handlers

import (
	"errors"
	"net/http"

	"github.com/nstepanov/usermgmt/internal/apperrors"
	"github.com/nstepanov/usermgmt/internal/handlers/render"
)

// appError maps a service error kind to an HTTP status and renders the
// stable code + description. Anything unrecognized is a plain 500 so no
// internals leak to the caller.
func appError(w http.ResponseWriter, err error) {
	var status int

	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		status = http.StatusBadRequest
	case apperrors.KindConflict:
		status = http.StatusConflict
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindUnauthorized:
		status = http.StatusUnauthorized
	default:
		status = http.StatusInternalServerError
	}

	message := "internal error"
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	render.AppError(w, apperrors.CodeOf(err), message, status)
}
