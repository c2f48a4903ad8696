package services

import (
	"errors"

	"github.com/charlesng35/idcore/internal/auth"
	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/store"
	apperrors "github.com/charlesng35/idcore/pkg/errors"
)

// fromStoreError maps record store failures onto the domain error taxonomy. Backend failures
// never surface as NotFound.
func fromStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return apperrors.ErrNotFound.WithInternal(err)
	case errors.Is(err, store.ErrConflict):
		return apperrors.ErrConflict.WithInternal(err)
	default:
		return apperrors.ErrStorageFailure.WithInternal(err)
	}
}

// fromSessionError maps refresh session failures. Every refusal is ErrUnauthorized so adapters
// can still tell the cause apart with errors.Is.
func fromSessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrRefreshTokenReused),
		errors.Is(err, auth.ErrSessionRevoked),
		errors.Is(err, auth.ErrSessionExpired),
		errors.Is(err, auth.ErrSessionNotFound),
		errors.Is(err, auth.ErrSessionInvalidToken):
		return apperrors.ErrUnauthorized.WithInternal(err)
	case errors.Is(err, store.ErrStorage):
		return apperrors.ErrStorageFailure.WithInternal(err)
	default:
		return apperrors.ErrInternalServer.WithInternal(err)
	}
}

// asAppError returns err unchanged when it already belongs to the taxonomy.
func asAppError(err error) (*apperrors.AppError, bool) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// contactIndex names the unique user index holding addresses of kind.
func contactIndex(kind models.ContactKind) string {
	if kind == models.ContactPhone {
		return store.IndexPhone
	}
	return store.IndexEmail
}
