package apperrors

import (
	"errors"
	"fmt"
)

// Kind groups service errors the way transports care about them.
// Handlers map kinds to HTTP statuses; services pick the kind once, here.
type Kind int

const (
	KindFailure Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindUnauthorized
)

// Error is a service error with a stable machine-readable code and a safe
// human description. Nothing else (stack traces, SQL, internal ids) is
// allowed to cross the service boundary.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func New(kind Kind, code string, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// KindOf walks the wrap chain and returns the kind of the first *Error.
// Unknown errors are reported as KindFailure.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindFailure
}

// CodeOf returns the stable code of the first *Error in the chain,
// or "internal" for anything unrecognized.
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "internal"
}

// Failure wraps an unexpected collaborator error into a KindFailure error
// with a generic description, keeping the cause on the chain for logs.
func Failure(err error) error {
	return fmt.Errorf("%w: %w", ErrInternal, err)
}

var (
	ErrInternal = New(KindFailure, "internal", "internal error")

	// Registration.
	ErrEmailAlreadyRegistered    = New(KindConflict, "user.email_already_registered", "email is already registered")
	ErrUsernameAlreadyRegistered = New(KindConflict, "user.username_already_registered", "username is already registered")
	ErrConfirmationNotFound      = New(KindNotFound, "registration.confirmation_not_found", "invalid or expired confirmation")
	ErrConfirmationCodeMismatch  = New(KindValidation, "registration.invalid_code", "invalid confirmation code")
	ErrConfirmationTTLInvalid    = New(KindValidation, "registration.ttl_invalid", "confirmation lifetime exceeds the allowed maximum")
	ErrMailSendFailed            = New(KindFailure, "mail.send_failed", "failed to send confirmation email")
	ErrAvatarUploadFailed        = New(KindFailure, "user.avatar_upload_failed", "failed to upload the user image")

	// Login. Unknown email and wrong password are deliberately the same
	// error so callers can't enumerate accounts.
	ErrInvalidCredentials = New(KindUnauthorized, "auth.invalid_credentials", "the email or password is incorrect")
	ErrUserLockedOut      = New(KindUnauthorized, "auth.user_locked_out", "account is locked due to multiple failed logins")
	ErrUserNotFound       = New(KindNotFound, "user.not_found", "user not found")

	// Refresh token lifecycle.
	ErrInvalidToken         = New(KindValidation, "token.invalid", "invalid token")
	ErrRefreshTokenNotFound = New(KindNotFound, "token.refresh_not_found", "refresh token not found")
	ErrInactiveToken        = New(KindValidation, "token.inactive", "inactive token")
	ErrTokenBindingMismatch = New(KindUnauthorized, "token.binding_mismatch", "unauthorized, please login again")
	ErrAccessTokenInvalid   = New(KindUnauthorized, "token.access_invalid", "invalid access token")
)
