package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nstepanov/usermgmt/internal/handlers/render"
	"github.com/nstepanov/usermgmt/internal/handlers/userctx"
	"github.com/nstepanov/usermgmt/internal/logger"
	"github.com/nstepanov/usermgmt/internal/models"
	"github.com/nstepanov/usermgmt/internal/service/auth"
)

// Avatar uploads are part of the register form; cap the parse buffer.
const maxRegisterFormMemory = 8 << 20

type authService interface {
	// Stage a registration and email the confirmation code
	Register(ctx context.Context, req auth.RegisterRequest) (uuid.UUID, error)

	// Redeem the confirmation code and create the durable user
	Confirm(ctx context.Context, handle string, code string, binding models.Binding) (models.AuthSession, error)

	// Authenticate by email and password
	Login(ctx context.Context, email string, password string, binding models.Binding) (models.AuthSession, error)

	// Rotate the presented refresh token
	RefreshSession(ctx context.Context, token string, binding models.Binding) (models.AuthSession, error)

	// Mark the presented refresh token permanently inactive
	RevokeToken(ctx context.Context, token string) error

	// Verify the current password and store a new one
	ChangePassword(ctx context.Context, userID uuid.UUID, current string, next string) error

	// Cookie and header plumbing
	SetRefreshCookie(w http.ResponseWriter, session models.AuthSession)
	RefreshFromRequest(r *http.Request, bodyToken string) (string, error)

	// Authenticate the request by its bearer access token
	UserFromRequest(ctx context.Context, r *http.Request) (models.User, error)
}

type AuthHandler struct {
	service authService
	log     logger.Logger
}

func NewAuth(service authService, log logger.Logger) *AuthHandler {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &AuthHandler{service: service, log: log}
}

type sessionResponse struct {
	IsAuthenticated  bool      `json:"is_authenticated"`
	Username         string    `json:"username"`
	Email            string    `json:"email"`
	Roles            []string  `json:"roles"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func newSessionResponse(s models.AuthSession) sessionResponse {
	return sessionResponse{
		IsAuthenticated:  s.IsAuthenticated,
		Username:         s.Username,
		Email:            s.Email,
		Roles:            s.Roles,
		AccessToken:      s.AccessToken,
		AccessExpiresAt:  s.AccessExpiresAt,
		RefreshToken:     s.RefreshToken,
		RefreshExpiresAt: s.RefreshExpiresAt,
	}
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request) {
	type RegisterRequest struct {
		Email     string `json:"email" validate:"required,email"`
		Username  string `json:"username" validate:"required,min=2,max=50"`
		FirstName string `json:"first_name" validate:"max=100"`
		LastName  string `json:"last_name" validate:"max=100"`
		Password  string `json:"password" validate:"required,min=8"`
	}
	type RegisterSuccessResponse struct {
		RegistrationID string `json:"registration_id"`
		Message        string `json:"message"`
	}

	var data RegisterRequest
	var avatar *auth.AvatarFile

	// The register form arrives either as JSON or, when an avatar file
	// rides along, as multipart/form-data.
	if isMultipart(r) {
		if err := r.ParseMultipartForm(maxRegisterFormMemory); err != nil {
			render.DecodeError(w, err)
			return
		}

		data = RegisterRequest{
			Email:     r.FormValue("email"),
			Username:  r.FormValue("username"),
			FirstName: r.FormValue("first_name"),
			LastName:  r.FormValue("last_name"),
			Password:  r.FormValue("password"),
		}
		if err := render.Validate(w, data); err != nil {
			return
		}

		file, header, err := r.FormFile("avatar")
		switch {
		case err == nil:
			defer file.Close() // nolint:errcheck
			avatar = &auth.AvatarFile{
				Filename:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Size:        header.Size,
				Body:        file,
			}
		case errors.Is(err, http.ErrMissingFile):
			// No avatar, nothing to upload.
		default:
			render.DecodeError(w, err)
			return
		}
	} else {
		decoded, err := render.BindAndValidate[RegisterRequest](w, r)
		if err != nil {
			return
		}
		data = decoded
	}

	handle, err := h.service.Register(r.Context(), auth.RegisterRequest{
		Email:     data.Email,
		Username:  data.Username,
		FirstName: data.FirstName,
		LastName:  data.LastName,
		Password:  data.Password,
		Avatar:    avatar,
	})
	if err != nil {
		h.log.Warn("registration failed", "error", err.Error())
		appError(w, err)
		return
	}

	render.JSON(w, RegisterSuccessResponse{
		RegistrationID: handle.String(),
		Message:        "Confirmation code sent, please confirm your registration",
	})
}

func (h *AuthHandler) confirm(w http.ResponseWriter, r *http.Request) {
	type ConfirmRequest struct {
		RegistrationID string `json:"registration_id" validate:"required,uuid"`
		Code           string `json:"code" validate:"required,len=6"`
		DeviceID       string `json:"device_id"`
		IP             string `json:"ip"`
	}

	data, err := render.BindAndValidate[ConfirmRequest](w, r)
	if err != nil {
		return
	}

	binding := auth.BindingFromRequest(r, data.DeviceID, data.IP)
	session, err := h.service.Confirm(r.Context(), data.RegistrationID, data.Code, binding)
	if err != nil {
		h.log.Warn("confirmation failed", "error", err.Error())
		appError(w, err)
		return
	}

	h.service.SetRefreshCookie(w, session)
	render.JSON(w, newSessionResponse(session))
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	type LoginRequest struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
		DeviceID string `json:"device_id"`
		IP       string `json:"ip"`
	}

	data, err := render.BindAndValidate[LoginRequest](w, r)
	if err != nil {
		return
	}

	binding := auth.BindingFromRequest(r, data.DeviceID, data.IP)
	session, err := h.service.Login(r.Context(), data.Email, data.Password, binding)
	if err != nil {
		h.log.Warn("login failed", "error", err.Error())
		appError(w, err)
		return
	}

	h.service.SetRefreshCookie(w, session)
	render.JSON(w, newSessionResponse(session))
}

func (h *AuthHandler) refresh(w http.ResponseWriter, r *http.Request) {
	type RefreshRequest struct {
		RefreshToken string `json:"refresh_token"`
		DeviceID     string `json:"device_id"`
		IP           string `json:"ip"`
	}

	// The token may come via cookie with an empty body, so the body is
	// optional here.
	data, err := decodeOptional[RefreshRequest](r)
	if err != nil {
		render.DecodeError(w, err)
		return
	}

	token, err := h.service.RefreshFromRequest(r, data.RefreshToken)
	if err != nil {
		appError(w, err)
		return
	}

	binding := auth.BindingFromRequest(r, data.DeviceID, data.IP)
	session, err := h.service.RefreshSession(r.Context(), token, binding)
	if err != nil {
		h.log.Warn("token refresh failed", "error", err.Error())
		appError(w, err)
		return
	}

	h.service.SetRefreshCookie(w, session)
	render.JSON(w, newSessionResponse(session))
}

func (h *AuthHandler) revoke(w http.ResponseWriter, r *http.Request) {
	type RevokeRequest struct {
		RefreshToken string `json:"refresh_token"`
	}
	type RevokeSuccessResponse struct {
		Message string `json:"message"`
	}

	data, err := decodeOptional[RevokeRequest](r)
	if err != nil {
		render.DecodeError(w, err)
		return
	}

	token, err := h.service.RefreshFromRequest(r, data.RefreshToken)
	if err != nil {
		appError(w, err)
		return
	}

	if err := h.service.RevokeToken(r.Context(), token); err != nil {
		h.log.Warn("token revoke failed", "error", err.Error())
		appError(w, err)
		return
	}

	render.JSON(w, RevokeSuccessResponse{Message: "Token revoked successfully"})
}

func handleUserMe() http.Handler {
	type MeResponse struct {
		ID        string `json:"id"`
		Username  string `json:"username"`
		Email     string `json:"email"`
		FirstName string `json:"first_name,omitempty"`
		LastName  string `json:"last_name,omitempty"`
		AvatarURL string `json:"avatar_url,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		render.JSON(w, MeResponse{
			ID:        user.ID.String(),
			Username:  user.Username,
			Email:     user.Email,
			FirstName: user.FirstName,
			LastName:  user.LastName,
			AvatarURL: user.AvatarURL,
		})
	})
}

func (h *AuthHandler) changePassword(w http.ResponseWriter, r *http.Request) {
	type ChangePasswordRequest struct {
		CurrentPassword string `json:"current_password" validate:"required"`
		NewPassword     string `json:"new_password" validate:"required,min=8"`
	}
	type ChangePasswordSuccessResponse struct {
		Message string `json:"message"`
	}

	user, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	data, err := render.BindAndValidate[ChangePasswordRequest](w, r)
	if err != nil {
		return
	}

	if err := h.service.ChangePassword(r.Context(), user.ID, data.CurrentPassword, data.NewPassword); err != nil {
		h.log.Warn("password change failed", "username", user.Username, "error", err.Error())
		appError(w, err)
		return
	}

	render.JSON(w, ChangePasswordSuccessResponse{Message: "Password changed successfully"})
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/")
}

// decodeOptional decodes the body into T, treating an empty body as the
// zero value.
func decodeOptional[T any](r *http.Request) (T, error) {
	var value T

	err := json.NewDecoder(r.Body).Decode(&value)
	if err != nil && !errors.Is(err, io.EOF) {
		return value, err
	}

	return value, nil
}
