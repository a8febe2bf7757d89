package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/nstepanov/usermgmt/internal/apperrors"
	"github.com/nstepanov/usermgmt/internal/models"
)

const (
	accessHeaderName  = "Authorization"
	accessAuthScheme  = "Bearer"
	refreshCookieName = "refreshToken"
)

// SetRefreshCookie mirrors the session's refresh token into an HTTP-only
// cookie so browser clients don't have to hold it in script-visible state.
func (s *AuthService) SetRefreshCookie(w http.ResponseWriter, session models.AuthSession) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    session.RefreshToken,
		Expires:  session.RefreshExpiresAt,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// RefreshFromRequest returns the refresh token: the request body value
// wins, the cookie is the fallback.
func (s *AuthService) RefreshFromRequest(r *http.Request, bodyToken string) (string, error) {
	if bodyToken != "" {
		return bodyToken, nil
	}

	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		return "", fmt.Errorf("refresh token: %w", apperrors.ErrRefreshTokenNotFound)
	}

	return cookie.Value, nil
}

// UserFromRequest authenticates the request by its bearer access token
// and loads the user. Used by the auth middleware.
func (s *AuthService) UserFromRequest(ctx context.Context, r *http.Request) (models.User, error) {
	var user models.User

	header := r.Header.Get(accessHeaderName)
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, accessAuthScheme) || token == "" {
		return user, fmt.Errorf("auth header: %w", apperrors.ErrAccessTokenInvalid)
	}

	claims, err := s.tokens.ParseAccess(token)
	if err != nil {
		return user, err
	}

	user, err = s.storage.User().GetUserByID(ctx, claims.UserID)
	if err != nil {
		return user, fmt.Errorf("auth user: %w", err)
	}

	return user, nil
}

// BindingFromRequest extracts the client binding presented with the
// request: the device id comes from a header, the IP from the peer
// address unless explicitly given.
func BindingFromRequest(r *http.Request, device string, ip string) models.Binding {
	if device == "" {
		device = r.Header.Get("X-Device-Id")
	}
	if ip == "" {
		ip = r.RemoteAddr
		if host, _, found := strings.Cut(ip, ":"); found {
			ip = host
		}
	}
	return models.Binding{Device: device, IP: ip}
}
