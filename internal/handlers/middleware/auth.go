package middleware

import (
	"context"
	"net/http"

	"github.com/nstepanov/usermgmt/internal/handlers/render"
	"github.com/nstepanov/usermgmt/internal/handlers/userctx"
	"github.com/nstepanov/usermgmt/internal/models"
)

type authenticator interface {
	UserFromRequest(ctx context.Context, r *http.Request) (models.User, error)
}

// AuthMiddleware authenticates the request by its bearer access token and
// stores the user in the request context.
func AuthMiddleware(a authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := a.UserFromRequest(r.Context(), r)
			if err != nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := userctx.New(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
