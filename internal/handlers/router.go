package handlers

import (
	"net/http"

	"github.com/nstepanov/usermgmt/internal/handlers/middleware"
	"github.com/nstepanov/usermgmt/internal/logger"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(service authService, log logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	auth := NewAuth(service, log)
	withAuth := middleware.AuthMiddleware(service)

	apiauth := http.NewServeMux()

	apiauth.HandleFunc("POST /register", auth.register)
	apiauth.HandleFunc("POST /confirm", auth.confirm)
	apiauth.HandleFunc("POST /login", auth.login)
	apiauth.HandleFunc("POST /refresh", auth.refresh)
	apiauth.HandleFunc("POST /revoke", auth.revoke)

	apiauth.Handle("GET /me", withAuth(handleUserMe()))
	apiauth.Handle("POST /password", withAuth(http.HandlerFunc(auth.changePassword)))

	root := http.NewServeMux()
	root.Handle("/api/auth/", http.StripPrefix("/api/auth", apiauth))

	handler := chain(root,
		middleware.LoggerMiddleware(log),
	)

	return handler
}
