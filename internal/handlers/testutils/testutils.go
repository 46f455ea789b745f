package testutils

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"stonebeam/internal/auth"
	"stonebeam/models"
)

// WithChiURLParams подставляет параметры пути в контекст chi запроса для тестов.
func WithChiURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.RouteContext(req.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// WithUser кладёт в запрос личность, как это делает auth.Middleware.
func WithUser(req *http.Request, username string, role models.Role) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{Username: username, Role: role}))
}
