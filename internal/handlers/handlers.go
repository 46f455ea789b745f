package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"stonebeam/internal/auth"
	"stonebeam/internal/events"
	"stonebeam/internal/quotation"
	"stonebeam/models"
)

// Ограничение размера тела, чтобы избежать DoS
const maxBodyBytes = 1048576

type Handler struct {
	Store    StorageInterface
	Engine   QuotationEngine
	Auth     *auth.Issuer
	Events   events.Publisher
	Logger   *logrus.Logger
	validate *validator.Validate
}

func NewHandler(store StorageInterface, engine QuotationEngine, issuer *auth.Issuer, publisher events.Publisher, logger *logrus.Logger) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		Store:    store,
		Engine:   engine,
		Auth:     issuer,
		Events:   publisher,
		Logger:   logger,
		validate: v,
	}
}

// Routes собирает маршруты API
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.Logger))
	r.Use(middleware.Recoverer)

	requester := auth.RequireRole(models.RoleRequester)
	dealer := auth.RequireRole(models.RoleDealer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", h.PingHandler)
		r.Post("/auth/register", h.RegisterHandler)
		r.Post("/auth/login", h.LoginHandler)

		r.Group(func(r chi.Router) {
			r.Use(h.Auth.Middleware)

			r.Get("/dashboard", h.DashboardHandler)

			// проекты
			r.With(requester).Post("/projects", h.CreateProjectHandler)
			r.Get("/projects", h.GetProjectsHandler)
			r.With(requester).Get("/projects/my", h.GetUserProjectsHandler)
			r.Get("/projects/{projectId}", h.GetProjectHandler)
			r.With(requester).Get("/projects/{projectId}/quotations", h.GetProjectQuotationsHandler)
			r.With(dealer).Post("/projects/{projectId}/quotations", h.SubmitQuotationHandler)

			// предложения
			r.With(dealer).Get("/quotations/my", h.GetUserQuotationsHandler)
			r.Get("/quotations/{quotationId}", h.GetQuotationHandler)
			r.With(requester).Put("/quotations/{quotationId}/decision", h.DecideQuotationHandler)
		})
	})
	return r
}

// PingHandler отвечает "ok" для проверки сервера
func (h *Handler) PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ErrorResponse struct {
	Reason string `json:"reason"`
	Kind   string `json:"kind,omitempty"`
	Field  string `json:"field,omitempty"`
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, status int, reason string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Reason: reason})
}

// writeError переводит ошибки движка и хранилища в HTTP ответ
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, quotation.ErrInvalidInput), errors.Is(err, quotation.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, quotation.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, quotation.ErrInvalidState), errors.Is(err, quotation.ErrConflict):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.Logger.WithError(err).WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
		}).Error("Request failed")
		h.fail(w, r, status, "internal error")
		return
	}

	resp := ErrorResponse{Reason: err.Error()}
	var qe *quotation.Error
	if errors.As(err, &qe) {
		resp = ErrorResponse{Reason: qe.Reason, Kind: qe.Kind.Error(), Field: qe.Field}
	}
	render.Status(r, status)
	render.JSON(w, r, resp)
}

// decode читает JSON и проверяет его по тегам validate
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	if err := render.DecodeJSON(r.Body, v); err != nil {
		return quotation.InvalidField("body", "invalid JSON format")
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field := fe.Namespace()
			if i := strings.IndexByte(field, '.'); i >= 0 {
				field = field[i+1:]
			}
			return quotation.InvalidField(field, fmt.Sprintf("failed %q check", fe.Tag()))
		}
		return err
	}
	return nil
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		h.fail(w, r, http.StatusUnauthorized, "not authenticated")
	}
	return id, ok
}

type PaginationParams struct {
	Limit  int
	Offset int
}

// parsePaginationParams парсит limit и offset из query, с дефолтами и ограничениями
func parsePaginationParams(r *http.Request) PaginationParams {
	var params PaginationParams
	limitStr := r.URL.Query().Get("limit")
	offsetStr := r.URL.Query().Get("offset")

	params.Limit = 5 // дефолт
	params.Offset = 0

	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 50 {
			params.Limit = l
		}
	}
	if offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			params.Offset = o
		}
	}
	return params
}

// RequestLogger пишет в лог каждый запрос
func RequestLogger(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).Milliseconds(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Info("Request completed")
		})
	}
}
