package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/google/uuid"

	"stonebeam/db"
	"stonebeam/internal/auth"
	"stonebeam/internal/quotation"
	"stonebeam/models"
)

type registerRequest struct {
	Username string      `json:"username" validate:"required,min=3,max=100"`
	Password string      `json:"password" validate:"required,min=6,max=72"`
	Role     models.Role `json:"role" validate:"required,oneof=requester dealer"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type TokenResponse struct {
	Token    string      `json:"token"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
}

// RegisterHandler обрабатывает POST /api/auth/register
func (h *Handler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.Username = strings.TrimSpace(req.Username)

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		PasswordHash: hash,
		Role:         req.Role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.Store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, db.ErrUserExists) {
			h.fail(w, r, http.StatusConflict, "username is taken")
			return
		}
		h.writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, user)
}

// LoginHandler проверяет пароль и выдаёт токен
func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.Store.GetUserByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, quotation.ErrNotFound) {
			h.fail(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.writeError(w, r, err)
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		h.fail(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.Auth.Issue(user.Username, user.Role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, TokenResponse{Token: token, Username: user.Username, Role: user.Role})
}
