package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"stonebeam/models"
)

type createProjectRequest struct {
	DeliveryAddress string                   `json:"deliveryAddress" validate:"required,max=500"`
	Items           []models.LineItemRequest `json:"items" validate:"required,min=1,dive"`
}

// CreateProjectHandler обрабатывает POST /api/projects. Заявителем
// становится текущий пользователь.
func (h *Handler) CreateProjectHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req createProjectRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	project, err := h.Engine.CreateProject(r.Context(), id.Username, req.DeliveryAddress, req.Items)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.Logger.WithField("project_id", project.ID).Info("Project created")
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, project)
}

// GetProjectsHandler возвращает список проектов с фильтром по status
func (h *Handler) GetProjectsHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)

	// неизвестные статусы отбрасываем
	var statuses []models.ProjectStatus
	for _, v := range r.URL.Query()["status"] {
		if st := models.ProjectStatus(v); models.ValidProjectStatus(st) {
			statuses = append(statuses, st)
		}
	}

	projects, err := h.Store.GetProjects(r.Context(), statuses, params.Limit, params.Offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, projects)
}

// GetUserProjectsHandler возвращает проекты текущего заявителя
func (h *Handler) GetUserProjectsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	params := parsePaginationParams(r)

	projects, err := h.Store.GetUserProjects(r.Context(), id.Username, params.Limit, params.Offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, projects)
}

func (h *Handler) GetProjectHandler(w http.ResponseWriter, r *http.Request) {
	project, err := h.Store.GetProject(r.Context(), chi.URLParam(r, "projectId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, project)
}

// GetProjectQuotationsHandler возвращает предложения по проекту, самые
// дешёвые первыми. Доступно только автору проекта.
func (h *Handler) GetProjectQuotationsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	params := parsePaginationParams(r)

	project, err := h.Store.GetProject(r.Context(), chi.URLParam(r, "projectId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if project.RequesterName != id.Username {
		h.fail(w, r, http.StatusForbidden, "Forbidden")
		return
	}

	quotations, err := h.Store.GetQuotationsForProject(r.Context(), project.ID, params.Limit, params.Offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, quotations)
}
