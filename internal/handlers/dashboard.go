package handlers

import (
	"net/http"

	"github.com/go-chi/render"

	"stonebeam/internal/quotation"
	"stonebeam/models"
)

type DashboardResponse struct {
	Username   string                      `json:"username"`
	Role       models.Role                 `json:"role"`
	Projects   *quotation.ProjectSummary   `json:"projects,omitempty"`
	Quotations *quotation.QuotationSummary `json:"quotations,omitempty"`
}

// DashboardHandler возвращает сводку для роли текущего пользователя
func (h *Handler) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	resp := DashboardResponse{Username: id.Username, Role: id.Role}

	switch id.Role {
	case models.RoleRequester:
		projects, err := h.Store.GetUserProjects(r.Context(), id.Username, 0, 0)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		s := quotation.SummarizeProjects(projects)
		resp.Projects = &s
	case models.RoleDealer:
		quotations, err := h.Store.GetUserQuotations(r.Context(), id.Username, 0, 0)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		s := quotation.SummarizeQuotations(quotations)
		resp.Quotations = &s
	}
	render.JSON(w, r, resp)
}
