package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"stonebeam/internal/quotation"
	"stonebeam/models"
)

// Ставки передаются указателями, чтобы отличить null от нуля.
type submitQuotationRequest struct {
	Rates      []*float64 `json:"rates" validate:"required"`
	Deliveries []*float64 `json:"deliveries"`
}

type decisionRequest struct {
	Decision models.QuotationStatus `json:"decision" validate:"required"`
}

// SubmitQuotationHandler обрабатывает POST /api/projects/{projectId}/quotations
func (h *Handler) SubmitQuotationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req submitQuotationRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	rates, err := requireValues("rates", req.Rates)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	deliveries, err := requireValues("deliveries", req.Deliveries)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	q, project, err := h.Engine.SubmitQuotation(r.Context(), chi.URLParam(r, "projectId"), id.Username, rates, deliveries)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.Logger.WithFields(logrus.Fields{
		"quotation_id": q.ID,
		"project_id":   q.ProjectID,
		"total":        q.Total,
	}).Info("Quotation submitted")
	if err := h.Events.PublishQuotationSubmitted(q, project); err != nil {
		h.Logger.WithError(err).WithField("quotation_id", q.ID).Warn("Failed to publish quotation.submitted")
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, q)
}

// GetUserQuotationsHandler возвращает предложения текущего поставщика
func (h *Handler) GetUserQuotationsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	params := parsePaginationParams(r)

	quotations, err := h.Store.GetUserQuotations(r.Context(), id.Username, params.Limit, params.Offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, quotations)
}

// GetQuotationHandler доступен автору предложения и автору проекта
func (h *Handler) GetQuotationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	q, err := h.Store.GetQuotation(r.Context(), chi.URLParam(r, "quotationId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if q.SubmittedBy != id.Username {
		project, err := h.Store.GetProject(r.Context(), q.ProjectID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if project.RequesterName != id.Username {
			h.fail(w, r, http.StatusForbidden, "Forbidden")
			return
		}
	}
	render.JSON(w, r, q)
}

// DecideQuotationHandler обрабатывает PUT /api/quotations/{quotationId}/decision.
// Решение принимает только автор проекта.
func (h *Handler) DecideQuotationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req decisionRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	current, err := h.Store.GetQuotation(r.Context(), chi.URLParam(r, "quotationId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	owner, err := h.Store.GetProject(r.Context(), current.ProjectID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if owner.RequesterName != id.Username {
		h.fail(w, r, http.StatusForbidden, "Forbidden")
		return
	}

	q, project, err := h.Engine.DecideQuotation(r.Context(), current.ID, req.Decision)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.Logger.WithFields(logrus.Fields{
		"quotation_id":   q.ID,
		"decision":       q.Status,
		"project_status": project.Status,
	}).Info("Quotation decided")
	if err := h.Events.PublishQuotationDecided(q, project); err != nil {
		h.Logger.WithError(err).WithField("quotation_id", q.ID).Warn("Failed to publish quotation.decided")
	}

	render.JSON(w, r, q)
}

func requireValues(field string, values []*float64) ([]float64, error) {
	out := make([]float64, len(values))
	for i, v := range values {
		if v == nil {
			return nil, quotation.InvalidField(fmt.Sprintf("%s[%d]", field, i), "is required")
		}
		out[i] = *v
	}
	return out, nil
}
