package quotation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"stonebeam/models"
)

// сколько раз повторяем транзакцию при конфликте версий
const maxAttempts = 3

// Engine считает суммы предложений и ведёт статусы проектов и предложений
type Engine struct {
	repo  Repository
	now   func() time.Time
	newID func() string
}

func NewEngine(repo Repository) *Engine {
	return &Engine{
		repo:  repo,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// CreateProject создаёт открытый проект
func (e *Engine) CreateProject(ctx context.Context, requesterName, deliveryAddress string, items []models.LineItemRequest) (*models.Project, error) {
	requesterName = strings.TrimSpace(requesterName)
	if requesterName == "" {
		return nil, newError(ErrValidation, "requesterName", "is required")
	}
	if strings.TrimSpace(deliveryAddress) == "" {
		return nil, newError(ErrValidation, "deliveryAddress", "is required")
	}
	if len(items) == 0 {
		return nil, newError(ErrValidation, "items", "at least one item is required")
	}
	for i, it := range items {
		if strings.TrimSpace(it.Material) == "" {
			return nil, newError(ErrValidation, fmt.Sprintf("items[%d].material", i), "is required")
		}
		if strings.TrimSpace(it.Unit) == "" {
			return nil, newError(ErrValidation, fmt.Sprintf("items[%d].unit", i), "is required")
		}
		if math.IsNaN(it.Quantity) || math.IsInf(it.Quantity, 0) || it.Quantity <= 0 {
			return nil, newError(ErrValidation, fmt.Sprintf("items[%d].quantity", i), "must be a positive number")
		}
	}

	p := &models.Project{
		ID:              e.newID(),
		RequesterName:   requesterName,
		DeliveryAddress: deliveryAddress,
		Items:           append([]models.LineItemRequest(nil), items...),
		Status:          models.ProjectOpen,
		CreatedAt:       e.now(),
	}
	err := e.repo.Atomic(ctx, func(tx Tx) error {
		return tx.CreateProject(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

// SubmitQuotation оценивает позиции проекта по ставкам поставщика и
// сохраняет предложение вместе со счётчиком и статусом проекта
func (e *Engine) SubmitQuotation(ctx context.Context, projectID, dealerID string, rates, deliveries []float64) (*models.Quotation, *models.Project, error) {
	if strings.TrimSpace(dealerID) == "" {
		return nil, nil, newError(ErrValidation, "dealerId", "is required")
	}

	var (
		q *models.Quotation
		p *models.Project
	)
	err := e.atomic(ctx, func(tx Tx) error {
		var err error
		p, err = tx.GetProject(ctx, projectID)
		if err != nil {
			return notFound(err, "projectId", "project %s does not exist", projectID)
		}
		if p.Status == models.ProjectFulfilled {
			return newError(ErrInvalidState, "status", "project %s is already fulfilled", p.ID)
		}

		items, err := BuildItems(p.Items, rates, deliveries)
		if err != nil {
			return err
		}
		total, err := ComputeTotal(items)
		if err != nil {
			return err
		}
		q = &models.Quotation{
			ID:          e.newID(),
			ProjectID:   p.ID,
			SubmittedBy: dealerID,
			Items:       items,
			Total:       total,
			Status:      models.QuotationPending,
			SubmittedAt: e.now(),
		}
		if err := tx.CreateQuotation(ctx, q); err != nil {
			return err
		}

		p.QuotesReceived++
		if p.Status == models.ProjectOpen {
			p.Status = models.ProjectQuoted
		}
		return tx.UpdateProject(ctx, p)
	})
	if err != nil {
		return nil, nil, err
	}
	return q, p, nil
}

// DecideQuotation принимает или отклоняет ожидающее предложение.
// Принятое предложение закрывает проект, остальные предложения не меняются
func (e *Engine) DecideQuotation(ctx context.Context, quotationID string, decision models.QuotationStatus) (*models.Quotation, *models.Project, error) {
	if !models.ValidQuotationStatus(decision) || decision == models.QuotationPending {
		return nil, nil, newError(ErrInvalidInput, "decision", "must be %q or %q, got %q",
			models.QuotationAccepted, models.QuotationRejected, decision)
	}

	var (
		q *models.Quotation
		p *models.Project
	)
	err := e.atomic(ctx, func(tx Tx) error {
		var err error
		q, err = tx.GetQuotation(ctx, quotationID)
		if err != nil {
			return notFound(err, "quotationId", "quotation %s does not exist", quotationID)
		}
		if q.Status != models.QuotationPending {
			return newError(ErrInvalidState, "status", "quotation %s is already %s", q.ID, q.Status)
		}
		p, err = tx.GetProject(ctx, q.ProjectID)
		if err != nil {
			return notFound(err, "projectId", "project %s does not exist", q.ProjectID)
		}
		if decision == models.QuotationAccepted && p.Status == models.ProjectFulfilled {
			return newError(ErrInvalidState, "status", "project %s is already fulfilled", p.ID)
		}

		decidedAt := e.now()
		q.Status = decision
		q.DecidedAt = &decidedAt
		if err := tx.UpdateQuotation(ctx, q); err != nil {
			return err
		}
		if decision == models.QuotationAccepted {
			p.Status = models.ProjectFulfilled
			return tx.UpdateProject(ctx, p)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return q, p, nil
}

func (e *Engine) atomic(ctx context.Context, fn func(tx Tx) error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = e.repo.Atomic(ctx, fn)
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", maxAttempts, err)
}

func notFound(err error, field, format string, args ...any) error {
	if errors.Is(err, ErrNotFound) {
		return newError(ErrNotFound, field, format, args...)
	}
	return err
}
