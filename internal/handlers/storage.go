package handlers

import (
	"context"

	"stonebeam/models"
)

// StorageInterface нужен обработчикам для чтения и регистрации.
// Изменения проектов и предложений идут через QuotationEngine
type StorageInterface interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjects(ctx context.Context, statuses []models.ProjectStatus, limit, offset int) ([]models.Project, error)
	GetUserProjects(ctx context.Context, username string, limit, offset int) ([]models.Project, error)

	GetQuotation(ctx context.Context, id string) (*models.Quotation, error)
	GetQuotationsForProject(ctx context.Context, projectID string, limit, offset int) ([]models.Quotation, error)
	GetUserQuotations(ctx context.Context, username string, limit, offset int) ([]models.Quotation, error)
}

type QuotationEngine interface {
	CreateProject(ctx context.Context, requesterName, deliveryAddress string, items []models.LineItemRequest) (*models.Project, error)
	SubmitQuotation(ctx context.Context, projectID, dealerID string, rates, deliveries []float64) (*models.Quotation, *models.Project, error)
	DecideQuotation(ctx context.Context, quotationID string, decision models.QuotationStatus) (*models.Quotation, *models.Project, error)
}
