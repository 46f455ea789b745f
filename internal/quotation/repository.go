package quotation

import (
	"context"

	"stonebeam/models"
)

// Repository выполняет fn как одну транзакцию. Изменения через tx
// видны остальным, только если fn вернул nil
type Repository interface {
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}

// Tx - доступ к хранилищу внутри транзакции. Get возвращает ErrNotFound,
// если записи нет. Update сверяет Version с сохранённой: при расхождении
// ErrConflict, иначе Version увеличивается
type Tx interface {
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetQuotation(ctx context.Context, id string) (*models.Quotation, error)
	CreateProject(ctx context.Context, p *models.Project) error
	CreateQuotation(ctx context.Context, q *models.Quotation) error
	UpdateProject(ctx context.Context, p *models.Project) error
	UpdateQuotation(ctx context.Context, q *models.Quotation) error
}
