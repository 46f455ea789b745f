package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"stonebeam/internal/quotation"
	"stonebeam/models"
)

var ErrUserExists = errors.New("user already exists")

// коды ошибок PostgreSQL
const (
	uniqueViolation           = "23505"
	invalidTextRepresentation = "22P02" // id не является UUID
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

// Atomic выполняет fn в транзакции. Прочитанные через tx строки
// блокируются до коммита
func (s *Storage) Atomic(ctx context.Context, fn func(tx quotation.Tx) error) error {
	const op = "db.Atomic"

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := fn(&storageTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

type storageTx struct {
	tx *sqlx.Tx
}

func (t *storageTx) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return getProject(ctx, t.tx, id, true)
}

func (t *storageTx) GetQuotation(ctx context.Context, id string) (*models.Quotation, error) {
	return getQuotation(ctx, t.tx, id, true)
}

// User (Пользователь)

func (s *Storage) CreateUser(ctx context.Context, u *models.User) error {
	const op = "db.CreateUser"
	query := `
        INSERT INTO users (id, username, password_hash, role, created_at)
        VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.ExecContext(ctx, query, u.ID, u.Username, u.PasswordHash, u.Role, u.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrUserExists
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	const op = "db.GetUserByUsername"
	u := &models.User{}
	query := `SELECT id, username, password_hash, role, created_at FROM users WHERE username=$1`
	if err := s.db.GetContext(ctx, u, query, username); err != nil {
		return nil, fmt.Errorf("%s: %w", op, noRows(err))
	}
	return u, nil
}

// Project (Проект)

const projectColumns = `id, requester_name, delivery_address, status, quotes_received, version, created_at`

type projectItemRow struct {
	ProjectID string `db:"project_id"`
	Position  int    `db:"position"`
	models.LineItemRequest
}

func (t *storageTx) CreateProject(ctx context.Context, p *models.Project) error {
	const op = "db.CreateProject"
	p.Version = 1
	query := `
        INSERT INTO projects
            (id, requester_name, delivery_address, status, quotes_received, version, created_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7)`
	_, err := t.tx.ExecContext(ctx, query,
		p.ID, p.RequesterName, p.DeliveryAddress, p.Status, p.QuotesReceived, p.Version, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	itemQuery := `
        INSERT INTO project_items (project_id, position, material, quantity, unit)
        VALUES ($1, $2, $3, $4, $5)`
	for i, it := range p.Items {
		if _, err := t.tx.ExecContext(ctx, itemQuery, p.ID, i, it.Material, it.Quantity, it.Unit); err != nil {
			return fmt.Errorf("%s: item %d: %w", op, i, err)
		}
	}
	return nil
}

func (t *storageTx) UpdateProject(ctx context.Context, p *models.Project) error {
	const op = "db.UpdateProject"
	query := `
        UPDATE projects
        SET status=$1, quotes_received=$2, version=version+1
        WHERE id=$3 AND version=$4`
	res, err := t.tx.ExecContext(ctx, query, p.Status, p.QuotesReceived, p.ID, p.Version)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("%s: project %s version %d: %w", op, p.ID, p.Version, err)
	}
	p.Version++
	return nil
}

func (s *Storage) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return getProject(ctx, s.db, id, false)
}

// GetProjects возвращает проекты, новые первыми. limit <= 0 означает без ограничения
func (s *Storage) GetProjects(ctx context.Context, statuses []models.ProjectStatus, limit, offset int) ([]models.Project, error) {
	const op = "db.GetProjects"
	var args []interface{}
	filter := ""

	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args = append(args, st)
		}
		filter = fmt.Sprintf(" WHERE status IN (%s)", strings.Join(placeholders, ", "))
	}

	query := "SELECT " + projectColumns + " FROM projects" + filter + " ORDER BY created_at DESC, id ASC" + pageClause(limit, offset)

	projects := []models.Project{}
	if err := s.db.SelectContext(ctx, &projects, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := loadProjectItems(ctx, s.db, projects); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return projects, nil
}

func (s *Storage) GetUserProjects(ctx context.Context, username string, limit, offset int) ([]models.Project, error) {
	const op = "db.GetUserProjects"
	query := "SELECT " + projectColumns + " FROM projects WHERE requester_name = $1 ORDER BY created_at DESC, id ASC" + pageClause(limit, offset)

	projects := []models.Project{}
	if err := s.db.SelectContext(ctx, &projects, query, username); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := loadProjectItems(ctx, s.db, projects); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return projects, nil
}

func getProject(ctx context.Context, q sqlx.QueryerContext, id string, forUpdate bool) (*models.Project, error) {
	const op = "db.GetProject"
	query := "SELECT " + projectColumns + " FROM projects WHERE id=$1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	p := models.Project{}
	if err := sqlx.GetContext(ctx, q, &p, query, id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, noRows(err))
	}
	projects := []models.Project{p}
	if err := loadProjectItems(ctx, q, projects); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &projects[0], nil
}

func loadProjectItems(ctx context.Context, q sqlx.QueryerContext, projects []models.Project) error {
	if len(projects) == 0 {
		return nil
	}
	ids := make([]string, len(projects))
	byID := make(map[string]int, len(projects))
	for i, p := range projects {
		ids[i] = p.ID
		byID[p.ID] = i
	}

	query := `
        SELECT project_id, position, material, quantity, unit
        FROM project_items
        WHERE project_id = ANY($1)
        ORDER BY project_id, position`
	rows := []projectItemRow{}
	if err := sqlx.SelectContext(ctx, q, &rows, query, pq.Array(ids)); err != nil {
		return err
	}
	for _, r := range rows {
		i := byID[r.ProjectID]
		projects[i].Items = append(projects[i].Items, r.LineItemRequest)
	}
	return nil
}

// Quotation (Предложение)

const quotationColumns = `id, project_id, submitted_by, total, status, version, submitted_at, decided_at`

type quotationItemRow struct {
	QuotationID string `db:"quotation_id"`
	Position    int    `db:"position"`
	models.LineItemQuote
}

func (t *storageTx) CreateQuotation(ctx context.Context, q *models.Quotation) error {
	const op = "db.CreateQuotation"
	q.Version = 1
	query := `
        INSERT INTO quotations
            (id, project_id, submitted_by, total, status, version, submitted_at, decided_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := t.tx.ExecContext(ctx, query,
		q.ID, q.ProjectID, q.SubmittedBy, q.Total, q.Status, q.Version, q.SubmittedAt, q.DecidedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	itemQuery := `
        INSERT INTO quotation_items
            (quotation_id, position, material, quantity, unit, rate, delivery, amount)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8)`
	for i, it := range q.Items {
		_, err := t.tx.ExecContext(ctx, itemQuery,
			q.ID, i, it.Material, it.Quantity, it.Unit, it.Rate, it.Delivery, it.Amount)
		if err != nil {
			return fmt.Errorf("%s: item %d: %w", op, i, err)
		}
	}
	return nil
}

// Позиции предложения не меняются, сохраняем только решение
func (t *storageTx) UpdateQuotation(ctx context.Context, q *models.Quotation) error {
	const op = "db.UpdateQuotation"
	query := `
        UPDATE quotations
        SET status=$1, decided_at=$2, version=version+1
        WHERE id=$3 AND version=$4`
	res, err := t.tx.ExecContext(ctx, query, q.Status, q.DecidedAt, q.ID, q.Version)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("%s: quotation %s version %d: %w", op, q.ID, q.Version, err)
	}
	q.Version++
	return nil
}

func (s *Storage) GetQuotation(ctx context.Context, id string) (*models.Quotation, error) {
	return getQuotation(ctx, s.db, id, false)
}

// самые дешёвые первыми
func (s *Storage) GetQuotationsForProject(ctx context.Context, projectID string, limit, offset int) ([]models.Quotation, error) {
	const op = "db.GetQuotationsForProject"
	query := "SELECT " + quotationColumns + " FROM quotations WHERE project_id = $1 ORDER BY total ASC, submitted_at ASC" + pageClause(limit, offset)

	quotations := []models.Quotation{}
	if err := s.db.SelectContext(ctx, &quotations, query, projectID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := loadQuotationItems(ctx, s.db, quotations); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return quotations, nil
}

func (s *Storage) GetUserQuotations(ctx context.Context, username string, limit, offset int) ([]models.Quotation, error) {
	const op = "db.GetUserQuotations"
	query := "SELECT " + quotationColumns + " FROM quotations WHERE submitted_by = $1 ORDER BY submitted_at DESC, id ASC" + pageClause(limit, offset)

	quotations := []models.Quotation{}
	if err := s.db.SelectContext(ctx, &quotations, query, username); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := loadQuotationItems(ctx, s.db, quotations); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return quotations, nil
}

func getQuotation(ctx context.Context, q sqlx.QueryerContext, id string, forUpdate bool) (*models.Quotation, error) {
	const op = "db.GetQuotation"
	query := "SELECT " + quotationColumns + " FROM quotations WHERE id=$1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	qt := models.Quotation{}
	if err := sqlx.GetContext(ctx, q, &qt, query, id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, noRows(err))
	}
	quotations := []models.Quotation{qt}
	if err := loadQuotationItems(ctx, q, quotations); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &quotations[0], nil
}

func loadQuotationItems(ctx context.Context, q sqlx.QueryerContext, quotations []models.Quotation) error {
	if len(quotations) == 0 {
		return nil
	}
	ids := make([]string, len(quotations))
	byID := make(map[string]int, len(quotations))
	for i, qt := range quotations {
		ids[i] = qt.ID
		byID[qt.ID] = i
	}

	query := `
        SELECT quotation_id, position, material, quantity, unit, rate, delivery, amount
        FROM quotation_items
        WHERE quotation_id = ANY($1)
        ORDER BY quotation_id, position`
	rows := []quotationItemRow{}
	if err := sqlx.SelectContext(ctx, q, &rows, query, pq.Array(ids)); err != nil {
		return err
	}
	for _, r := range rows {
		i := byID[r.QuotationID]
		quotations[i].Items = append(quotations[i].Items, r.LineItemQuote)
	}
	return nil
}

func pageClause(limit, offset int) string {
	clause := ""
	if limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", limit)
	}
	if offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", offset)
	}
	return clause
}

// noRows сводит отсутствие строки и невалидный id к ErrNotFound
func noRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return quotation.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == invalidTextRepresentation {
		return fmt.Errorf("%w: %s", quotation.ErrNotFound, pqErr.Message)
	}
	return err
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return quotation.ErrConflict
	}
	return nil
}
