package models

import "time"

type ProjectStatus string

const (
	ProjectOpen      ProjectStatus = "open"
	ProjectQuoted    ProjectStatus = "quoted"
	ProjectFulfilled ProjectStatus = "fulfilled"
)

func ValidProjectStatus(s ProjectStatus) bool {
	switch s {
	case ProjectOpen, ProjectQuoted, ProjectFulfilled:
		return true
	default:
		return false
	}
}

type QuotationStatus string

const (
	QuotationPending  QuotationStatus = "pending"
	QuotationAccepted QuotationStatus = "accepted"
	QuotationRejected QuotationStatus = "rejected"
)

func ValidQuotationStatus(s QuotationStatus) bool {
	switch s {
	case QuotationPending, QuotationAccepted, QuotationRejected:
		return true
	default:
		return false
	}
}

type Role string

const (
	RoleRequester Role = "requester"
	RoleDealer    Role = "dealer"
)

// Сущность Проекта (заявка на материалы)
type Project struct {
	ID              string            `db:"id" json:"id"`
	RequesterName   string            `db:"requester_name" json:"requesterName" validate:"required,max=100"`
	DeliveryAddress string            `db:"delivery_address" json:"deliveryAddress" validate:"required,max=500"`
	Items           []LineItemRequest `db:"-" json:"items" validate:"required,min=1,dive"`
	Status          ProjectStatus     `db:"status" json:"status"`
	QuotesReceived  int               `db:"quotes_received" json:"quotesReceived"`
	Version         int               `db:"version" json:"version"`
	CreatedAt       time.Time         `db:"created_at" json:"createdAt"`
}

// Позиция заявки
type LineItemRequest struct {
	Material string  `db:"material" json:"material" validate:"required,max=100"`
	Quantity float64 `db:"quantity" json:"quantity" validate:"gt=0"`
	Unit     string  `db:"unit" json:"unit" validate:"required,max=20"`
}

// Сущность Предложения поставщика. Items[i] оценивает Items[i] проекта
type Quotation struct {
	ID          string          `db:"id" json:"id"`
	ProjectID   string          `db:"project_id" json:"projectId"`
	SubmittedBy string          `db:"submitted_by" json:"submittedBy"`
	Items       []LineItemQuote `db:"-" json:"items"`
	Total       float64         `db:"total" json:"total"`
	Status      QuotationStatus `db:"status" json:"status"`
	Version     int             `db:"version" json:"version"`
	SubmittedAt time.Time       `db:"submitted_at" json:"submittedAt"`
	DecidedAt   *time.Time      `db:"decided_at" json:"decidedAt,omitempty"`
}

// Позиция предложения. Копия позиции заявки хранится вместе с ценой,
// чтобы Amount можно было пересчитать без проекта
type LineItemQuote struct {
	Material string  `db:"material" json:"material"`
	Quantity float64 `db:"quantity" json:"quantity"`
	Unit     string  `db:"unit" json:"unit"`
	Rate     float64 `db:"rate" json:"rate"`
	Delivery float64 `db:"delivery" json:"delivery"`
	Amount   float64 `db:"amount" json:"amount"`
}

// Сущность Пользователя
type User struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         Role      `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

func (p *Project) Clone() *Project {
	c := *p
	c.Items = append([]LineItemRequest(nil), p.Items...)
	return &c
}

func (q *Quotation) Clone() *Quotation {
	c := *q
	c.Items = append([]LineItemQuote(nil), q.Items...)
	if q.DecidedAt != nil {
		t := *q.DecidedAt
		c.DecidedAt = &t
	}
	return &c
}
