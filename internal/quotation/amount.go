package quotation

import (
	"errors"
	"fmt"
	"math"

	"stonebeam/models"
)

// ComputeLineAmount возвращает rate*quantity + delivery
func ComputeLineAmount(rate, quantity, delivery float64) (float64, error) {
	if err := checkAmountInput("rate", rate); err != nil {
		return 0, err
	}
	if err := checkAmountInput("quantity", quantity); err != nil {
		return 0, err
	}
	if err := checkAmountInput("delivery", delivery); err != nil {
		return 0, err
	}
	amount := rate*quantity + delivery
	if math.IsInf(amount, 0) {
		return 0, newError(ErrInvalidInput, "amount", "rate*quantity+delivery overflows")
	}
	return amount, nil
}

func checkAmountInput(field string, v float64) error {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return newError(ErrInvalidInput, field, "must be a finite number")
	case v < 0:
		return newError(ErrInvalidInput, field, "must not be negative, got %v", v)
	}
	return nil
}

// ComputeTotal суммирует позиции. Переполнение суммы - ErrInvalidInput
func ComputeTotal(items []models.LineItemQuote) (float64, error) {
	var total float64
	for _, it := range items {
		total += it.Amount
	}
	if math.IsInf(total, 0) || math.IsNaN(total) {
		return 0, newError(ErrInvalidInput, "total", "sum of line amounts overflows")
	}
	return total, nil
}

// Recalculate пересчитывает все позиции и итог
func Recalculate(q *models.Quotation) error {
	for i := range q.Items {
		it := &q.Items[i]
		amount, err := ComputeLineAmount(it.Rate, it.Quantity, it.Delivery)
		if err != nil {
			return indexed(err, "items", i)
		}
		it.Amount = amount
	}
	total, err := ComputeTotal(q.Items)
	if err != nil {
		return err
	}
	q.Total = total
	return nil
}

// Reprice меняет ставку и доставку одной позиции, остальные не трогает
func Reprice(q *models.Quotation, index int, rate, delivery float64) error {
	if index < 0 || index >= len(q.Items) {
		return newError(ErrInvalidInput, "index", "out of range [0,%d)", len(q.Items))
	}
	it := q.Items[index]
	amount, err := ComputeLineAmount(rate, it.Quantity, delivery)
	if err != nil {
		return indexed(err, "items", index)
	}
	it.Rate, it.Delivery, it.Amount = rate, delivery, amount

	items := append([]models.LineItemQuote(nil), q.Items...)
	items[index] = it
	total, err := ComputeTotal(items)
	if err != nil {
		return err
	}
	q.Items, q.Total = items, total
	return nil
}

// BuildItems оценивает позиции заявки по порядку. Пустой deliveries
// означает доставку 0 для всех позиций
func BuildItems(requests []models.LineItemRequest, rates, deliveries []float64) ([]models.LineItemQuote, error) {
	if len(rates) != len(requests) {
		return nil, newError(ErrValidation, "rates", "expected %d rates, got %d", len(requests), len(rates))
	}
	if len(deliveries) != 0 && len(deliveries) != len(requests) {
		return nil, newError(ErrValidation, "deliveries", "expected %d deliveries, got %d", len(requests), len(deliveries))
	}

	items := make([]models.LineItemQuote, len(requests))
	for i, req := range requests {
		rate := rates[i]
		if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
			return nil, newError(ErrValidation, fmt.Sprintf("rates[%d]", i), "rate for %s must be a positive number", req.Material)
		}
		var delivery float64
		if len(deliveries) != 0 {
			delivery = deliveries[i]
		}
		if err := checkAmountInput(fmt.Sprintf("deliveries[%d]", i), delivery); err != nil {
			return nil, err
		}
		amount, err := ComputeLineAmount(rate, req.Quantity, delivery)
		if err != nil {
			return nil, indexed(err, "items", i)
		}
		items[i] = models.LineItemQuote{
			Material: req.Material,
			Quantity: req.Quantity,
			Unit:     req.Unit,
			Rate:     rate,
			Delivery: delivery,
			Amount:   amount,
		}
	}
	return items, nil
}

func indexed(err error, prefix string, i int) error {
	var e *Error
	if errors.As(err, &e) {
		return &Error{Kind: e.Kind, Field: fmt.Sprintf("%s[%d].%s", prefix, i, e.Field), Reason: e.Reason}
	}
	return err
}
