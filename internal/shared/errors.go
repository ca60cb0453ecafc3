package shared

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("invalid input")
	// ErrInvalidStateTransition indicates a status change not allowed by the transition table.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrInsufficientStock indicates the ledger cannot cover the requested quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrExpiredBatch indicates an attempt to sell from an expired batch.
	ErrExpiredBatch = errors.New("batch expired")
	// ErrExpiredOnReceipt indicates goods arriving already expired.
	ErrExpiredOnReceipt = errors.New("expired on receipt")
	// ErrAlreadyInvoiced indicates the order already has an invoice.
	ErrAlreadyInvoiced = errors.New("order already invoiced")
	// ErrAlreadyPosted indicates the goods receipt was posted before.
	ErrAlreadyPosted = errors.New("goods receipt already posted")
	// ErrAlreadyConverted indicates the purchase request already produced a purchase order.
	ErrAlreadyConverted = errors.New("purchase request already converted")
	// ErrImmutableField indicates a change to a field frozen by the document status.
	ErrImmutableField = errors.New("field is immutable in current status")
)

// StateTransitionError reports an illegal status change.
type StateTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("%s: cannot transition from %s to %s", e.Entity, e.From, e.To)
}

// Is matches ErrInvalidStateTransition.
func (e *StateTransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

// InsufficientStockError reports required vs available quantity.
type InsufficientStockError struct {
	ProductID   int64
	WarehouseID int64
	Required    decimal.Decimal
	Available   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d in warehouse %d: required %s, available %s",
		e.ProductID, e.WarehouseID, e.Required.String(), e.Available.String())
}

// Is matches ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ExpiredBatchError reports the batch and its expiry date.
type ExpiredBatchError struct {
	BatchID    int64
	ExpiryDate time.Time
}

func (e *ExpiredBatchError) Error() string {
	return fmt.Sprintf("batch %d expired on %s", e.BatchID, e.ExpiryDate.Format(time.DateOnly))
}

// Is matches ErrExpiredBatch.
func (e *ExpiredBatchError) Is(target error) bool {
	return target == ErrExpiredBatch
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NotFound builds a NotFoundError.
func NotFound(entity string, id int64) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// InvalidTransition builds a StateTransitionError.
func InvalidTransition(entity string, from, to fmt.Stringer) error {
	return &StateTransitionError{Entity: entity, From: from.String(), To: to.String()}
}
