package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/fakturo/pkg/db/pagination"
)

// LineItemInput is a caller-supplied line before derivation.
type LineItemInput struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	TaxRate     float64 `json:"tax_rate"`
}

type CreateInvoiceRequest struct {
	CustomerID  string          `json:"customer_id"`
	InvoiceDate time.Time       `json:"invoice_date"`
	DueDate     *time.Time      `json:"due_date,omitempty"`
	Currency    string          `json:"currency"`
	Notes       string          `json:"notes,omitempty"`
	LineItems   []LineItemInput `json:"line_items"`
}

// UpdateInvoiceRequest is a partial patch. A nil LineItems leaves items
// and totals untouched; a non-nil slice replaces them wholesale.
type UpdateInvoiceRequest struct {
	CustomerID  *string         `json:"customer_id,omitempty"`
	InvoiceDate *time.Time      `json:"invoice_date,omitempty"`
	DueDate     *time.Time      `json:"due_date,omitempty"`
	Notes       *string         `json:"notes,omitempty"`
	LineItems   []LineItemInput `json:"line_items,omitempty"`
}

type ListInvoiceRequest struct {
	Status      *InvoiceStatus
	CustomerID  *string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	DueFrom     *time.Time
	DueTo       *time.Time
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

// InvoiceWithItems bundles an invoice with its line items.
type InvoiceWithItems struct {
	Invoice   Invoice           `json:"invoice"`
	LineItems []InvoiceLineItem `json:"line_items"`
}

// InvoiceStats summarizes an organization's invoices.
type InvoiceStats struct {
	Total     int64   `json:"total"`
	Draft     int64   `json:"draft"`
	Submitted int64   `json:"submitted"`
	Validated int64   `json:"validated"`
	Rejected  int64   `json:"rejected"`
	Cancelled int64   `json:"cancelled"`
	TotalDue  float64 `json:"total_due"`
}

type Service interface {
	Create(context.Context, CreateInvoiceRequest) (InvoiceWithItems, error)
	Update(ctx context.Context, id string, req UpdateInvoiceRequest) (InvoiceWithItems, error)
	Delete(ctx context.Context, id string) error
	Submit(ctx context.Context, id string) (Invoice, error)
	Cancel(ctx context.Context, id string) (Invoice, error)
	GetByID(ctx context.Context, id string) (InvoiceWithItems, error)
	List(context.Context, ListInvoiceRequest) (ListInvoiceResponse, error)
	Stats(ctx context.Context) (InvoiceStats, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrNotFound            = errors.New("invoice_not_found")
	ErrCustomerNotFound    = errors.New("customer_not_found")

	ErrInvalidInvoiceDate = errors.New("invalid_invoice_date")
	ErrInvalidDueDate     = errors.New("invalid_due_date")
	ErrInvalidCurrency    = errors.New("invalid_currency")
	ErrNoLineItems        = errors.New("no_line_items")
	ErrTooManyLineItems   = errors.New("too_many_line_items")
	ErrInvalidLineItem    = errors.New("invalid_line_item")

	// Conflict-class errors: the operation is valid but not in the
	// invoice's current state.
	ErrNotDraft       = errors.New("invoice_not_draft")
	ErrNotSubmittable = errors.New("invoice_not_submittable")
	ErrNotCancellable = errors.New("invoice_not_cancellable")
	ErrHasPayments    = errors.New("invoice_has_payments")
)
