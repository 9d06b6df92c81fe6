// Package domain contains the payment ledger models. Payments only ever
// append or delete; an invoice's paid state is always recomputed from
// the surviving rows.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
)

// PaymentMethod enumerates how a payment was made.
type PaymentMethod string

const (
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodCash         PaymentMethod = "CASH"
	MethodCheque       PaymentMethod = "CHEQUE"
	MethodCreditCard   PaymentMethod = "CREDIT_CARD"
	MethodDebitCard    PaymentMethod = "DEBIT_CARD"
	MethodEwallet      PaymentMethod = "EWALLET"
	MethodOther        PaymentMethod = "OTHER"
)

// Valid reports whether the method is one of the known values.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodBankTransfer, MethodCash, MethodCheque, MethodCreditCard, MethodDebitCard, MethodEwallet, MethodOther:
		return true
	default:
		return false
	}
}

// ParseMethod normalizes a caller-supplied method string.
func ParseMethod(s string) (PaymentMethod, bool) {
	m := PaymentMethod(strings.ToUpper(strings.TrimSpace(s)))
	return m, m.Valid()
}

type Payment struct {
	ID          snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID  `gorm:"not null;index" json:"organization_id"`
	InvoiceID   snowflake.ID  `gorm:"not null;index" json:"invoice_id"`
	Amount      float64       `gorm:"type:numeric(18,2);not null" json:"amount"`
	Method      PaymentMethod `gorm:"type:text;not null" json:"method"`
	Reference   string        `gorm:"type:text" json:"reference,omitempty"`
	Notes       string        `gorm:"type:text" json:"notes,omitempty"`
	PaymentDate time.Time     `gorm:"not null" json:"payment_date"`
	CreatedBy   snowflake.ID  `gorm:"not null" json:"created_by"`
	CreatedAt   time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

type RecordPaymentRequest struct {
	InvoiceID   string     `json:"invoice_id"`
	Amount      float64    `json:"amount"`
	Method      string     `json:"method"`
	Reference   string     `json:"reference,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	PaymentDate *time.Time `json:"payment_date,omitempty"`
}

// PaymentOutcome bundles the new ledger row with the invoice it updated.
type PaymentOutcome struct {
	Payment Payment               `json:"payment"`
	Invoice invoicedomain.Invoice `json:"invoice"`
}

// PaymentStats aggregates payments on validated invoices only.
type PaymentStats struct {
	TotalReceived    float64 `json:"total_received"`
	TotalOutstanding float64 `json:"total_outstanding"`
	PaymentCount     int64   `json:"payment_count"`
}

type Service interface {
	Record(ctx context.Context, req RecordPaymentRequest) (PaymentOutcome, error)
	Delete(ctx context.Context, paymentID string) (invoicedomain.Invoice, error)
	List(ctx context.Context, invoiceID string) ([]Payment, error)
	OverdueInvoices(ctx context.Context) ([]invoicedomain.Invoice, error)
	Stats(ctx context.Context) (PaymentStats, error)
}

var (
	ErrNotFound      = errors.New("payment_not_found")
	ErrInvalidAmount = errors.New("invalid_payment_amount")
	ErrInvalidMethod = errors.New("invalid_payment_method")

	// InvalidState: the payment itself is well formed but the invoice
	// cannot absorb it.
	ErrExceedsInvoiceTotal = errors.New("payment_exceeds_invoice_total")
)
