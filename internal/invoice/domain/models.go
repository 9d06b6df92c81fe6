// Package domain contains persistence models for the invoice lifecycle.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft           InvoiceStatus = "DRAFT"
	InvoiceStatusPendingApproval InvoiceStatus = "PENDING_APPROVAL"
	InvoiceStatusApproved        InvoiceStatus = "APPROVED"
	InvoiceStatusSubmitted       InvoiceStatus = "SUBMITTED"
	InvoiceStatusValidated       InvoiceStatus = "VALIDATED"
	InvoiceStatusRejected        InvoiceStatus = "REJECTED"
	InvoiceStatusCancelled       InvoiceStatus = "CANCELLED"
)

// SubmitEligible reports whether Submit may be called in this state.
// PENDING_APPROVAL and APPROVED are reserved approval states treated as
// draft-equivalent for submit eligibility only.
func (s InvoiceStatus) SubmitEligible() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusPendingApproval, InvoiceStatusApproved:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further lifecycle transitions are allowed.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoiceStatusCancelled
}

// PaymentStatus is the stored payment state. OVERDUE is derived at read
// time and never stored.
type PaymentStatus string

const (
	PaymentStatusUnpaid        PaymentStatus = "UNPAID"
	PaymentStatusPartiallyPaid PaymentStatus = "PARTIALLY_PAID"
	PaymentStatusPaid          PaymentStatus = "PAID"
)

// Invoice is the central entity. Monetary fields are derived from line
// items and never hand-edited; government fields are owned by the
// compliance orchestrator.
type Invoice struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID         snowflake.ID  `gorm:"not null;index;uniqueIndex:ux_invoices_org_number" json:"organization_id"`
	CustomerID    snowflake.ID  `gorm:"not null;index" json:"customer_id"`
	CreatedBy     snowflake.ID  `gorm:"not null" json:"created_by"`
	InvoiceNumber string        `gorm:"not null;uniqueIndex:ux_invoices_org_number" json:"invoice_number"`
	Status        InvoiceStatus `gorm:"type:text;not null;default:'DRAFT'" json:"status"`
	PaymentStatus PaymentStatus `gorm:"type:text;not null;default:'UNPAID'" json:"payment_status"`

	Subtotal    float64 `gorm:"type:numeric(18,2);not null;default:0" json:"subtotal"`
	TaxAmount   float64 `gorm:"type:numeric(18,2);not null;default:0" json:"tax_amount"`
	TotalAmount float64 `gorm:"type:numeric(18,2);not null;default:0" json:"total_amount"`
	PaidAmount  float64 `gorm:"type:numeric(18,2);not null;default:0" json:"paid_amount"`
	Currency    string  `gorm:"type:text;not null" json:"currency"`

	InvoiceDate time.Time  `gorm:"not null" json:"invoice_date"`
	DueDate     *time.Time `gorm:"" json:"due_date,omitempty"`
	PaymentDate *time.Time `gorm:"" json:"payment_date,omitempty"`
	Notes       string     `gorm:"type:text" json:"notes,omitempty"`

	GovernmentID      *string    `gorm:"index" json:"government_id,omitempty"`
	GovernmentStatus  *string    `gorm:"type:text" json:"government_status,omitempty"`
	SubmittedAt       *time.Time `gorm:"" json:"submitted_at,omitempty"`
	ValidatedAt       *time.Time `gorm:"" json:"validated_at,omitempty"`
	FormattedDocument *string    `gorm:"type:text" json:"-"`

	Metadata  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceLineItem is owned exclusively by one invoice. Line items are
// replaced wholesale on edit so totals can never drift from their items.
type InvoiceLineItem struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID `gorm:"not null;index" json:"organization_id"`
	InvoiceID   snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	Description string       `gorm:"type:text" json:"description"`
	Quantity    float64      `gorm:"not null" json:"quantity"`
	UnitPrice   float64      `gorm:"type:numeric(18,2);not null" json:"unit_price"`
	TaxRate     float64      `gorm:"type:numeric(5,2);not null;default:0" json:"tax_rate"`
	TaxAmount   float64      `gorm:"type:numeric(18,2);not null;default:0" json:"tax_amount"`
	TotalAmount float64      `gorm:"type:numeric(18,2);not null;default:0" json:"total_amount"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceLineItem) TableName() string { return "invoice_line_items" }

// InvoiceCounter is the per-organization, per-day sequence row updated
// atomically inside the create transaction.
type InvoiceCounter struct {
	OrgID snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	Day   string       `gorm:"primaryKey;type:text"`
	Value int64        `gorm:"not null;default:0"`
}

// TableName sets the database table name.
func (InvoiceCounter) TableName() string { return "invoice_counters" }
