package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	"gorm.io/datatypes"
)

// SubmissionRecord is one entry in an invoice's submission history. Every
// submit attempt is recorded, accepted or rejected alike.
type SubmissionRecord struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID        snowflake.ID `gorm:"not null;index" json:"organization_id"`
	InvoiceID    snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	RequestID    string       `gorm:"type:text;not null" json:"request_id"`
	Provider     string       `gorm:"type:text;not null" json:"provider"`
	SubmissionID string       `gorm:"type:text;not null" json:"submission_id"`
	GovernmentID string       `gorm:"type:text" json:"government_id,omitempty"`
	Status       string       `gorm:"type:text;not null" json:"status"`
	Success      bool         `gorm:"not null" json:"success"`
	Message      string       `gorm:"type:text" json:"message,omitempty"`

	Detail    datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"detail,omitempty"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (SubmissionRecord) TableName() string { return "compliance_submissions" }

// SubmissionOutcome bundles the updated invoice with the raw authority
// response for one submit attempt.
type SubmissionOutcome struct {
	Invoice  invoicedomain.Invoice `json:"invoice"`
	Response SubmissionResult      `json:"response"`
}

// StatusOutcome is the result of a status poll, after any invoice update.
type StatusOutcome struct {
	Invoice invoicedomain.Invoice `json:"invoice"`
	Status  StatusResult          `json:"status"`
}

// ComplianceStats aggregates one organization's submission history.
type ComplianceStats struct {
	Submitted      int64   `json:"submitted"`
	Validated      int64   `json:"validated"`
	Rejected       int64   `json:"rejected"`
	Pending        int64   `json:"pending"`
	ComplianceRate float64 `json:"compliance_rate"`
}

// Service coordinates the invoice store, the document formatter and the
// configured authority.
type Service interface {
	SubmitToGovernment(ctx context.Context, invoiceID string) (SubmissionOutcome, error)
	CheckGovernmentStatus(ctx context.Context, invoiceID string) (StatusOutcome, error)
	RetrySubmission(ctx context.Context, invoiceID string) (SubmissionOutcome, error)
	History(ctx context.Context, invoiceID string) ([]SubmissionRecord, error)
	Stats(ctx context.Context) (ComplianceStats, error)
}

var (
	// Conflict-class errors.
	ErrAlreadySubmitted = errors.New("invoice_already_submitted")
	ErrNotSubmitted     = errors.New("invoice_not_submitted")

	ErrDocumentInvalid = errors.New("document_validation_failed")
)

// MapAuthorityStatus folds the authorities' status vocabularies into the
// internal lifecycle states. Unknown values are treated as still in
// flight.
func MapAuthorityStatus(status string) invoicedomain.InvoiceStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "VALID", "VALIDATED", "ACCEPTED", "APPROVED":
		return invoicedomain.InvoiceStatusValidated
	case "INVALID", "REJECTED", "CANCELLED", "CANCEL":
		return invoicedomain.InvoiceStatusRejected
	case "PENDING", "IN PROGRESS", "IN_PROGRESS", "PROCESSING", "SUBMITTED":
		return invoicedomain.InvoiceStatusSubmitted
	default:
		return invoicedomain.InvoiceStatusSubmitted
	}
}
