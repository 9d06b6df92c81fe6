// Package domain defines the government e-invoice authority abstraction
// and the submission records persisted by the orchestrator.
package domain

import (
	"context"
	"errors"
	"time"
)

// Token is a cached authority credential. A token is reusable until
// ExpiresAt; any 401 invalidates the cache regardless of expiry.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the token must be refreshed.
func (t Token) Expired(now time.Time) bool {
	return t.AccessToken == "" || !now.Before(t.ExpiresAt)
}

// SubmitRequest carries everything an authority needs to file a document.
type SubmitRequest struct {
	InvoiceNumber     string    `json:"invoice_number"`
	FormattedDocument string    `json:"formatted_document"`
	IssueDate         time.Time `json:"issue_date"`
	TotalAmount       float64   `json:"total_amount"`
	Currency          string    `json:"currency"`
}

// SubmissionResult is the authority's answer to a submit call. Transport
// failures surface here as Success=false rather than as an error.
type SubmissionResult struct {
	Success          bool       `json:"success"`
	SubmissionID     string     `json:"submission_id"`
	GovernmentID     string     `json:"government_id,omitempty"`
	Status           string     `json:"status"`
	Message          string     `json:"message,omitempty"`
	ValidationErrors []string   `json:"validation_errors,omitempty"`
	SubmittedAt      time.Time  `json:"submitted_at"`
	ValidatedAt      *time.Time `json:"validated_at,omitempty"`
}

// StatusResult is the authority's answer to a status poll.
type StatusResult struct {
	GovernmentID    string     `json:"government_id"`
	Status          string     `json:"status"`
	ValidatedAt     *time.Time `json:"validated_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

// ValidationResult is a pre-submission document check. An invalid result
// blocks submission without contacting the submit endpoint.
type ValidationResult struct {
	Valid    bool     `json:"is_valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Authority is the uniform interface over national e-invoice systems.
type Authority interface {
	Provider() string
	Authenticate(ctx context.Context) (Token, error)
	Submit(ctx context.Context, req SubmitRequest) (SubmissionResult, error)
	CheckStatus(ctx context.Context, governmentID string) (StatusResult, error)
	Validate(ctx context.Context, formattedDocument string) (ValidationResult, error)
}

// Endpoints holds the relative API paths of one authority.
type Endpoints struct {
	Auth     string
	Submit   string
	Status   string
	Validate string
}

// AuthorityConfig is handed to a Factory when building an Authority.
type AuthorityConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	Endpoints    Endpoints
}

// AuthorityFactory builds Authority instances for one provider name.
type AuthorityFactory interface {
	Provider() string
	NewAuthority(cfg AuthorityConfig) (Authority, error)
}

var (
	ErrProviderNotFound = errors.New("authority_provider_not_found")
	ErrInvalidConfig    = errors.New("invalid_authority_config")
)
