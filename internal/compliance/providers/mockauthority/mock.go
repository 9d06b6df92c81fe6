// Package mockauthority is a deterministic in-process authority used in
// development and tests. It never performs a network call.
package mockauthority

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/smallbiznis/fakturo/internal/compliance/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "mock"
}

func (f *Factory) NewAuthority(cfg domain.AuthorityConfig) (domain.Authority, error) {
	return &Authority{}, nil
}

type Authority struct{}

func (a *Authority) Provider() string {
	return "mock"
}

// Authenticate issues a synthetic token with a one-hour expiry.
func (a *Authority) Authenticate(ctx context.Context) (domain.Token, error) {
	return domain.Token{
		AccessToken: "mock-token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}, nil
}

// Submit accepts roughly nine out of ten invoices. The outcome is a pure
// function of the invoice number so repeated runs agree.
func (a *Authority) Submit(ctx context.Context, req domain.SubmitRequest) (domain.SubmissionResult, error) {
	now := time.Now().UTC()
	digest := numberDigest(req.InvoiceNumber)

	if rejected(digest) {
		return domain.SubmissionResult{
			Success:          false,
			SubmissionID:     fmt.Sprintf("MOCK-%08x", digest),
			Status:           "REJECTED",
			Message:          "document failed mock validation",
			ValidationErrors: []string{"mock: simulated rejection"},
			SubmittedAt:      now,
		}, nil
	}

	return domain.SubmissionResult{
		Success:      true,
		SubmissionID: fmt.Sprintf("MOCK-%08x", digest),
		GovernmentID: fmt.Sprintf("MOCK-%08x", digest),
		Status:       "SUBMITTED",
		SubmittedAt:  now,
	}, nil
}

// CheckStatus validates any submission that was deterministically
// accepted.
func (a *Authority) CheckStatus(ctx context.Context, governmentID string) (domain.StatusResult, error) {
	now := time.Now().UTC()
	return domain.StatusResult{
		GovernmentID: governmentID,
		Status:       "VALID",
		ValidatedAt:  &now,
	}, nil
}

func (a *Authority) Validate(ctx context.Context, formattedDocument string) (domain.ValidationResult, error) {
	if strings.TrimSpace(formattedDocument) == "" {
		return domain.ValidationResult{Valid: false, Errors: []string{"empty document"}}, nil
	}
	return domain.ValidationResult{Valid: true}, nil
}

func numberDigest(invoiceNumber string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(invoiceNumber))
	return h.Sum32()
}

func rejected(digest uint32) bool {
	return digest%10 == 9
}
