// Package disabled is the "none" provider, used when government
// compliance is administratively off. Every operation returns a
// deterministic accepted result so the rest of the system behaves the
// same in enabled and disabled configurations.
package disabled

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/smallbiznis/fakturo/internal/compliance/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "none"
}

func (f *Factory) NewAuthority(cfg domain.AuthorityConfig) (domain.Authority, error) {
	return &Authority{}, nil
}

type Authority struct{}

func (a *Authority) Provider() string {
	return "none"
}

func (a *Authority) Authenticate(ctx context.Context) (domain.Token, error) {
	return domain.Token{
		AccessToken: "disabled",
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}, nil
}

func (a *Authority) Submit(ctx context.Context, req domain.SubmitRequest) (domain.SubmissionResult, error) {
	now := time.Now().UTC()
	id := syntheticID(req.InvoiceNumber)
	validatedAt := now
	return domain.SubmissionResult{
		Success:      true,
		SubmissionID: id,
		GovernmentID: id,
		Status:       "VALIDATED",
		Message:      "compliance disabled",
		SubmittedAt:  now,
		ValidatedAt:  &validatedAt,
	}, nil
}

func (a *Authority) CheckStatus(ctx context.Context, governmentID string) (domain.StatusResult, error) {
	now := time.Now().UTC()
	return domain.StatusResult{
		GovernmentID: governmentID,
		Status:       "VALIDATED",
		ValidatedAt:  &now,
	}, nil
}

func (a *Authority) Validate(ctx context.Context, formattedDocument string) (domain.ValidationResult, error) {
	return domain.ValidationResult{Valid: true}, nil
}

func syntheticID(invoiceNumber string) string {
	h := fnv.New32a()
	h.Write([]byte(invoiceNumber))
	return fmt.Sprintf("NONE-%08x", h.Sum32())
}
