// Package zatca adapts the Saudi ZATCA clearance authority.
package zatca

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/fakturo/internal/compliance/domain"
	"github.com/smallbiznis/fakturo/internal/compliance/providers/authorityhttp"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "zatca"
}

func (f *Factory) NewAuthority(cfg domain.AuthorityConfig) (domain.Authority, error) {
	client, err := authorityhttp.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Authority{client: client}, nil
}

type Authority struct {
	client *authorityhttp.Client
}

func (a *Authority) Provider() string {
	return "zatca"
}

func (a *Authority) Authenticate(ctx context.Context) (domain.Token, error) {
	return a.client.Authenticate(ctx)
}

type clearanceRequest struct {
	UUID    string `json:"uuid"`
	Invoice string `json:"invoice"`
}

type clearanceResponse struct {
	ClearanceStatus   string `json:"clearanceStatus"`
	ClearedInvoice    string `json:"clearedInvoice"`
	ReportingStatus   string `json:"reportingStatus"`
	ValidationResults struct {
		Status        string `json:"status"`
		ErrorMessages []struct {
			Message string `json:"message"`
		} `json:"errorMessages"`
	} `json:"validationResults"`
}

func (a *Authority) Submit(ctx context.Context, req domain.SubmitRequest) (domain.SubmissionResult, error) {
	now := time.Now().UTC()
	submissionID := uuid.NewString()
	payload := clearanceRequest{
		UUID:    submissionID,
		Invoice: base64.StdEncoding.EncodeToString([]byte(req.FormattedDocument)),
	}

	var resp clearanceResponse
	status, err := a.client.DoJSON(ctx, http.MethodPost, a.client.Endpoints().Submit, payload, &resp)
	if err != nil {
		return transportFailure(now, err.Error()), nil
	}
	if status < 200 || status >= 300 {
		return transportFailure(now, http.StatusText(status)), nil
	}

	if !strings.EqualFold(resp.ClearanceStatus, "CLEARED") {
		messages := make([]string, 0, len(resp.ValidationResults.ErrorMessages))
		for _, m := range resp.ValidationResults.ErrorMessages {
			messages = append(messages, m.Message)
		}
		return domain.SubmissionResult{
			Success:          false,
			SubmissionID:     submissionID,
			Status:           "REJECTED",
			Message:          resp.ValidationResults.Status,
			ValidationErrors: messages,
			SubmittedAt:      now,
		}, nil
	}

	// Clearance is synchronous; a cleared invoice is already validated.
	validatedAt := now
	return domain.SubmissionResult{
		Success:      true,
		SubmissionID: submissionID,
		GovernmentID: submissionID,
		Status:       "VALIDATED",
		SubmittedAt:  now,
		ValidatedAt:  &validatedAt,
	}, nil
}

func (a *Authority) CheckStatus(ctx context.Context, governmentID string) (domain.StatusResult, error) {
	var resp clearanceResponse
	status, err := a.client.DoJSON(ctx, http.MethodGet, fmt.Sprintf(a.client.Endpoints().Status, governmentID), nil, &resp)
	if err != nil {
		return domain.StatusResult{}, err
	}
	if status < 200 || status >= 300 {
		return domain.StatusResult{GovernmentID: governmentID, Status: "PENDING"}, nil
	}
	if strings.EqualFold(resp.ClearanceStatus, "CLEARED") {
		now := time.Now().UTC()
		return domain.StatusResult{GovernmentID: governmentID, Status: "VALIDATED", ValidatedAt: &now}, nil
	}
	return domain.StatusResult{
		GovernmentID:    governmentID,
		Status:          "REJECTED",
		RejectionReason: resp.ValidationResults.Status,
	}, nil
}

func (a *Authority) Validate(ctx context.Context, formattedDocument string) (domain.ValidationResult, error) {
	payload := map[string]string{
		"invoice": base64.StdEncoding.EncodeToString([]byte(formattedDocument)),
	}

	var resp clearanceResponse
	status, err := a.client.DoJSON(ctx, http.MethodPost, a.client.Endpoints().Validate, payload, &resp)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	if status < 200 || status >= 300 {
		return domain.ValidationResult{Valid: false, Errors: []string{http.StatusText(status)}}, nil
	}

	if strings.EqualFold(resp.ValidationResults.Status, "PASS") {
		return domain.ValidationResult{Valid: true}, nil
	}
	messages := make([]string, 0, len(resp.ValidationResults.ErrorMessages))
	for _, m := range resp.ValidationResults.ErrorMessages {
		messages = append(messages, m.Message)
	}
	return domain.ValidationResult{Valid: false, Errors: messages}, nil
}

func transportFailure(now time.Time, message string) domain.SubmissionResult {
	return domain.SubmissionResult{
		Success:      false,
		SubmissionID: "ERR-" + uuid.NewString(),
		Status:       "REJECTED",
		Message:      message,
		SubmittedAt:  now,
	}
}
