// Package myinvois adapts the Malaysian MyInvois authority.
package myinvois

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
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
	return "myinvois"
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
	return "myinvois"
}

func (a *Authority) Authenticate(ctx context.Context) (domain.Token, error) {
	return a.client.Authenticate(ctx)
}

type submitDocument struct {
	Format     string `json:"format"`
	Document   string `json:"document"`
	CodeNumber string `json:"codeNumber"`
}

type submitRequest struct {
	Documents []submitDocument `json:"documents"`
}

type submitResponse struct {
	SubmissionUID     string `json:"submissionUid"`
	AcceptedDocuments []struct {
		UUID              string `json:"uuid"`
		InvoiceCodeNumber string `json:"invoiceCodeNumber"`
	} `json:"acceptedDocuments"`
	RejectedDocuments []struct {
		InvoiceCodeNumber string `json:"invoiceCodeNumber"`
		Error             struct {
			Message string   `json:"message"`
			Details []string `json:"details"`
		} `json:"error"`
	} `json:"rejectedDocuments"`
}

func (a *Authority) Submit(ctx context.Context, req domain.SubmitRequest) (domain.SubmissionResult, error) {
	now := time.Now().UTC()
	payload := submitRequest{
		Documents: []submitDocument{{
			Format:     "XML",
			Document:   base64.StdEncoding.EncodeToString([]byte(req.FormattedDocument)),
			CodeNumber: req.InvoiceNumber,
		}},
	}

	var resp submitResponse
	status, err := a.client.DoJSON(ctx, http.MethodPost, a.client.Endpoints().Submit, payload, &resp)
	if err != nil {
		return transportFailure(now, err.Error()), nil
	}
	if status < 200 || status >= 300 {
		return transportFailure(now, http.StatusText(status)), nil
	}

	if len(resp.RejectedDocuments) > 0 {
		rejected := resp.RejectedDocuments[0]
		return domain.SubmissionResult{
			Success:          false,
			SubmissionID:     resp.SubmissionUID,
			Status:           "REJECTED",
			Message:          rejected.Error.Message,
			ValidationErrors: rejected.Error.Details,
			SubmittedAt:      now,
		}, nil
	}
	if len(resp.AcceptedDocuments) == 0 {
		return transportFailure(now, "empty submission response"), nil
	}

	return domain.SubmissionResult{
		Success:      true,
		SubmissionID: resp.SubmissionUID,
		GovernmentID: resp.AcceptedDocuments[0].UUID,
		Status:       "SUBMITTED",
		SubmittedAt:  now,
	}, nil
}

type statusResponse struct {
	UUID              string `json:"uuid"`
	Status            string `json:"status"`
	DateTimeValidated string `json:"dateTimeValidated"`
	Error             struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Authority) CheckStatus(ctx context.Context, governmentID string) (domain.StatusResult, error) {
	var resp statusResponse
	status, err := a.client.DoJSON(ctx, http.MethodGet, fmt.Sprintf(a.client.Endpoints().Status, governmentID), nil, &resp)
	if err != nil {
		return domain.StatusResult{}, err
	}
	if status < 200 || status >= 300 {
		return domain.StatusResult{
			GovernmentID: governmentID,
			Status:       "PENDING",
		}, nil
	}

	result := domain.StatusResult{
		GovernmentID:    governmentID,
		Status:          resp.Status,
		RejectionReason: resp.Error.Message,
	}
	if validated, err := time.Parse(time.RFC3339, resp.DateTimeValidated); err == nil {
		result.ValidatedAt = &validated
	}
	return result, nil
}

type validateResponse struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (a *Authority) Validate(ctx context.Context, formattedDocument string) (domain.ValidationResult, error) {
	payload := map[string]string{
		"format":   "XML",
		"document": base64.StdEncoding.EncodeToString([]byte(formattedDocument)),
	}

	var resp validateResponse
	status, err := a.client.DoJSON(ctx, http.MethodPost, a.client.Endpoints().Validate, payload, &resp)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	if status < 200 || status >= 300 {
		return domain.ValidationResult{Valid: false, Errors: []string{http.StatusText(status)}}, nil
	}
	return domain.ValidationResult{Valid: resp.IsValid, Errors: resp.Errors, Warnings: resp.Warnings}, nil
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
