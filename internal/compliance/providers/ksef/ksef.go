// Package ksef adapts the Polish KSeF national e-invoice system.
package ksef

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
	return "ksef"
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
	return "ksef"
}

func (a *Authority) Authenticate(ctx context.Context) (domain.Token, error) {
	return a.client.Authenticate(ctx)
}

type sendInvoiceRequest struct {
	InvoiceHash struct {
		Content string `json:"content"`
	} `json:"invoicePayload"`
	ReferenceNumber string `json:"referenceNumber"`
}

type sendInvoiceResponse struct {
	ElementReferenceNumber string `json:"elementReferenceNumber"`
	KsefReferenceNumber    string `json:"ksefReferenceNumber"`
	ProcessingCode         int    `json:"processingCode"`
	ProcessingDescription  string `json:"processingDescription"`
	Exceptions             []struct {
		ExceptionDescription string `json:"exceptionDescription"`
	} `json:"exceptions"`
}

func (a *Authority) Submit(ctx context.Context, req domain.SubmitRequest) (domain.SubmissionResult, error) {
	now := time.Now().UTC()
	var payload sendInvoiceRequest
	payload.InvoiceHash.Content = base64.StdEncoding.EncodeToString([]byte(req.FormattedDocument))
	payload.ReferenceNumber = req.InvoiceNumber

	var resp sendInvoiceResponse
	status, err := a.client.DoJSON(ctx, http.MethodPost, a.client.Endpoints().Submit, payload, &resp)
	if err != nil {
		return transportFailure(now, err.Error()), nil
	}
	if status < 200 || status >= 300 {
		return transportFailure(now, http.StatusText(status)), nil
	}

	// KSeF processing codes: 1xx accepted for processing, anything else
	// is a rejection.
	if resp.ProcessingCode < 100 || resp.ProcessingCode >= 200 {
		messages := make([]string, 0, len(resp.Exceptions))
		for _, e := range resp.Exceptions {
			messages = append(messages, e.ExceptionDescription)
		}
		return domain.SubmissionResult{
			Success:          false,
			SubmissionID:     resp.ElementReferenceNumber,
			Status:           "REJECTED",
			Message:          resp.ProcessingDescription,
			ValidationErrors: messages,
			SubmittedAt:      now,
		}, nil
	}

	governmentID := resp.KsefReferenceNumber
	if governmentID == "" {
		governmentID = resp.ElementReferenceNumber
	}
	return domain.SubmissionResult{
		Success:      true,
		SubmissionID: resp.ElementReferenceNumber,
		GovernmentID: governmentID,
		Status:       "SUBMITTED",
		SubmittedAt:  now,
	}, nil
}

type invoiceStatusResponse struct {
	ProcessingCode        int    `json:"processingCode"`
	ProcessingDescription string `json:"processingDescription"`
	AcquisitionTimestamp  string `json:"acquisitionTimestamp"`
}

func (a *Authority) CheckStatus(ctx context.Context, governmentID string) (domain.StatusResult, error) {
	var resp invoiceStatusResponse
	status, err := a.client.DoJSON(ctx, http.MethodGet, fmt.Sprintf(a.client.Endpoints().Status, governmentID), nil, &resp)
	if err != nil {
		return domain.StatusResult{}, err
	}
	if status < 200 || status >= 300 {
		return domain.StatusResult{GovernmentID: governmentID, Status: "PENDING"}, nil
	}

	switch {
	case resp.ProcessingCode == 200:
		result := domain.StatusResult{GovernmentID: governmentID, Status: "VALIDATED"}
		if validated, err := time.Parse(time.RFC3339, resp.AcquisitionTimestamp); err == nil {
			result.ValidatedAt = &validated
		}
		return result, nil
	case resp.ProcessingCode >= 400:
		return domain.StatusResult{
			GovernmentID:    governmentID,
			Status:          "REJECTED",
			RejectionReason: resp.ProcessingDescription,
		}, nil
	default:
		return domain.StatusResult{GovernmentID: governmentID, Status: "PENDING"}, nil
	}
}

func (a *Authority) Validate(ctx context.Context, formattedDocument string) (domain.ValidationResult, error) {
	// KSeF has no standalone validation endpoint; run a structural check
	// locally so malformed documents never reach the send endpoint.
	doc := strings.TrimSpace(formattedDocument)
	if doc == "" || !strings.HasPrefix(doc, "<?xml") {
		return domain.ValidationResult{Valid: false, Errors: []string{"document is not XML"}}, nil
	}
	return domain.ValidationResult{Valid: true}, nil
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
