// Package efactura adapts the Romanian e-Factura (ANAF) system.
package efactura

import (
	"context"
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
	return "efactura"
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
	return "efactura"
}

func (a *Authority) Authenticate(ctx context.Context) (domain.Token, error) {
	return a.client.Authenticate(ctx)
}

type uploadResponse struct {
	IndexIncarcare  string `json:"index_incarcare"`
	ExecutionStatus int    `json:"ExecutionStatus"`
	Errors          []struct {
		ErrorMessage string `json:"errorMessage"`
	} `json:"Errors"`
}

func (a *Authority) Submit(ctx context.Context, req domain.SubmitRequest) (domain.SubmissionResult, error) {
	now := time.Now().UTC()
	payload := map[string]string{
		"standard": "UBL",
		"cif":      req.InvoiceNumber,
		"xml":      req.FormattedDocument,
	}

	var resp uploadResponse
	status, err := a.client.DoJSON(ctx, http.MethodPost, a.client.Endpoints().Submit, payload, &resp)
	if err != nil {
		return transportFailure(now, err.Error()), nil
	}
	if status < 200 || status >= 300 {
		return transportFailure(now, http.StatusText(status)), nil
	}

	if resp.ExecutionStatus != 0 || resp.IndexIncarcare == "" {
		messages := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			messages = append(messages, e.ErrorMessage)
		}
		return domain.SubmissionResult{
			Success:          false,
			SubmissionID:     "ERR-" + uuid.NewString(),
			Status:           "REJECTED",
			ValidationErrors: messages,
			SubmittedAt:      now,
		}, nil
	}

	return domain.SubmissionResult{
		Success:      true,
		SubmissionID: resp.IndexIncarcare,
		GovernmentID: resp.IndexIncarcare,
		Status:       "SUBMITTED",
		SubmittedAt:  now,
	}, nil
}

type messageStateResponse struct {
	Stare  string `json:"stare"`
	Mesaje []struct {
		Detalii string `json:"detalii"`
	} `json:"Mesaje"`
}

func (a *Authority) CheckStatus(ctx context.Context, governmentID string) (domain.StatusResult, error) {
	var resp messageStateResponse
	status, err := a.client.DoJSON(ctx, http.MethodGet, fmt.Sprintf(a.client.Endpoints().Status, governmentID), nil, &resp)
	if err != nil {
		return domain.StatusResult{}, err
	}
	if status < 200 || status >= 300 {
		return domain.StatusResult{GovernmentID: governmentID, Status: "PENDING"}, nil
	}

	switch strings.ToLower(strings.TrimSpace(resp.Stare)) {
	case "ok":
		now := time.Now().UTC()
		return domain.StatusResult{GovernmentID: governmentID, Status: "VALIDATED", ValidatedAt: &now}, nil
	case "nok":
		reason := ""
		if len(resp.Mesaje) > 0 {
			reason = resp.Mesaje[0].Detalii
		}
		return domain.StatusResult{GovernmentID: governmentID, Status: "REJECTED", RejectionReason: reason}, nil
	default:
		return domain.StatusResult{GovernmentID: governmentID, Status: "PENDING"}, nil
	}
}

type validateXMLResponse struct {
	Stare  string `json:"stare"`
	Mesaje []struct {
		Detalii string `json:"detalii"`
	} `json:"Mesaje"`
}

func (a *Authority) Validate(ctx context.Context, formattedDocument string) (domain.ValidationResult, error) {
	payload := map[string]string{
		"standard": "UBL",
		"xml":      formattedDocument,
	}

	var resp validateXMLResponse
	status, err := a.client.DoJSON(ctx, http.MethodPost, a.client.Endpoints().Validate, payload, &resp)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	if status < 200 || status >= 300 {
		return domain.ValidationResult{Valid: false, Errors: []string{http.StatusText(status)}}, nil
	}

	if strings.EqualFold(strings.TrimSpace(resp.Stare), "ok") {
		return domain.ValidationResult{Valid: true}, nil
	}
	messages := make([]string, 0, len(resp.Mesaje))
	for _, m := range resp.Mesaje {
		messages = append(messages, m.Detalii)
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
