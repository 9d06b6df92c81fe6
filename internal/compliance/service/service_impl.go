package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	compliancedomain "github.com/smallbiznis/fakturo/internal/compliance/domain"
	"github.com/smallbiznis/fakturo/internal/compliance/format"
	customerdomain "github.com/smallbiznis/fakturo/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	"github.com/smallbiznis/fakturo/internal/lock"
	"github.com/smallbiznis/fakturo/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/fakturo/internal/organization/domain"
	"github.com/smallbiznis/fakturo/internal/orgcontext"
	"github.com/smallbiznis/fakturo/pkg/db/option"
	"github.com/smallbiznis/fakturo/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const submitLockTTL = 30 * time.Second

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Authority    compliancedomain.Authority
	Formatter    *format.Formatter
	CustomerRepo customerdomain.Repository
	Locker       *lock.Locker     `optional:"true"`
	Metrics      *metrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	authority compliancedomain.Authority
	formatter *format.Formatter
	customers customerdomain.Repository
	locker    *lock.Locker
	metrics   *metrics.Metrics

	orgrepo    repository.Repository[orgdomain.Organization]
	recordrepo repository.Repository[compliancedomain.SubmissionRecord]
}

func New(p ServiceParam) compliancedomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("compliance.service"),
		genID:     p.GenID,
		authority: p.Authority,
		formatter: p.Formatter,
		customers: p.CustomerRepo,
		locker:    p.Locker,
		metrics:   p.Metrics,

		orgrepo:    repository.ProvideStore[orgdomain.Organization](p.DB),
		recordrepo: repository.ProvideStore[compliancedomain.SubmissionRecord](p.DB),
	}
}

func (s *Service) SubmitToGovernment(ctx context.Context, invoiceID string) (compliancedomain.SubmissionOutcome, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return compliancedomain.SubmissionOutcome{}, err
	}
	id, err := snowflake.ParseString(strings.TrimSpace(invoiceID))
	if err != nil {
		return compliancedomain.SubmissionOutcome{}, invoicedomain.ErrNotFound
	}

	lockKey := "compliance:submit:" + id.String()
	token, acquired, err := s.locker.TryLock(ctx, lockKey, submitLockTTL)
	if err != nil {
		return compliancedomain.SubmissionOutcome{}, err
	}
	if !acquired {
		return compliancedomain.SubmissionOutcome{}, compliancedomain.ErrAlreadySubmitted
	}
	defer func() {
		if err := s.locker.Release(ctx, lockKey, token); err != nil {
			s.log.Warn("failed to release submit lock", zap.String("key", lockKey), zap.Error(err))
		}
	}()

	return s.submit(ctx, orgID, id)
}

func (s *Service) submit(ctx context.Context, orgID, id snowflake.ID) (compliancedomain.SubmissionOutcome, error) {
	var outcome compliancedomain.SubmissionOutcome
	var docInvalid bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadForUpdate(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrNotFound
		}
		if invoice.GovernmentID != nil {
			return compliancedomain.ErrAlreadySubmitted
		}

		org, err := s.orgrepo.WithTrx(tx).FindOne(ctx, &orgdomain.Organization{ID: orgID})
		if err != nil {
			return err
		}
		customer, err := s.customers.FindByID(ctx, tx, orgID, invoice.CustomerID)
		if err != nil {
			return err
		}

		var items []invoicedomain.InvoiceLineItem
		if err := tx.WithContext(ctx).
			Where("invoice_id = ?", id).
			Order("id asc").
			Find(&items).Error; err != nil {
			return err
		}

		document, err := s.formatter.Render(org, customer, *invoice, items)
		if err != nil {
			return err
		}

		validation, err := s.authority.Validate(ctx, document)
		if err != nil {
			return err
		}
		if !validation.Valid {
			s.log.Warn("document failed pre-submission validation",
				zap.String("invoice_id", id.String()),
				zap.Strings("errors", validation.Errors),
			)
			// The invoice itself stays untouched; only the attempt is recorded.
			docInvalid = true
			return s.recordSubmission(ctx, tx, orgID, id, compliancedomain.SubmissionResult{
				Success:          false,
				SubmissionID:     "ERR-" + uuid.NewString(),
				Status:           "REJECTED",
				Message:          "document failed pre-submission validation",
				ValidationErrors: validation.Errors,
				SubmittedAt:      time.Now().UTC(),
			})
		}

		result, err := s.authority.Submit(ctx, compliancedomain.SubmitRequest{
			InvoiceNumber:     invoice.InvoiceNumber,
			FormattedDocument: document,
			IssueDate:         invoice.InvoiceDate,
			TotalAmount:       invoice.TotalAmount,
			Currency:          invoice.Currency,
		})
		if err != nil {
			return err
		}

		s.applySubmission(invoice, document, result)
		if err := tx.WithContext(ctx).Save(invoice).Error; err != nil {
			return err
		}
		if err := s.recordSubmission(ctx, tx, orgID, id, result); err != nil {
			return err
		}

		outcome = compliancedomain.SubmissionOutcome{Invoice: *invoice, Response: result}
		return nil
	})
	if err != nil {
		return compliancedomain.SubmissionOutcome{}, err
	}
	if docInvalid {
		if s.metrics != nil {
			s.metrics.RecordSubmission(ctx, s.authority.Provider(), "rejected")
		}
		return compliancedomain.SubmissionOutcome{}, compliancedomain.ErrDocumentInvalid
	}

	outcomeLabel := "rejected"
	if outcome.Response.Success {
		outcomeLabel = "accepted"
	}
	if s.metrics != nil {
		s.metrics.RecordSubmission(ctx, s.authority.Provider(), outcomeLabel)
	}
	s.log.Info("invoice submitted to authority",
		zap.String("invoice_id", id.String()),
		zap.String("provider", s.authority.Provider()),
		zap.String("outcome", outcomeLabel),
	)
	return outcome, nil
}

// applySubmission maps an authority response onto the invoice. A failed
// submission is a recorded rejection, never an error.
func (s *Service) applySubmission(invoice *invoicedomain.Invoice, document string, result compliancedomain.SubmissionResult) {
	now := time.Now().UTC()
	status := result.Status
	invoice.GovernmentStatus = &status
	invoice.SubmittedAt = &result.SubmittedAt
	invoice.FormattedDocument = &document
	invoice.UpdatedAt = now

	if !result.Success {
		invoice.Status = invoicedomain.InvoiceStatusRejected
		return
	}

	governmentID := result.GovernmentID
	if governmentID == "" {
		governmentID = result.SubmissionID
	}
	invoice.GovernmentID = &governmentID
	invoice.Status = compliancedomain.MapAuthorityStatus(result.Status)
	if invoice.Status == invoicedomain.InvoiceStatusValidated {
		validatedAt := now
		if result.ValidatedAt != nil {
			validatedAt = *result.ValidatedAt
		}
		invoice.ValidatedAt = &validatedAt
	}
}

func (s *Service) recordSubmission(ctx context.Context, tx *gorm.DB, orgID, invoiceID snowflake.ID, result compliancedomain.SubmissionResult) error {
	detail := datatypes.JSONMap{}
	if len(result.ValidationErrors) > 0 {
		errs := make([]any, 0, len(result.ValidationErrors))
		for _, e := range result.ValidationErrors {
			errs = append(errs, e)
		}
		detail["validation_errors"] = errs
	}

	record := &compliancedomain.SubmissionRecord{
		ID:           s.genID.Generate(),
		OrgID:        orgID,
		InvoiceID:    invoiceID,
		RequestID:    uuid.NewString(),
		Provider:     s.authority.Provider(),
		SubmissionID: result.SubmissionID,
		GovernmentID: result.GovernmentID,
		Status:       result.Status,
		Success:      result.Success,
		Message:      result.Message,
		Detail:       detail,
		CreatedAt:    time.Now().UTC(),
	}
	return s.recordrepo.WithTrx(tx).Create(ctx, record)
}

func (s *Service) CheckGovernmentStatus(ctx context.Context, invoiceID string) (compliancedomain.StatusOutcome, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return compliancedomain.StatusOutcome{}, err
	}
	id, err := snowflake.ParseString(strings.TrimSpace(invoiceID))
	if err != nil {
		return compliancedomain.StatusOutcome{}, invoicedomain.ErrNotFound
	}

	var outcome compliancedomain.StatusOutcome
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadForUpdate(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrNotFound
		}
		if invoice.GovernmentID == nil {
			return compliancedomain.ErrNotSubmitted
		}

		status, err := s.authority.CheckStatus(ctx, *invoice.GovernmentID)
		if err != nil {
			return err
		}

		stored := ""
		if invoice.GovernmentStatus != nil {
			stored = *invoice.GovernmentStatus
		}
		if !strings.EqualFold(stored, status.Status) {
			governmentStatus := status.Status
			invoice.GovernmentStatus = &governmentStatus
			invoice.Status = compliancedomain.MapAuthorityStatus(status.Status)
			if invoice.Status == invoicedomain.InvoiceStatusValidated {
				validatedAt := time.Now().UTC()
				if status.ValidatedAt != nil {
					validatedAt = *status.ValidatedAt
				}
				invoice.ValidatedAt = &validatedAt
			}
			invoice.UpdatedAt = time.Now().UTC()
			if err := tx.WithContext(ctx).Save(invoice).Error; err != nil {
				return err
			}
		}

		outcome = compliancedomain.StatusOutcome{Invoice: *invoice, Status: status}
		return nil
	})
	if err != nil {
		return compliancedomain.StatusOutcome{}, err
	}
	return outcome, nil
}

// RetrySubmission clears the previous attempt's government fields and
// submits again. This is the only path that may submit the same invoice
// twice.
func (s *Service) RetrySubmission(ctx context.Context, invoiceID string) (compliancedomain.SubmissionOutcome, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return compliancedomain.SubmissionOutcome{}, err
	}
	id, err := snowflake.ParseString(strings.TrimSpace(invoiceID))
	if err != nil {
		return compliancedomain.SubmissionOutcome{}, invoicedomain.ErrNotFound
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadForUpdate(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrNotFound
		}
		if invoice.GovernmentID == nil && invoice.GovernmentStatus == nil && invoice.SubmittedAt == nil {
			return compliancedomain.ErrNotSubmitted
		}

		return tx.WithContext(ctx).Model(&invoicedomain.Invoice{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"government_id":     nil,
				"government_status": nil,
				"submitted_at":      nil,
				"validated_at":      nil,
				"status":            invoicedomain.InvoiceStatusDraft,
				"updated_at":        time.Now().UTC(),
			}).Error
	})
	if err != nil {
		return compliancedomain.SubmissionOutcome{}, err
	}

	return s.SubmitToGovernment(ctx, invoiceID)
}

func (s *Service) History(ctx context.Context, invoiceID string) ([]compliancedomain.SubmissionRecord, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	id, err := snowflake.ParseString(strings.TrimSpace(invoiceID))
	if err != nil {
		return nil, invoicedomain.ErrNotFound
	}

	rows, err := s.recordrepo.Find(ctx,
		&compliancedomain.SubmissionRecord{OrgID: orgID, InvoiceID: id},
		option.WithSortBy(option.QuerySortBy{}),
	)
	if err != nil {
		return nil, err
	}

	records := make([]compliancedomain.SubmissionRecord, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		records = append(records, *row)
	}
	return records, nil
}

func (s *Service) Stats(ctx context.Context) (compliancedomain.ComplianceStats, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return compliancedomain.ComplianceStats{}, err
	}

	var rows []struct {
		Status invoicedomain.InvoiceStatus
		Count  int64
	}
	err = s.db.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS count
		 FROM invoices
		 WHERE org_id = ? AND submitted_at IS NOT NULL
		 GROUP BY status`,
		orgID,
	).Scan(&rows).Error
	if err != nil {
		return compliancedomain.ComplianceStats{}, err
	}

	stats := compliancedomain.ComplianceStats{}
	for _, row := range rows {
		stats.Submitted += row.Count
		switch row.Status {
		case invoicedomain.InvoiceStatusValidated:
			stats.Validated += row.Count
		case invoicedomain.InvoiceStatusRejected:
			stats.Rejected += row.Count
		case invoicedomain.InvoiceStatusSubmitted:
			stats.Pending += row.Count
		}
	}
	if stats.Submitted > 0 {
		stats.ComplianceRate = float64(stats.Validated) / float64(stats.Submitted)
	}
	return stats, nil
}

func (s *Service) loadForUpdate(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	stmt := tx.WithContext(ctx)
	if tx.Dialector.Name() != "sqlite" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var invoice invoicedomain.Invoice
	err := stmt.Where("id = ? AND org_id = ?", id, orgID).Limit(1).Find(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, invoicedomain.ErrInvalidOrganization
	}
	return orgID, nil
}
