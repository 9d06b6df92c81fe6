package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/smallbiznis/fakturo/internal/customer/domain"
	"github.com/smallbiznis/fakturo/internal/invoice/calc"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	"github.com/smallbiznis/fakturo/internal/invoice/sequence"
	"github.com/smallbiznis/fakturo/internal/observability/metrics"
	"github.com/smallbiznis/fakturo/internal/orgcontext"
	pkgdb "github.com/smallbiznis/fakturo/pkg/db"
	"github.com/smallbiznis/fakturo/pkg/db/option"
	"github.com/smallbiznis/fakturo/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxLineItems = 100

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	CustomerRepo customerdomain.Repository
	Metrics      *metrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	allocator *sequence.Allocator
	customers customerdomain.Repository
	metrics   *metrics.Metrics

	invoicerepo repository.Repository[invoicedomain.Invoice]
	itemrepo    repository.Repository[invoicedomain.InvoiceLineItem]
}

func New(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("invoice.service"),
		genID:     p.GenID,
		allocator: sequence.New(),
		customers: p.CustomerRepo,
		metrics:   p.Metrics,

		invoicerepo: repository.ProvideStore[invoicedomain.Invoice](p.DB),
		itemrepo:    repository.ProvideStore[invoicedomain.InvoiceLineItem](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (invoicedomain.InvoiceWithItems, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.InvoiceWithItems{}, err
	}
	userID, _ := orgcontext.UserIDFromContext(ctx)

	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil {
		return invoicedomain.InvoiceWithItems{}, invoicedomain.ErrCustomerNotFound
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return invoicedomain.InvoiceWithItems{}, invoicedomain.ErrInvalidCurrency
	}
	if err := validateDates(req.InvoiceDate, req.DueDate); err != nil {
		return invoicedomain.InvoiceWithItems{}, err
	}
	if err := validateLineItems(req.LineItems); err != nil {
		return invoicedomain.InvoiceWithItems{}, err
	}

	var result invoicedomain.InvoiceWithItems
	// The unique index on (org_id, invoice_number) backstops the counter;
	// a duplicate key means another create won the same number, so take
	// the next one and try again once.
	for attempt := 0; attempt < 2; attempt++ {
		result, err = s.createOnce(ctx, orgID, userID, customerID, currency, req)
		if err == nil || !pkgdb.IsDuplicateKeyErr(err) {
			break
		}
		s.log.Warn("invoice number collision, retrying",
			zap.String("org_id", orgID.String()),
		)
	}
	if err != nil {
		return invoicedomain.InvoiceWithItems{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordInvoiceCreated(ctx, currency)
	}
	s.log.Info("invoice created",
		zap.String("org_id", orgID.String()),
		zap.String("invoice_id", result.Invoice.ID.String()),
		zap.String("invoice_number", result.Invoice.InvoiceNumber),
	)
	return result, nil
}

func (s *Service) createOnce(ctx context.Context, orgID, userID, customerID snowflake.ID, currency string, req invoicedomain.CreateInvoiceRequest) (invoicedomain.InvoiceWithItems, error) {
	var created invoicedomain.InvoiceWithItems
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer, err := s.customers.FindByID(ctx, tx, orgID, customerID)
		if err != nil {
			return err
		}
		if customer == nil {
			return invoicedomain.ErrCustomerNotFound
		}

		now := time.Now()
		seq, err := s.allocator.Next(ctx, tx, orgID, now)
		if err != nil {
			return err
		}

		totals := calc.InvoiceTotals(req.LineItems)
		invoice := invoicedomain.Invoice{
			ID:            s.genID.Generate(),
			OrgID:         orgID,
			CustomerID:    customerID,
			CreatedBy:     userID,
			InvoiceNumber: sequence.FormatNumber(now, seq),
			Status:        invoicedomain.InvoiceStatusDraft,
			PaymentStatus: invoicedomain.PaymentStatusUnpaid,
			Subtotal:      totals.Subtotal,
			TaxAmount:     totals.TaxAmount,
			TotalAmount:   totals.TotalAmount,
			Currency:      currency,
			InvoiceDate:   req.InvoiceDate,
			DueDate:       req.DueDate,
			Notes:         strings.TrimSpace(req.Notes),
			CreatedAt:     now.UTC(),
			UpdatedAt:     now.UTC(),
		}
		if err := s.invoicerepo.WithTrx(tx).Create(ctx, &invoice); err != nil {
			return err
		}

		items := s.buildLineItems(orgID, invoice.ID, req.LineItems, now.UTC())
		if err := s.itemrepo.WithTrx(tx).BatchCreate(ctx, items); err != nil {
			return err
		}

		created = invoicedomain.InvoiceWithItems{Invoice: invoice, LineItems: deref(items)}
		return nil
	})
	return created, err
}

func (s *Service) Update(ctx context.Context, id string, req invoicedomain.UpdateInvoiceRequest) (invoicedomain.InvoiceWithItems, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.InvoiceWithItems{}, err
	}
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return invoicedomain.InvoiceWithItems{}, invoicedomain.ErrNotFound
	}
	if req.LineItems != nil {
		if err := validateLineItems(req.LineItems); err != nil {
			return invoicedomain.InvoiceWithItems{}, err
		}
	}

	var updated invoicedomain.InvoiceWithItems
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadForUpdate(ctx, tx, orgID, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrNotFound
		}
		if req.LineItems != nil && invoice.Status != invoicedomain.InvoiceStatusDraft {
			return invoicedomain.ErrNotDraft
		}

		if req.CustomerID != nil {
			customerID, err := snowflake.ParseString(strings.TrimSpace(*req.CustomerID))
			if err != nil {
				return invoicedomain.ErrCustomerNotFound
			}
			customer, err := s.customers.FindByID(ctx, tx, orgID, customerID)
			if err != nil {
				return err
			}
			if customer == nil {
				return invoicedomain.ErrCustomerNotFound
			}
			invoice.CustomerID = customerID
		}

		invoiceDate := invoice.InvoiceDate
		if req.InvoiceDate != nil {
			invoiceDate = *req.InvoiceDate
		}
		dueDate := invoice.DueDate
		if req.DueDate != nil {
			dueDate = req.DueDate
		}
		if err := validateDates(invoiceDate, dueDate); err != nil {
			return err
		}
		invoice.InvoiceDate = invoiceDate
		invoice.DueDate = dueDate

		if req.Notes != nil {
			invoice.Notes = strings.TrimSpace(*req.Notes)
		}

		now := time.Now().UTC()
		items := []*invoicedomain.InvoiceLineItem{}
		if req.LineItems != nil {
			// Wholesale replacement keeps totals and items in lockstep.
			if err := tx.WithContext(ctx).
				Where("invoice_id = ?", invoiceID).
				Delete(&invoicedomain.InvoiceLineItem{}).Error; err != nil {
				return err
			}
			items = s.buildLineItems(orgID, invoiceID, req.LineItems, now)
			if err := s.itemrepo.WithTrx(tx).BatchCreate(ctx, items); err != nil {
				return err
			}
			totals := calc.InvoiceTotals(req.LineItems)
			invoice.Subtotal = totals.Subtotal
			invoice.TaxAmount = totals.TaxAmount
			invoice.TotalAmount = totals.TotalAmount
		} else {
			existing, err := s.itemrepo.WithTrx(tx).Find(ctx, &invoicedomain.InvoiceLineItem{InvoiceID: invoiceID})
			if err != nil {
				return err
			}
			items = existing
		}

		invoice.UpdatedAt = now
		if err := tx.WithContext(ctx).Save(invoice).Error; err != nil {
			return err
		}

		updated = invoicedomain.InvoiceWithItems{Invoice: *invoice, LineItems: deref(items)}
		return nil
	})
	if err != nil {
		return invoicedomain.InvoiceWithItems{}, err
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return err
	}
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return invoicedomain.ErrNotFound
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadForUpdate(ctx, tx, orgID, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrNotFound
		}
		if invoice.Status != invoicedomain.InvoiceStatusDraft {
			return invoicedomain.ErrNotDraft
		}

		// Recorded payments are ledger entries; they must be removed
		// through the payment service before the invoice can go.
		var paymentCount int64
		if err := tx.WithContext(ctx).
			Table("payments").
			Where("invoice_id = ?", invoiceID).
			Count(&paymentCount).Error; err != nil {
			return err
		}
		if paymentCount > 0 {
			return invoicedomain.ErrHasPayments
		}

		if err := tx.WithContext(ctx).
			Where("invoice_id = ?", invoiceID).
			Delete(&invoicedomain.InvoiceLineItem{}).Error; err != nil {
			return err
		}
		return tx.WithContext(ctx).
			Where("id = ?", invoiceID).
			Delete(&invoicedomain.Invoice{}).Error
	})
}

func (s *Service) Submit(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrNotFound
	}

	var submitted invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadForUpdate(ctx, tx, orgID, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrNotFound
		}
		if !invoice.Status.SubmitEligible() {
			return invoicedomain.ErrNotSubmittable
		}

		now := time.Now().UTC()
		invoice.Status = invoicedomain.InvoiceStatusSubmitted
		invoice.SubmittedAt = &now
		invoice.UpdatedAt = now
		if err := tx.WithContext(ctx).Save(invoice).Error; err != nil {
			return err
		}
		submitted = *invoice
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.log.Info("invoice submitted",
		zap.String("org_id", orgID.String()),
		zap.String("invoice_id", submitted.ID.String()),
	)
	return submitted, nil
}

func (s *Service) Cancel(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrNotFound
	}

	var cancelled invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadForUpdate(ctx, tx, orgID, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrNotFound
		}
		// Validated invoices are binding documents; voiding one requires
		// a credit note, not a cancel.
		if invoice.Status.Terminal() || invoice.Status == invoicedomain.InvoiceStatusValidated {
			return invoicedomain.ErrNotCancellable
		}

		now := time.Now().UTC()
		invoice.Status = invoicedomain.InvoiceStatusCancelled
		invoice.UpdatedAt = now
		if err := tx.WithContext(ctx).Save(invoice).Error; err != nil {
			return err
		}
		cancelled = *invoice
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	return cancelled, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (invoicedomain.InvoiceWithItems, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.InvoiceWithItems{}, err
	}
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return invoicedomain.InvoiceWithItems{}, invoicedomain.ErrNotFound
	}

	invoice, err := s.invoicerepo.FindOne(ctx, &invoicedomain.Invoice{ID: invoiceID, OrgID: orgID})
	if err != nil {
		return invoicedomain.InvoiceWithItems{}, err
	}
	if invoice == nil {
		return invoicedomain.InvoiceWithItems{}, invoicedomain.ErrNotFound
	}

	items, err := s.itemrepo.Find(ctx, &invoicedomain.InvoiceLineItem{InvoiceID: invoiceID})
	if err != nil {
		return invoicedomain.InvoiceWithItems{}, err
	}

	return invoicedomain.InvoiceWithItems{Invoice: *invoice, LineItems: deref(items)}, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	filter := &invoicedomain.Invoice{OrgID: orgID}
	if req.Status != nil {
		filter.Status = *req.Status
	}
	if req.CustomerID != nil {
		customerID, err := snowflake.ParseString(strings.TrimSpace(*req.CustomerID))
		if err == nil {
			filter.CustomerID = customerID
		}
	}

	options := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}),
	}
	if req.CreatedFrom != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.GTE,
			Value:    *req.CreatedFrom,
		}))
	}
	if req.CreatedTo != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.LTE,
			Value:    *req.CreatedTo,
		}))
	}
	if req.DueFrom != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "due_date",
			Operator: option.GTE,
			Value:    *req.DueFrom,
		}))
	}
	if req.DueTo != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "due_date",
			Operator: option.LTE,
			Value:    *req.DueTo,
		}))
	}

	items, err := s.invoicerepo.Find(ctx, filter, options...)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	invoices := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}

	return invoicedomain.ListInvoiceResponse{Invoices: invoices}, nil
}

func (s *Service) Stats(ctx context.Context) (invoicedomain.InvoiceStats, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.InvoiceStats{}, err
	}

	var rows []struct {
		Status invoicedomain.InvoiceStatus
		Count  int64
		Due    float64
	}
	err = s.db.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS count, COALESCE(SUM(total_amount - paid_amount), 0) AS due
		 FROM invoices
		 WHERE org_id = ?
		 GROUP BY status`,
		orgID,
	).Scan(&rows).Error
	if err != nil {
		return invoicedomain.InvoiceStats{}, err
	}

	stats := invoicedomain.InvoiceStats{}
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case invoicedomain.InvoiceStatusDraft, invoicedomain.InvoiceStatusPendingApproval, invoicedomain.InvoiceStatusApproved:
			stats.Draft += row.Count
		case invoicedomain.InvoiceStatusSubmitted:
			stats.Submitted += row.Count
		case invoicedomain.InvoiceStatusValidated:
			stats.Validated += row.Count
			stats.TotalDue += row.Due
		case invoicedomain.InvoiceStatusRejected:
			stats.Rejected += row.Count
		case invoicedomain.InvoiceStatusCancelled:
			stats.Cancelled += row.Count
		}
	}
	return stats, nil
}

func (s *Service) buildLineItems(orgID, invoiceID snowflake.ID, inputs []invoicedomain.LineItemInput, now time.Time) []*invoicedomain.InvoiceLineItem {
	items := make([]*invoicedomain.InvoiceLineItem, 0, len(inputs))
	for _, input := range inputs {
		line := calc.LineTotal(input.Quantity, input.UnitPrice, input.TaxRate)
		items = append(items, &invoicedomain.InvoiceLineItem{
			ID:          s.genID.Generate(),
			OrgID:       orgID,
			InvoiceID:   invoiceID,
			Description: strings.TrimSpace(input.Description),
			Quantity:    input.Quantity,
			UnitPrice:   input.UnitPrice,
			TaxRate:     input.TaxRate,
			TaxAmount:   line.TaxAmount,
			TotalAmount: line.Total,
			CreatedAt:   now,
		})
	}
	return items
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

func validateDates(invoiceDate time.Time, dueDate *time.Time) error {
	if invoiceDate.IsZero() {
		return invoicedomain.ErrInvalidInvoiceDate
	}
	today := time.Now()
	endOfToday := time.Date(today.Year(), today.Month(), today.Day(), 23, 59, 59, 0, today.Location())
	if invoiceDate.After(endOfToday) {
		return invoicedomain.ErrInvalidInvoiceDate
	}
	if dueDate != nil && dueDate.Before(invoiceDate) {
		return invoicedomain.ErrInvalidDueDate
	}
	return nil
}

func validateLineItems(items []invoicedomain.LineItemInput) error {
	if len(items) == 0 {
		return invoicedomain.ErrNoLineItems
	}
	if len(items) > maxLineItems {
		return invoicedomain.ErrTooManyLineItems
	}
	for _, item := range items {
		if item.Quantity <= 0 || item.UnitPrice < 0 || item.TaxRate < 0 || item.TaxRate > 100 {
			return invoicedomain.ErrInvalidLineItem
		}
	}
	return nil
}

func deref(items []*invoicedomain.InvoiceLineItem) []invoicedomain.InvoiceLineItem {
	out := make([]invoicedomain.InvoiceLineItem, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, *item)
	}
	return out
}
