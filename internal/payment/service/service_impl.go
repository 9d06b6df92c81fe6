package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	"github.com/smallbiznis/fakturo/internal/observability/metrics"
	"github.com/smallbiznis/fakturo/internal/orgcontext"
	paymentdomain "github.com/smallbiznis/fakturo/internal/payment/domain"
	"github.com/smallbiznis/fakturo/pkg/db/option"
	"github.com/smallbiznis/fakturo/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	metrics *metrics.Metrics

	paymentrepo repository.Repository[paymentdomain.Payment]
}

func New(p ServiceParam) paymentdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("payment.service"),
		genID:   p.GenID,
		metrics: p.Metrics,

		paymentrepo: repository.ProvideStore[paymentdomain.Payment](p.DB),
	}
}

func (s *Service) Record(ctx context.Context, req paymentdomain.RecordPaymentRequest) (paymentdomain.PaymentOutcome, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return paymentdomain.PaymentOutcome{}, err
	}
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(req.InvoiceID))
	if err != nil {
		return paymentdomain.PaymentOutcome{}, invoicedomain.ErrNotFound
	}
	if req.Amount <= 0 {
		return paymentdomain.PaymentOutcome{}, paymentdomain.ErrInvalidAmount
	}
	method, ok := paymentdomain.ParseMethod(req.Method)
	if !ok {
		return paymentdomain.PaymentOutcome{}, paymentdomain.ErrInvalidMethod
	}

	userID, _ := orgcontext.UserIDFromContext(ctx)
	paymentDate := time.Now().UTC()
	if req.PaymentDate != nil {
		paymentDate = *req.PaymentDate
	}

	var outcome paymentdomain.PaymentOutcome
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadInvoiceForUpdate(ctx, tx, orgID, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrNotFound
		}

		previouslyPaid, err := s.sumPayments(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		amount := decimal.NewFromFloat(req.Amount).Round(2)
		totalPaid := previouslyPaid.Add(amount)
		total := decimal.NewFromFloat(invoice.TotalAmount)
		if totalPaid.GreaterThan(total) {
			return paymentdomain.ErrExceedsInvoiceTotal
		}

		payment := paymentdomain.Payment{
			ID:          s.genID.Generate(),
			OrgID:       orgID,
			InvoiceID:   invoiceID,
			Amount:      amount.InexactFloat64(),
			Method:      method,
			Reference:   strings.TrimSpace(req.Reference),
			Notes:       strings.TrimSpace(req.Notes),
			PaymentDate: paymentDate,
			CreatedBy:   userID,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.paymentrepo.WithTrx(tx).Create(ctx, &payment); err != nil {
			return err
		}

		s.applyPaidState(invoice, totalPaid, total, &paymentDate)
		if err := tx.WithContext(ctx).Save(invoice).Error; err != nil {
			return err
		}

		outcome = paymentdomain.PaymentOutcome{Payment: payment, Invoice: *invoice}
		return nil
	})
	if err != nil {
		return paymentdomain.PaymentOutcome{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordPayment(ctx, string(method))
	}
	s.log.Info("payment recorded",
		zap.String("invoice_id", invoiceID.String()),
		zap.Float64("amount", outcome.Payment.Amount),
		zap.String("payment_status", string(outcome.Invoice.PaymentStatus)),
	)
	return outcome, nil
}

func (s *Service) Delete(ctx context.Context, paymentID string) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	id, err := snowflake.ParseString(strings.TrimSpace(paymentID))
	if err != nil {
		return invoicedomain.Invoice{}, paymentdomain.ErrNotFound
	}

	var updated invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.paymentrepo.WithTrx(tx).FindOne(ctx, &paymentdomain.Payment{ID: id, OrgID: orgID})
		if err != nil {
			return err
		}
		if payment == nil {
			return paymentdomain.ErrNotFound
		}

		invoice, err := s.loadInvoiceForUpdate(ctx, tx, orgID, payment.InvoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrNotFound
		}

		if err := tx.WithContext(ctx).
			Where("id = ?", id).
			Delete(&paymentdomain.Payment{}).Error; err != nil {
			return err
		}

		totalPaid, err := s.sumPayments(ctx, tx, payment.InvoiceID)
		if err != nil {
			return err
		}
		total := decimal.NewFromFloat(invoice.TotalAmount)

		var latest *time.Time
		if totalPaid.GreaterThanOrEqual(total) && totalPaid.IsPositive() {
			var remaining paymentdomain.Payment
			err := tx.WithContext(ctx).
				Where("invoice_id = ?", payment.InvoiceID).
				Order("payment_date desc").
				Limit(1).
				Find(&remaining).Error
			if err != nil {
				return err
			}
			if remaining.ID != 0 {
				latest = &remaining.PaymentDate
			}
		}

		s.applyPaidState(invoice, totalPaid, total, latest)
		if err := tx.WithContext(ctx).Save(invoice).Error; err != nil {
			return err
		}

		updated = *invoice
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	return updated, nil
}

func (s *Service) List(ctx context.Context, invoiceID string) ([]paymentdomain.Payment, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	id, err := snowflake.ParseString(strings.TrimSpace(invoiceID))
	if err != nil {
		return nil, invoicedomain.ErrNotFound
	}

	rows, err := s.paymentrepo.Find(ctx,
		&paymentdomain.Payment{OrgID: orgID, InvoiceID: id},
		option.WithSortBy(option.QuerySortBy{}),
	)
	if err != nil {
		return nil, err
	}

	payments := make([]paymentdomain.Payment, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		payments = append(payments, *row)
	}
	return payments, nil
}

// OverdueInvoices lists validated invoices past due and not fully paid.
// Unvalidated invoices are not binding obligations and never show up
// here.
func (s *Service) OverdueInvoices(ctx context.Context) ([]invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var invoices []invoicedomain.Invoice
	err = s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Where("status = ?", invoicedomain.InvoiceStatusValidated).
		Where("payment_status <> ?", invoicedomain.PaymentStatusPaid).
		Where("due_date IS NOT NULL AND due_date < ?", time.Now().UTC()).
		Order("due_date asc").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *Service) Stats(ctx context.Context) (paymentdomain.PaymentStats, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return paymentdomain.PaymentStats{}, err
	}

	var row struct {
		Received    float64
		Outstanding float64
		Count       int64
	}
	err = s.db.WithContext(ctx).Raw(
		`SELECT
		   COALESCE(SUM(paid_amount), 0) AS received,
		   COALESCE(SUM(total_amount - paid_amount), 0) AS outstanding,
		   (SELECT COUNT(*) FROM payments p
		      JOIN invoices i ON i.id = p.invoice_id
		      WHERE p.org_id = ? AND i.status = ?) AS count
		 FROM invoices
		 WHERE org_id = ? AND status = ?`,
		orgID, invoicedomain.InvoiceStatusValidated,
		orgID, invoicedomain.InvoiceStatusValidated,
	).Scan(&row).Error
	if err != nil {
		return paymentdomain.PaymentStats{}, err
	}

	return paymentdomain.PaymentStats{
		TotalReceived:    row.Received,
		TotalOutstanding: row.Outstanding,
		PaymentCount:     row.Count,
	}, nil
}

// applyPaidState writes the three-way payment status onto the invoice.
// paymentDate is only kept while the invoice is fully paid.
func (s *Service) applyPaidState(invoice *invoicedomain.Invoice, totalPaid, total decimal.Decimal, paidAt *time.Time) {
	invoice.PaidAmount = totalPaid.InexactFloat64()
	invoice.UpdatedAt = time.Now().UTC()

	switch {
	case totalPaid.GreaterThanOrEqual(total) && totalPaid.IsPositive():
		invoice.PaymentStatus = invoicedomain.PaymentStatusPaid
		invoice.PaymentDate = paidAt
	case totalPaid.IsPositive():
		invoice.PaymentStatus = invoicedomain.PaymentStatusPartiallyPaid
		invoice.PaymentDate = nil
	default:
		invoice.PaymentStatus = invoicedomain.PaymentStatusUnpaid
		invoice.PaymentDate = nil
	}
}

func (s *Service) sumPayments(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (decimal.Decimal, error) {
	var amounts []float64
	err := tx.WithContext(ctx).
		Model(&paymentdomain.Payment{}).
		Where("invoice_id = ?", invoiceID).
		Pluck("amount", &amounts).Error
	if err != nil {
		return decimal.Zero, err
	}

	sum := decimal.Zero
	for _, amount := range amounts {
		sum = sum.Add(decimal.NewFromFloat(amount))
	}
	return sum, nil
}

func (s *Service) loadInvoiceForUpdate(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*invoicedomain.Invoice, error) {
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
