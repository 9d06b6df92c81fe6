package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	"github.com/smallbiznis/fakturo/internal/orgcontext"
	paymentdomain "github.com/smallbiznis/fakturo/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNode, _ = snowflake.NewNode(5)

type fixture struct {
	svc   paymentdomain.Service
	db    *gorm.DB
	orgID snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&invoicedomain.Invoice{},
		&paymentdomain.Payment{},
	))

	svc := New(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testNode,
	})

	return &fixture{svc: svc, db: db, orgID: testNode.Generate()}
}

func (f *fixture) ctx() context.Context {
	return orgcontext.WithOrgID(context.Background(), f.orgID)
}

func (f *fixture) seedInvoice(t *testing.T, total float64, status invoicedomain.InvoiceStatus, due *time.Time) *invoicedomain.Invoice {
	t.Helper()

	invoice := &invoicedomain.Invoice{
		ID:            testNode.Generate(),
		OrgID:         f.orgID,
		CustomerID:    testNode.Generate(),
		CreatedBy:     testNode.Generate(),
		InvoiceNumber: "INV-20260101-" + testNode.Generate().String(),
		Status:        status,
		PaymentStatus: invoicedomain.PaymentStatusUnpaid,
		Subtotal:      total,
		TotalAmount:   total,
		Currency:      "MYR",
		InvoiceDate:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		DueDate:       due,
	}
	require.NoError(t, f.db.Create(invoice).Error)
	return invoice
}

func (f *fixture) record(t *testing.T, invoiceID snowflake.ID, amount float64) paymentdomain.PaymentOutcome {
	t.Helper()
	outcome, err := f.svc.Record(f.ctx(), paymentdomain.RecordPaymentRequest{
		InvoiceID: invoiceID.String(),
		Amount:    amount,
		Method:    "BANK_TRANSFER",
	})
	require.NoError(t, err)
	return outcome
}

func TestRecordPaymentLifecycle(t *testing.T) {
	f := newFixture(t)
	invoice := f.seedInvoice(t, 220, invoicedomain.InvoiceStatusValidated, nil)

	first := f.record(t, invoice.ID, 100)
	assert.Equal(t, invoicedomain.PaymentStatusPartiallyPaid, first.Invoice.PaymentStatus)
	assert.InDelta(t, 100.00, first.Invoice.PaidAmount, 0.001)
	assert.Nil(t, first.Invoice.PaymentDate)

	second := f.record(t, invoice.ID, 120)
	assert.Equal(t, invoicedomain.PaymentStatusPaid, second.Invoice.PaymentStatus)
	assert.InDelta(t, 220.00, second.Invoice.PaidAmount, 0.001)
	require.NotNil(t, second.Invoice.PaymentDate)

	_, err := f.svc.Record(f.ctx(), paymentdomain.RecordPaymentRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    0.01,
		Method:    "CASH",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrExceedsInvoiceTotal)
}

func TestRecordPaymentCeiling(t *testing.T) {
	f := newFixture(t)
	invoice := f.seedInvoice(t, 220, invoicedomain.InvoiceStatusValidated, nil)

	_, err := f.svc.Record(f.ctx(), paymentdomain.RecordPaymentRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    220.01,
		Method:    "BANK_TRANSFER",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrExceedsInvoiceTotal)

	// Exactly the remaining balance is allowed.
	outcome := f.record(t, invoice.ID, 220)
	assert.Equal(t, invoicedomain.PaymentStatusPaid, outcome.Invoice.PaymentStatus)
}

func TestRecordPaymentValidation(t *testing.T) {
	f := newFixture(t)
	invoice := f.seedInvoice(t, 220, invoicedomain.InvoiceStatusValidated, nil)

	_, err := f.svc.Record(f.ctx(), paymentdomain.RecordPaymentRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    -5,
		Method:    "CASH",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)

	_, err = f.svc.Record(f.ctx(), paymentdomain.RecordPaymentRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    5,
		Method:    "BARTER",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidMethod)

	_, err = f.svc.Record(f.ctx(), paymentdomain.RecordPaymentRequest{
		InvoiceID: testNode.Generate().String(),
		Amount:    5,
		Method:    "CASH",
	})
	assert.ErrorIs(t, err, invoicedomain.ErrNotFound)
}

func TestDeletePaymentRecomputesState(t *testing.T) {
	f := newFixture(t)
	invoice := f.seedInvoice(t, 220, invoicedomain.InvoiceStatusValidated, nil)

	first := f.record(t, invoice.ID, 100)
	second := f.record(t, invoice.ID, 120)
	require.Equal(t, invoicedomain.PaymentStatusPaid, second.Invoice.PaymentStatus)

	updated, err := f.svc.Delete(f.ctx(), second.Payment.ID.String())
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.PaymentStatusPartiallyPaid, updated.PaymentStatus)
	assert.InDelta(t, 100.00, updated.PaidAmount, 0.001)
	assert.Nil(t, updated.PaymentDate)

	updated, err = f.svc.Delete(f.ctx(), first.Payment.ID.String())
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.PaymentStatusUnpaid, updated.PaymentStatus)
	assert.InDelta(t, 0.00, updated.PaidAmount, 0.001)
}

func TestDeleteUnknownPayment(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Delete(f.ctx(), testNode.Generate().String())
	assert.ErrorIs(t, err, paymentdomain.ErrNotFound)
}

func TestListPaymentsScopedToInvoice(t *testing.T) {
	f := newFixture(t)
	invoice := f.seedInvoice(t, 220, invoicedomain.InvoiceStatusValidated, nil)
	other := f.seedInvoice(t, 100, invoicedomain.InvoiceStatusValidated, nil)

	f.record(t, invoice.ID, 50)
	f.record(t, invoice.ID, 50)
	f.record(t, other.ID, 100)

	payments, err := f.svc.List(f.ctx(), invoice.ID.String())
	require.NoError(t, err)
	assert.Len(t, payments, 2)
}

func TestOverdueExcludesUnvalidated(t *testing.T) {
	f := newFixture(t)
	past := time.Now().UTC().Add(-48 * time.Hour)

	validated := f.seedInvoice(t, 220, invoicedomain.InvoiceStatusValidated, &past)
	f.seedInvoice(t, 220, invoicedomain.InvoiceStatusSubmitted, &past)
	f.seedInvoice(t, 220, invoicedomain.InvoiceStatusRejected, &past)

	overdue, err := f.svc.OverdueInvoices(f.ctx())
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, validated.ID, overdue[0].ID)
}

func TestOverdueExcludesPaid(t *testing.T) {
	f := newFixture(t)
	past := time.Now().UTC().Add(-48 * time.Hour)

	invoice := f.seedInvoice(t, 220, invoicedomain.InvoiceStatusValidated, &past)
	f.record(t, invoice.ID, 220)

	overdue, err := f.svc.OverdueInvoices(f.ctx())
	require.NoError(t, err)
	assert.Empty(t, overdue)
}

func TestStatsRestrictedToValidated(t *testing.T) {
	f := newFixture(t)

	validated := f.seedInvoice(t, 220, invoicedomain.InvoiceStatusValidated, nil)
	submitted := f.seedInvoice(t, 500, invoicedomain.InvoiceStatusSubmitted, nil)

	f.record(t, validated.ID, 100)
	f.record(t, submitted.ID, 500)

	stats, err := f.svc.Stats(f.ctx())
	require.NoError(t, err)
	assert.InDelta(t, 100.00, stats.TotalReceived, 0.001)
	assert.InDelta(t, 120.00, stats.TotalOutstanding, 0.001)
	assert.Equal(t, int64(1), stats.PaymentCount)
}
