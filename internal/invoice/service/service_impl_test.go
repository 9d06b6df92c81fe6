package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	customerdomain "github.com/smallbiznis/fakturo/internal/customer/domain"
	customerrepo "github.com/smallbiznis/fakturo/internal/customer/repository"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	"github.com/smallbiznis/fakturo/internal/orgcontext"
	paymentdomain "github.com/smallbiznis/fakturo/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNode, _ = snowflake.NewNode(1)

type fixture struct {
	svc    invoicedomain.Service
	db     *gorm.DB
	node   *snowflake.Node
	orgID  snowflake.ID
	userID snowflake.ID
	cust   *customerdomain.Customer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&customerdomain.Customer{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLineItem{},
		&invoicedomain.InvoiceCounter{},
		&paymentdomain.Payment{},
	))

	repo := customerrepo.Provide()
	node := testNode
	orgID := node.Generate()
	cust := &customerdomain.Customer{
		ID:    node.Generate(),
		OrgID: orgID,
		Name:  "Acme Sdn Bhd",
		Email: "billing@acme.example",
		TaxID: "C1234567890",
	}
	require.NoError(t, repo.Insert(context.Background(), db, cust))

	svc := New(ServiceParam{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		CustomerRepo: repo,
	})

	return &fixture{
		svc:    svc,
		db:     db,
		node:   node,
		orgID:  orgID,
		userID: node.Generate(),
		cust:   cust,
	}
}

func (f *fixture) ctx() context.Context {
	ctx := orgcontext.WithOrgID(context.Background(), f.orgID)
	return orgcontext.WithUserID(ctx, f.userID)
}

func (f *fixture) createReq() invoicedomain.CreateInvoiceRequest {
	return invoicedomain.CreateInvoiceRequest{
		CustomerID:  f.cust.ID.String(),
		InvoiceDate: time.Now().Add(-time.Hour),
		Currency:    "MYR",
		LineItems: []invoicedomain.LineItemInput{
			{Description: "Consulting", Quantity: 2, UnitPrice: 100, TaxRate: 10},
		},
	}
}

func TestCreateDerivesTotalsAndNumber(t *testing.T) {
	f := newFixture(t)

	created, err := f.svc.Create(f.ctx(), f.createReq())
	require.NoError(t, err)

	assert.Equal(t, invoicedomain.InvoiceStatusDraft, created.Invoice.Status)
	assert.Equal(t, invoicedomain.PaymentStatusUnpaid, created.Invoice.PaymentStatus)
	assert.InDelta(t, 200.00, created.Invoice.Subtotal, 0.001)
	assert.InDelta(t, 20.00, created.Invoice.TaxAmount, 0.001)
	assert.InDelta(t, 220.00, created.Invoice.TotalAmount, 0.001)

	want := fmt.Sprintf("INV-%s-0001", time.Now().Format("20060102"))
	assert.Equal(t, want, created.Invoice.InvoiceNumber)

	require.Len(t, created.LineItems, 1)
	assert.InDelta(t, 20.00, created.LineItems[0].TaxAmount, 0.001)
	assert.InDelta(t, 220.00, created.LineItems[0].TotalAmount, 0.001)
}

func TestCreateNumbersAreSequential(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Create(f.ctx(), f.createReq())
	require.NoError(t, err)
	second, err := f.svc.Create(f.ctx(), f.createReq())
	require.NoError(t, err)

	day := time.Now().Format("20060102")
	assert.Equal(t, fmt.Sprintf("INV-%s-0001", day), first.Invoice.InvoiceNumber)
	assert.Equal(t, fmt.Sprintf("INV-%s-0002", day), second.Invoice.InvoiceNumber)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name    string
		mutate  func(*invoicedomain.CreateInvoiceRequest)
		wantErr error
	}{
		{
			name:    "unknown customer",
			mutate:  func(r *invoicedomain.CreateInvoiceRequest) { r.CustomerID = f.node.Generate().String() },
			wantErr: invoicedomain.ErrCustomerNotFound,
		},
		{
			name:    "bad currency",
			mutate:  func(r *invoicedomain.CreateInvoiceRequest) { r.Currency = "RINGGIT" },
			wantErr: invoicedomain.ErrInvalidCurrency,
		},
		{
			name:    "future invoice date",
			mutate:  func(r *invoicedomain.CreateInvoiceRequest) { r.InvoiceDate = time.Now().Add(48 * time.Hour) },
			wantErr: invoicedomain.ErrInvalidInvoiceDate,
		},
		{
			name: "due before invoice date",
			mutate: func(r *invoicedomain.CreateInvoiceRequest) {
				due := r.InvoiceDate.Add(-24 * time.Hour)
				r.DueDate = &due
			},
			wantErr: invoicedomain.ErrInvalidDueDate,
		},
		{
			name:    "no line items",
			mutate:  func(r *invoicedomain.CreateInvoiceRequest) { r.LineItems = nil },
			wantErr: invoicedomain.ErrNoLineItems,
		},
		{
			name: "zero quantity",
			mutate: func(r *invoicedomain.CreateInvoiceRequest) {
				r.LineItems = []invoicedomain.LineItemInput{{Quantity: 0, UnitPrice: 10}}
			},
			wantErr: invoicedomain.ErrInvalidLineItem,
		},
		{
			name: "negative unit price",
			mutate: func(r *invoicedomain.CreateInvoiceRequest) {
				r.LineItems = []invoicedomain.LineItemInput{{Quantity: 1, UnitPrice: -1}}
			},
			wantErr: invoicedomain.ErrInvalidLineItem,
		},
		{
			name: "tax rate over 100",
			mutate: func(r *invoicedomain.CreateInvoiceRequest) {
				r.LineItems = []invoicedomain.LineItemInput{{Quantity: 1, UnitPrice: 10, TaxRate: 101}}
			},
			wantErr: invoicedomain.ErrInvalidLineItem,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := f.createReq()
			tc.mutate(&req)
			_, err := f.svc.Create(f.ctx(), req)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestCreateTooManyLineItems(t *testing.T) {
	f := newFixture(t)

	req := f.createReq()
	req.LineItems = make([]invoicedomain.LineItemInput, 101)
	for i := range req.LineItems {
		req.LineItems[i] = invoicedomain.LineItemInput{Quantity: 1, UnitPrice: 1}
	}

	_, err := f.svc.Create(f.ctx(), req)
	assert.ErrorIs(t, err, invoicedomain.ErrTooManyLineItems)
}

func TestCreateRejectsForeignCustomer(t *testing.T) {
	f := newFixture(t)

	other := &customerdomain.Customer{
		ID:    f.node.Generate(),
		OrgID: f.node.Generate(),
		Name:  "Other Org Customer",
		Email: "other@example.com",
	}
	require.NoError(t, customerrepo.Provide().Insert(context.Background(), f.db, other))

	req := f.createReq()
	req.CustomerID = other.ID.String()
	_, err := f.svc.Create(f.ctx(), req)
	assert.ErrorIs(t, err, invoicedomain.ErrCustomerNotFound)
}

func TestCreateRequiresOrgContext(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), f.createReq())
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidOrganization)
}

func TestUpdateReplacesLineItemsWholesale(t *testing.T) {
	f := newFixture(t)

	created, err := f.svc.Create(f.ctx(), f.createReq())
	require.NoError(t, err)

	updated, err := f.svc.Update(f.ctx(), created.Invoice.ID.String(), invoicedomain.UpdateInvoiceRequest{
		LineItems: []invoicedomain.LineItemInput{
			{Description: "Hosting", Quantity: 1, UnitPrice: 50, TaxRate: 0},
			{Description: "Support", Quantity: 3, UnitPrice: 10, TaxRate: 10},
		},
	})
	require.NoError(t, err)

	assert.InDelta(t, 80.00, updated.Invoice.Subtotal, 0.001)
	assert.InDelta(t, 3.00, updated.Invoice.TaxAmount, 0.001)
	assert.InDelta(t, 83.00, updated.Invoice.TotalAmount, 0.001)
	assert.Len(t, updated.LineItems, 2)

	var count int64
	require.NoError(t, f.db.Model(&invoicedomain.InvoiceLineItem{}).
		Where("invoice_id = ?", created.Invoice.ID).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestUpdateItemsOnSubmittedIsConflict(t *testing.T) {
	f := newFixture(t)

	created, err := f.svc.Create(f.ctx(), f.createReq())
	require.NoError(t, err)
	_, err = f.svc.Submit(f.ctx(), created.Invoice.ID.String())
	require.NoError(t, err)

	_, err = f.svc.Update(f.ctx(), created.Invoice.ID.String(), invoicedomain.UpdateInvoiceRequest{
		LineItems: []invoicedomain.LineItemInput{{Quantity: 1, UnitPrice: 999}},
	})
	assert.ErrorIs(t, err, invoicedomain.ErrNotDraft)

	// Totals and items must be untouched after the rejected edit.
	fetched, err := f.svc.GetByID(f.ctx(), created.Invoice.ID.String())
	require.NoError(t, err)
	assert.InDelta(t, 220.00, fetched.Invoice.TotalAmount, 0.001)
	assert.Len(t, fetched.LineItems, 1)
}

func TestUpdateNotesWithoutItemsKeepsTotals(t *testing.T) {
	f := newFixture(t)

	created, err := f.svc.Create(f.ctx(), f.createReq())
	require.NoError(t, err)

	notes := "net 30"
	updated, err := f.svc.Update(f.ctx(), created.Invoice.ID.String(), invoicedomain.UpdateInvoiceRequest{
		Notes: &notes,
	})
	require.NoError(t, err)

	assert.Equal(t, "net 30", updated.Invoice.Notes)
	assert.InDelta(t, 220.00, updated.Invoice.TotalAmount, 0.001)
	assert.Len(t, updated.LineItems, 1)
}

func TestDeleteOnlyDraft(t *testing.T) {
	f := newFixture(t)

	created, err := f.svc.Create(f.ctx(), f.createReq())
	require.NoError(t, err)
	_, err = f.svc.Submit(f.ctx(), created.Invoice.ID.String())
	require.NoError(t, err)

	err = f.svc.Delete(f.ctx(), created.Invoice.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrNotDraft)

	draft, err := f.svc.Create(f.ctx(), f.createReq())
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(f.ctx(), draft.Invoice.ID.String()))

	_, err = f.svc.GetByID(f.ctx(), draft.Invoice.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrNotFound)

	var items int64
	require.NoError(t, f.db.Model(&invoicedomain.InvoiceLineItem{}).
		Where("invoice_id = ?", draft.Invoice.ID).Count(&items).Error)
	assert.Equal(t, int64(0), items)
}

func TestDeleteBlockedWhilePaymentsExist(t *testing.T) {
	f := newFixture(t)

	draft, err := f.svc.Create(f.ctx(), f.createReq())
	require.NoError(t, err)

	require.NoError(t, f.db.Create(&paymentdomain.Payment{
		ID:          f.node.Generate(),
		OrgID:       f.orgID,
		InvoiceID:   draft.Invoice.ID,
		Amount:      50,
		Method:      paymentdomain.MethodBankTransfer,
		PaymentDate: time.Now().UTC(),
		CreatedBy:   f.userID,
	}).Error)

	err = f.svc.Delete(f.ctx(), draft.Invoice.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrHasPayments)

	// Clearing the ledger makes the draft deletable again.
	require.NoError(t, f.db.
		Where("invoice_id = ?", draft.Invoice.ID).
		Delete(&paymentdomain.Payment{}).Error)
	require.NoError(t, f.svc.Delete(f.ctx(), draft.Invoice.ID.String()))
}

func TestSubmitStampsTimestamp(t *testing.T) {
	f := newFixture(t)

	created, err := f.svc.Create(f.ctx(), f.createReq())
	require.NoError(t, err)

	submitted, err := f.svc.Submit(f.ctx(), created.Invoice.ID.String())
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusSubmitted, submitted.Status)
	require.NotNil(t, submitted.SubmittedAt)

	_, err = f.svc.Submit(f.ctx(), created.Invoice.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrNotSubmittable)
}

func TestCancelBlockedAfterValidation(t *testing.T) {
	f := newFixture(t)

	created, err := f.svc.Create(f.ctx(), f.createReq())
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).
		Where("id = ?", created.Invoice.ID).
		Update("status", invoicedomain.InvoiceStatusValidated).Error)

	_, err = f.svc.Cancel(f.ctx(), created.Invoice.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrNotCancellable)
}

func TestCancelFromSubmitted(t *testing.T) {
	f := newFixture(t)

	created, err := f.svc.Create(f.ctx(), f.createReq())
	require.NoError(t, err)
	_, err = f.svc.Submit(f.ctx(), created.Invoice.ID.String())
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(f.ctx(), created.Invoice.ID.String())
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusCancelled, cancelled.Status)

	_, err = f.svc.Cancel(f.ctx(), created.Invoice.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrNotCancellable)
}

func TestGetByIDScopedToOrganization(t *testing.T) {
	f := newFixture(t)

	created, err := f.svc.Create(f.ctx(), f.createReq())
	require.NoError(t, err)

	otherCtx := orgcontext.WithOrgID(context.Background(), f.node.Generate())
	_, err = f.svc.GetByID(otherCtx, created.Invoice.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrNotFound)
}

func TestListFiltersByStatus(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Create(f.ctx(), f.createReq())
	require.NoError(t, err)
	_, err = f.svc.Create(f.ctx(), f.createReq())
	require.NoError(t, err)
	_, err = f.svc.Submit(f.ctx(), first.Invoice.ID.String())
	require.NoError(t, err)

	status := invoicedomain.InvoiceStatusDraft
	resp, err := f.svc.List(f.ctx(), invoicedomain.ListInvoiceRequest{Status: &status})
	require.NoError(t, err)
	require.Len(t, resp.Invoices, 1)
	assert.Equal(t, invoicedomain.InvoiceStatusDraft, resp.Invoices[0].Status)

	all, err := f.svc.List(f.ctx(), invoicedomain.ListInvoiceRequest{})
	require.NoError(t, err)
	assert.Len(t, all.Invoices, 2)
}

func TestStatsCountsByStatus(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Create(f.ctx(), f.createReq())
	require.NoError(t, err)
	_, err = f.svc.Create(f.ctx(), f.createReq())
	require.NoError(t, err)
	_, err = f.svc.Submit(f.ctx(), first.Invoice.ID.String())
	require.NoError(t, err)

	stats, err := f.svc.Stats(f.ctx())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Draft)
	assert.Equal(t, int64(1), stats.Submitted)
}
