package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/fakturo/internal/payment/domain"
)

type fakeInvoiceService struct {
	getCalls   int
	lastID     string
	getErr     error
	submitErr  error
	cancelErr  error
	deleteErr  error
	invoice    invoicedomain.InvoiceWithItems
	listResult invoicedomain.ListInvoiceResponse
}

func (f *fakeInvoiceService) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (invoicedomain.InvoiceWithItems, error) {
	_ = ctx
	_ = req
	return f.invoice, nil
}

func (f *fakeInvoiceService) Update(ctx context.Context, id string, req invoicedomain.UpdateInvoiceRequest) (invoicedomain.InvoiceWithItems, error) {
	_ = ctx
	_ = req
	f.lastID = id
	return f.invoice, f.getErr
}

func (f *fakeInvoiceService) Delete(ctx context.Context, id string) error {
	_ = ctx
	f.lastID = id
	return f.deleteErr
}

func (f *fakeInvoiceService) Submit(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	_ = ctx
	f.lastID = id
	return f.invoice.Invoice, f.submitErr
}

func (f *fakeInvoiceService) Cancel(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	_ = ctx
	f.lastID = id
	return f.invoice.Invoice, f.cancelErr
}

func (f *fakeInvoiceService) GetByID(ctx context.Context, id string) (invoicedomain.InvoiceWithItems, error) {
	_ = ctx
	f.getCalls++
	f.lastID = id
	return f.invoice, f.getErr
}

func (f *fakeInvoiceService) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	_ = ctx
	_ = req
	return f.listResult, nil
}

func (f *fakeInvoiceService) Stats(ctx context.Context) (invoicedomain.InvoiceStats, error) {
	_ = ctx
	return invoicedomain.InvoiceStats{}, nil
}

type fakePaymentService struct {
	recordErr error
	lastReq   paymentdomain.RecordPaymentRequest
}

func (f *fakePaymentService) Record(ctx context.Context, req paymentdomain.RecordPaymentRequest) (paymentdomain.PaymentOutcome, error) {
	_ = ctx
	f.lastReq = req
	return paymentdomain.PaymentOutcome{}, f.recordErr
}

func (f *fakePaymentService) Delete(ctx context.Context, paymentID string) (invoicedomain.Invoice, error) {
	_ = ctx
	_ = paymentID
	return invoicedomain.Invoice{}, nil
}

func (f *fakePaymentService) List(ctx context.Context, invoiceID string) ([]paymentdomain.Payment, error) {
	_ = ctx
	_ = invoiceID
	return nil, nil
}

func (f *fakePaymentService) OverdueInvoices(ctx context.Context) ([]invoicedomain.Invoice, error) {
	_ = ctx
	return nil, nil
}

func (f *fakePaymentService) Stats(ctx context.Context) (paymentdomain.PaymentStats, error) {
	_ = ctx
	return paymentdomain.PaymentStats{}, nil
}

func newTestRouter(srv *Server) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())

	api := router.Group("/api/v1", OrgContext())
	api.GET("/invoices/:id", srv.GetInvoiceByID)
	api.POST("/invoices/:id/submit", srv.SubmitInvoice)
	api.POST("/invoices/:id/payments", srv.RecordPayment)

	return router
}

func TestGetInvoiceRequiresOrgHeader(t *testing.T) {
	svc := &fakeInvoiceService{}
	router := newTestRouter(&Server{invoiceSvc: svc})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/1234567890123456789", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
	if svc.getCalls != 0 {
		t.Fatal("expected handler not to reach the service")
	}
}

func TestGetInvoiceRejectsMalformedID(t *testing.T) {
	svc := &fakeInvoiceService{}
	router := newTestRouter(&Server{invoiceSvc: svc})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/not-an-id", nil)
	req.Header.Set("X-Org-ID", "1234567890123456789")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if svc.getCalls != 0 {
		t.Fatal("expected handler not to reach the service")
	}
}

func TestGetInvoiceReturnsEnvelope(t *testing.T) {
	svc := &fakeInvoiceService{
		invoice: invoicedomain.InvoiceWithItems{
			Invoice: invoicedomain.Invoice{InvoiceNumber: "INV-20260101-0001"},
		},
	}
	router := newTestRouter(&Server{invoiceSvc: svc})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/1234567890123456789", nil)
	req.Header.Set("X-Org-ID", "1234567890123456789")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.lastID != "1234567890123456789" {
		t.Fatalf("expected service to receive path id, got %q", svc.lastID)
	}

	var body struct {
		Data invoicedomain.InvoiceWithItems `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Data.Invoice.InvoiceNumber != "INV-20260101-0001" {
		t.Fatalf("unexpected invoice number %q", body.Data.Invoice.InvoiceNumber)
	}
}

func TestSubmitInvoiceMapsConflict(t *testing.T) {
	svc := &fakeInvoiceService{submitErr: invoicedomain.ErrNotSubmittable}
	router := newTestRouter(&Server{invoiceSvc: svc})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices/1234567890123456789/submit", nil)
	req.Header.Set("X-Org-ID", "1234567890123456789")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestRecordPaymentMapsCeilingViolation(t *testing.T) {
	svc := &fakePaymentService{recordErr: paymentdomain.ErrExceedsInvoiceTotal}
	router := newTestRouter(&Server{paymentSvc: svc})

	payload := bytes.NewBufferString(`{"amount": 500.00, "method": "BANK_TRANSFER"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices/1234567890123456789/payments", payload)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Org-ID", "1234567890123456789")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", resp.Code)
	}
	if svc.lastReq.InvoiceID != "1234567890123456789" {
		t.Fatalf("expected invoice id from path, got %q", svc.lastReq.InvoiceID)
	}
}
