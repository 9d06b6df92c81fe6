// Package server exposes the HTTP API. Handlers are thin plumbing: they
// parse the request, call a domain service and translate errors.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/fakturo/internal/compliance"
	compliancedomain "github.com/smallbiznis/fakturo/internal/compliance/domain"
	"github.com/smallbiznis/fakturo/internal/config"
	"github.com/smallbiznis/fakturo/internal/customer"
	customerdomain "github.com/smallbiznis/fakturo/internal/customer/domain"
	"github.com/smallbiznis/fakturo/internal/invoice"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	"github.com/smallbiznis/fakturo/internal/lock"
	"github.com/smallbiznis/fakturo/internal/observability"
	obslogger "github.com/smallbiznis/fakturo/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/fakturo/internal/observability/metrics"
	obstracing "github.com/smallbiznis/fakturo/internal/observability/tracing"
	"github.com/smallbiznis/fakturo/internal/organization"
	orgdomain "github.com/smallbiznis/fakturo/internal/organization/domain"
	"github.com/smallbiznis/fakturo/internal/payment"
	paymentdomain "github.com/smallbiznis/fakturo/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	config.Module,
	lock.Module,
	organization.Module,
	customer.Module,
	invoice.Module,
	compliance.Module,
	payment.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log, obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(log, obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Cfg   config.Config
	DB    *gorm.DB
	GenID *snowflake.Node

	OrganizationSvc orgdomain.Service
	CustomerSvc     customerdomain.Service
	InvoiceSvc      invoicedomain.Service
	ComplianceSvc   compliancedomain.Service
	PaymentSvc      paymentdomain.Service
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	genID  *snowflake.Node

	organizationSvc orgdomain.Service
	customerSvc     customerdomain.Service
	invoiceSvc      invoicedomain.Service
	complianceSvc   compliancedomain.Service
	paymentSvc      paymentdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		genID:           p.GenID,
		organizationSvc: p.OrganizationSvc,
		customerSvc:     p.CustomerSvc,
		invoiceSvc:      p.InvoiceSvc,
		complianceSvc:   p.ComplianceSvc,
		paymentSvc:      p.PaymentSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	s.engine.POST("/api/v1/organizations", s.CreateOrganization)

	api := s.engine.Group("/api/v1", OrgContext())

	// -------- Organizations --------
	api.GET("/organizations/:id", s.GetOrganizationByID)

	// -------- Customers --------
	api.GET("/customers", s.ListCustomers)
	api.POST("/customers", s.CreateCustomer)
	api.GET("/customers/:id", s.GetCustomerByID)

	// -------- Invoices --------
	api.GET("/invoices", s.ListInvoices)
	api.POST("/invoices", s.CreateInvoice)
	api.GET("/invoices/stats", s.InvoiceStats)
	api.GET("/invoices/:id", s.GetInvoiceByID)
	api.PUT("/invoices/:id", s.UpdateInvoice)
	api.DELETE("/invoices/:id", s.DeleteInvoice)
	api.POST("/invoices/:id/submit", s.SubmitInvoice)
	api.POST("/invoices/:id/cancel", s.CancelInvoice)

	// -------- Compliance --------
	api.POST("/invoices/:id/compliance/submit", s.SubmitToGovernment)
	api.GET("/invoices/:id/compliance/status", s.CheckGovernmentStatus)
	api.POST("/invoices/:id/compliance/retry", s.RetrySubmission)
	api.GET("/invoices/:id/compliance/history", s.SubmissionHistory)
	api.GET("/compliance/stats", s.ComplianceStats)

	// -------- Payments --------
	api.GET("/invoices/:id/payments", s.ListPayments)
	api.POST("/invoices/:id/payments", s.RecordPayment)
	api.DELETE("/payments/:id", s.DeletePayment)
	api.GET("/payments/stats", s.PaymentStats)
	api.GET("/payments/overdue", s.OverdueInvoices)
}
