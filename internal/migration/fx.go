package migration

import (
	compliancedomain "github.com/smallbiznis/fakturo/internal/compliance/domain"
	customerdomain "github.com/smallbiznis/fakturo/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	orgdomain "github.com/smallbiznis/fakturo/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/fakturo/internal/payment/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		if conn.Dialector.Name() != "postgres" {
			// sqlite and mysql are for local runs; let gorm build the schema.
			return conn.AutoMigrate(
				&orgdomain.Organization{},
				&customerdomain.Customer{},
				&invoicedomain.Invoice{},
				&invoicedomain.InvoiceLineItem{},
				&invoicedomain.InvoiceCounter{},
				&compliancedomain.SubmissionRecord{},
				&paymentdomain.Payment{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}

		return RunMigrations(sqlDB)
	}),
)
