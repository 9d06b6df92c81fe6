package format

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/smallbiznis/fakturo/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	orgdomain "github.com/smallbiznis/fakturo/internal/organization/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderProducesUBLDocument(t *testing.T) {
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	due := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	invoice := invoicedomain.Invoice{
		ID:            node.Generate(),
		InvoiceNumber: "INV-20260115-0042",
		Currency:      "MYR",
		Subtotal:      200,
		TaxAmount:     20,
		TotalAmount:   220,
		InvoiceDate:   time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		DueDate:       &due,
		Notes:         "net 30",
	}
	items := []invoicedomain.InvoiceLineItem{
		{Description: "Consulting", Quantity: 2, UnitPrice: 100, TaxRate: 10, TaxAmount: 20, TotalAmount: 220},
	}

	out, err := New().Render(
		&orgdomain.Organization{Name: "Acme Sdn Bhd", TaxID: "C1234567890"},
		&customerdomain.Customer{Name: "Beta Trading", TaxID: "C0987654321"},
		invoice,
		items,
	)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "<?xml"))
	assert.Contains(t, out, "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2")
	assert.Contains(t, out, "<cbc:ID>INV-20260115-0042</cbc:ID>")
	assert.Contains(t, out, "<cbc:IssueDate>2026-01-15</cbc:IssueDate>")
	assert.Contains(t, out, "<cbc:DueDate>2026-02-15</cbc:DueDate>")
	assert.Contains(t, out, `currencyID="MYR"`)
	assert.Contains(t, out, ">220.00<")
	assert.Contains(t, out, "Acme Sdn Bhd")
	assert.Contains(t, out, "Beta Trading")
	assert.Contains(t, out, "Consulting")
}

func TestRenderWithoutDueDateOmitsElement(t *testing.T) {
	invoice := invoicedomain.Invoice{
		InvoiceNumber: "INV-20260115-0001",
		Currency:      "MYR",
		InvoiceDate:   time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
	}

	out, err := New().Render(nil, nil, invoice, nil)
	require.NoError(t, err)
	assert.NotContains(t, out, "cbc:DueDate")
}
