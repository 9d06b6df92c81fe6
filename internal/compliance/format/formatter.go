// Package format renders invoices into the UBL-style XML document the
// government authorities consume.
package format

import (
	"encoding/xml"
	"fmt"

	customerdomain "github.com/smallbiznis/fakturo/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	orgdomain "github.com/smallbiznis/fakturo/internal/organization/domain"
)

type document struct {
	XMLName xml.Name `xml:"Invoice"`
	Xmlns   string   `xml:"xmlns,attr"`

	ID           string `xml:"cbc:ID"`
	IssueDate    string `xml:"cbc:IssueDate"`
	DueDate      string `xml:"cbc:DueDate,omitempty"`
	CurrencyCode string `xml:"cbc:DocumentCurrencyCode"`
	Note         string `xml:"cbc:Note,omitempty"`

	Supplier party `xml:"cac:AccountingSupplierParty>cac:Party"`
	Customer party `xml:"cac:AccountingCustomerParty>cac:Party"`

	TaxTotal totalAmount `xml:"cac:TaxTotal>cbc:TaxAmount"`
	Monetary monetary    `xml:"cac:LegalMonetaryTotal"`
	Lines    []line      `xml:"cac:InvoiceLine"`
}

type party struct {
	Name  string `xml:"cac:PartyName>cbc:Name"`
	TaxID string `xml:"cac:PartyTaxScheme>cbc:CompanyID,omitempty"`
}

type totalAmount struct {
	Currency string `xml:"currencyID,attr"`
	Value    string `xml:",chardata"`
}

type monetary struct {
	LineExtension totalAmount `xml:"cbc:LineExtensionAmount"`
	TaxInclusive  totalAmount `xml:"cbc:TaxInclusiveAmount"`
	Payable       totalAmount `xml:"cbc:PayableAmount"`
}

type line struct {
	ID          int         `xml:"cbc:ID"`
	Quantity    string      `xml:"cbc:InvoicedQuantity"`
	Amount      totalAmount `xml:"cbc:LineExtensionAmount"`
	Description string      `xml:"cac:Item>cbc:Description"`
	Price       totalAmount `xml:"cac:Price>cbc:PriceAmount"`
}

// Formatter renders invoices for authority submission.
type Formatter struct{}

func New() *Formatter {
	return &Formatter{}
}

// Render produces the UBL XML for one invoice and its line items.
func (f *Formatter) Render(org *orgdomain.Organization, customer *customerdomain.Customer, invoice invoicedomain.Invoice, items []invoicedomain.InvoiceLineItem) (string, error) {
	doc := document{
		Xmlns:        "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2",
		ID:           invoice.InvoiceNumber,
		IssueDate:    invoice.InvoiceDate.Format("2006-01-02"),
		CurrencyCode: invoice.Currency,
		Note:         invoice.Notes,
		TaxTotal:     amount(invoice.Currency, invoice.TaxAmount),
		Monetary: monetary{
			LineExtension: amount(invoice.Currency, invoice.Subtotal),
			TaxInclusive:  amount(invoice.Currency, invoice.TotalAmount),
			Payable:       amount(invoice.Currency, invoice.TotalAmount),
		},
	}
	if invoice.DueDate != nil {
		doc.DueDate = invoice.DueDate.Format("2006-01-02")
	}
	if org != nil {
		doc.Supplier = party{Name: org.Name, TaxID: org.TaxID}
	}
	if customer != nil {
		doc.Customer = party{Name: customer.Name, TaxID: customer.TaxID}
	}

	for i, item := range items {
		doc.Lines = append(doc.Lines, line{
			ID:          i + 1,
			Quantity:    fmt.Sprintf("%g", item.Quantity),
			Amount:      amount(invoice.Currency, item.TotalAmount),
			Description: item.Description,
			Price:       amount(invoice.Currency, item.UnitPrice),
		})
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	return xml.Header + string(out), nil
}

func amount(currency string, value float64) totalAmount {
	return totalAmount{Currency: currency, Value: fmt.Sprintf("%.2f", value)}
}
