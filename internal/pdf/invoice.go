package pdf

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/jung-kurt/gofpdf/v2"
	"github.com/shopspring/decimal"

	"freight-ledger/internal/core"
)

// RenderInvoice lays out an A4 invoice with its lines, the flat tax line
// and the outstanding balance.
func RenderInvoice(inv core.Invoice, issuer, recipient core.Party, taxRate decimal.Decimal) ([]byte, error) {
	if inv.Number == "" {
		return nil, errors.New("invoice has no number")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetTitle(inv.Number, false)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	// Header
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(190, 10, fmt.Sprintf("Invoice %s", inv.Number), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(190, 6, fmt.Sprintf("Date: %s   Due: %s   Status: %s",
		inv.Date.Format("02-Jan-2006"), inv.DueDate.Format("02-Jan-2006"), inv.Status), "", 1, "C", false, 0, "")
	pdf.Ln(5)

	// Parties
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(95, 8, "From", "1", 0, "L", true, 0, "")
	pdf.CellFormat(95, 8, "To", "1", 1, "L", true, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(95, 7, tr(issuer.Name), "LRB", 0, "L", false, 0, "")
	pdf.CellFormat(95, 7, tr(recipient.Name), "LRB", 1, "L", false, 0, "")
	pdf.Ln(5)

	// Lines
	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(200, 200, 200)
	pdf.CellFormat(10, 7, "#", "1", 0, "C", true, 0, "")
	pdf.CellFormat(100, 7, "Description", "1", 0, "C", true, 0, "")
	pdf.CellFormat(20, 7, "Qty", "1", 0, "C", true, 0, "")
	pdf.CellFormat(30, 7, "Unit price", "1", 0, "C", true, 0, "")
	pdf.CellFormat(30, 7, "Subtotal", "1", 1, "C", true, 0, "")

	pdf.SetFont("Arial", "", 10)
	for i, it := range inv.Items {
		desc := it.Description
		if len(desc) > 60 {
			desc = desc[:57] + "..."
		}
		pdf.CellFormat(10, 6, fmt.Sprint(i+1), "1", 0, "C", false, 0, "")
		pdf.CellFormat(100, 6, tr(desc), "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 6, it.Quantity.String(), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, it.UnitPrice.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, it.Subtotal.StringFixed(2), "1", 1, "R", false, 0, "")
	}
	pdf.Ln(3)

	// Totals
	tax := inv.TaxAmount(taxRate)
	totalRow := func(label, value string) {
		pdf.CellFormat(160, 7, label, "", 0, "R", false, 0, "")
		pdf.CellFormat(30, 7, value, "1", 1, "R", false, 0, "")
	}
	pdf.SetFont("Arial", "", 11)
	totalRow("Total", inv.Total.StringFixed(2))
	if !tax.IsZero() {
		totalRow(fmt.Sprintf("incl. tax %s%%", taxRate.Mul(decimal.NewFromInt(100)).String()), tax.StringFixed(2))
	}
	totalRow("Paid", inv.PaidAmount.StringFixed(2))

	out := inv.Outstanding()
	if out.IsPositive() {
		pdf.SetFillColor(255, 200, 200)
	} else {
		pdf.SetFillColor(200, 255, 200)
	}
	pdf.SetFont("Arial", "B", 12)
	balanceText := fmt.Sprintf("Balance due: %s", out.StringFixed(2))
	if !out.IsPositive() {
		balanceText = "FULLY PAID"
	}
	pdf.CellFormat(190, 10, balanceText, "1", 1, "C", true, 0, "")

	if inv.Notes != "" {
		pdf.Ln(4)
		pdf.SetFont("Arial", "I", 9)
		pdf.MultiCell(190, 5, tr(inv.Notes), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render invoice %s: %w", inv.Number, err)
	}
	return buf.Bytes(), nil
}
