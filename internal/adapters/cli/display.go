package cli

import (
	"fmt"
	"strings"

	"freight-ledger/internal/app"
	"freight-ledger/internal/core"
)

func rule(ch string, n int) {
	fmt.Println(strings.Repeat(ch, n))
}

func printDone(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}

// printAny dispatches the single-record results of invoiceAction.
func printAny(v any) {
	switch x := v.(type) {
	case *core.Invoice:
		printInvoice(x)
	default:
		fmt.Printf("%+v\n", x)
	}
}

func printParty(p *core.Party) {
	fmt.Printf("\nPARTY:    %s (%s)\n", p.Name, p.Ref())
	fmt.Printf("INVOICE:  %s\n", p.InvoiceBalance.StringFixed(2))
	fmt.Printf("CASH:     %s\n", p.CashBalance.StringFixed(2))
	fmt.Printf("CARD:     %s\n", p.CardBalance.StringFixed(2))
}

func printParties(parties []core.Party, title string) {
	fmt.Println()
	rule("=", 84)
	fmt.Printf("  %s\n", title)
	rule("=", 84)
	if len(parties) == 0 {
		fmt.Println("  No parties found.")
		rule("=", 84)
		return
	}
	fmt.Printf("  %-14s %-28s %12s %12s %12s\n", "REF", "NAME", "INVOICE", "CASH", "CARD")
	rule("-", 84)
	for _, p := range parties {
		fmt.Printf("  %-14s %-28s %12s %12s %12s\n",
			p.Ref(), truncate(p.Name, 28), p.InvoiceBalance.StringFixed(2), p.CashBalance.StringFixed(2), p.CardBalance.StringFixed(2))
	}
	rule("=", 84)
}

func printCategories(cats []core.ExpenseCategory) {
	fmt.Println()
	fmt.Printf("  %-4s %-30s %s\n", "ID", "NAME", "TYPE")
	rule("-", 52)
	for _, c := range cats {
		fmt.Printf("  %-4d %-30s %s\n", c.ID, c.Name, c.Type)
	}
}

func printCar(c *core.Car) {
	fmt.Printf("\nCAR %d:     %s (client %d)\n", c.ID, c.VIN, c.ClientID)
	if c.WarehouseID != nil {
		fmt.Printf("WAREHOUSE:  %d\n", *c.WarehouseID)
	}
	fmt.Printf("ARRIVAL:    %s\n", c.ArrivalDate.Format("2006-01-02"))
	if c.DepartureDate != nil {
		fmt.Printf("DEPARTURE:  %s\n", c.DepartureDate.Format("2006-01-02"))
	}
	fmt.Printf("STORAGE:    %s/day after %d free day(s)\n", c.DailyStorageRate.StringFixed(2), c.FreeDays)
}

func printCharge(ch *core.CarCharge) {
	fmt.Printf("Charge %d: %s %s from %s on car %d\n", ch.ID, ch.Name, ch.Amount.StringFixed(2), ch.Provider, ch.CarID)
}

func printUnitCost(u *core.UnitCost) {
	fmt.Println()
	rule("=", 62)
	fmt.Printf("  UNIT %d — %s (client %d)\n", u.UnitID, u.VIN, u.ClientID)
	rule("=", 62)
	fmt.Printf("  %-8s %-14s %-20s %14s\n", "CHARGE", "PROVIDER", "NAME", "AMOUNT")
	rule("-", 62)
	for _, c := range u.Charges {
		fmt.Printf("  %-8d %-14s %-20s %14s\n", c.ID, c.Provider, truncate(c.Name, 20), c.Amount.StringFixed(2))
	}
	fmt.Printf("  %-44s %14s\n", fmt.Sprintf("Storage %d day(s) x %s", u.StorageDays, u.DailyRate.StringFixed(2)), u.StorageCost().StringFixed(2))
	rule("-", 62)
	fmt.Printf("  %-44s %14s\n", "TOTAL", u.Total().StringFixed(2))
	rule("=", 62)
}

func printInvoice(inv *core.Invoice) {
	fmt.Println()
	rule("=", 72)
	fmt.Printf("  INVOICE %s  [%s]\n", inv.Number, inv.Status)
	fmt.Printf("  From     : %s\n", inv.Issuer)
	fmt.Printf("  To       : %s\n", inv.Recipient)
	fmt.Printf("  Date     : %s   Due: %s\n", inv.Date.Format("2006-01-02"), inv.DueDate.Format("2006-01-02"))
	if inv.ExternalSyncID != nil {
		fmt.Printf("  Synced   : %s\n", *inv.ExternalSyncID)
	} else if inv.SyncWarning != nil {
		fmt.Printf("  Sync     : %s\n", *inv.SyncWarning)
	}
	rule("=", 72)
	fmt.Printf("  %-3s %-38s %8s %10s %10s\n", "#", "DESCRIPTION", "QTY", "PRICE", "SUBTOTAL")
	rule("-", 72)
	for _, it := range inv.Items {
		fmt.Printf("  %-3d %-38s %8s %10s %10s\n",
			it.LineNumber, truncate(it.Description, 38), it.Quantity.String(), it.UnitPrice.StringFixed(2), it.Subtotal.StringFixed(2))
	}
	rule("-", 72)
	fmt.Printf("  %-60s %10s\n", "TOTAL", inv.Total.StringFixed(2))
	fmt.Printf("  %-60s %10s\n", "PAID", inv.PaidAmount.StringFixed(2))
	fmt.Printf("  %-60s %10s\n", "OUTSTANDING", inv.Outstanding().StringFixed(2))
	rule("=", 72)
}

func printInvoices(invoices []core.Invoice) {
	fmt.Println()
	rule("=", 96)
	if len(invoices) == 0 {
		fmt.Println("  No invoices found.")
		rule("=", 96)
		return
	}
	fmt.Printf("  %-5s %-16s %-10s %-14s %-14s %-14s %12s %12s\n", "ID", "NUMBER", "DATE", "ISSUER", "RECIPIENT", "STATUS", "TOTAL", "PAID")
	rule("-", 96)
	for _, inv := range invoices {
		fmt.Printf("  %-5d %-16s %-10s %-14s %-14s %-14s %12s %12s\n",
			inv.ID, inv.Number, inv.Date.Format("2006-01-02"), inv.Issuer, inv.Recipient, inv.Status,
			inv.Total.StringFixed(2), inv.PaidAmount.StringFixed(2))
	}
	rule("=", 96)
}

func sideLabel(ref *core.PartyRef) string {
	if ref == nil {
		return "-"
	}
	return ref.String()
}

func printTransaction(tx *core.Transaction) {
	fmt.Printf("Transaction %d: %s %s via %s [%s] %s -> %s\n",
		tx.ID, tx.Type, tx.Amount.StringFixed(2), tx.Method, tx.Status, sideLabel(tx.From), sideLabel(tx.To))
	if tx.InvoiceID != nil {
		fmt.Printf("  invoice %d\n", *tx.InvoiceID)
	}
}

func printTransactions(txs []core.Transaction) {
	fmt.Println()
	rule("=", 96)
	if len(txs) == 0 {
		fmt.Println("  No transactions found.")
		rule("=", 96)
		return
	}
	fmt.Printf("  %-6s %-10s %-14s %-9s %-10s %-14s %-14s %12s\n", "ID", "DATE", "TYPE", "METHOD", "STATUS", "FROM", "TO", "AMOUNT")
	rule("-", 96)
	for _, tx := range txs {
		fmt.Printf("  %-6d %-10s %-14s %-9s %-10s %-14s %-14s %12s\n",
			tx.ID, tx.Date.Format("2006-01-02"), tx.Type, tx.Method, tx.Status,
			sideLabel(tx.From), sideLabel(tx.To), tx.Amount.StringFixed(2))
	}
	rule("=", 96)
}

func printBankLines(lines []core.BankTransaction) {
	fmt.Println()
	rule("=", 96)
	if len(lines) == 0 {
		fmt.Println("  No bank lines found.")
		rule("=", 96)
		return
	}
	fmt.Printf("  %-6s %-10s %12s %-44s %s\n", "ID", "DATE", "AMOUNT", "DESCRIPTION", "MATCH")
	rule("-", 96)
	for _, l := range lines {
		match := "open"
		switch {
		case l.MatchedTransactionID != nil:
			match = fmt.Sprintf("transaction %d", *l.MatchedTransactionID)
		case l.MatchedInvoiceID != nil:
			match = fmt.Sprintf("invoice %d", *l.MatchedInvoiceID)
		}
		fmt.Printf("  %-6d %-10s %12s %-44s %s\n",
			l.ID, l.Date.Format("2006-01-02"), l.Amount.StringFixed(2), truncate(l.Description, 44), match)
	}
	rule("=", 96)
}

func printCandidates(bankLineID int, cands []core.MatchCandidate) {
	fmt.Println()
	fmt.Printf("  Candidates for bank line %d\n", bankLineID)
	rule("-", 96)
	if len(cands) == 0 {
		fmt.Println("  No candidates within the date window.")
		return
	}
	for i, c := range cands {
		fmt.Printf("  %d. %-11s %-6d %-10s %12s  %.2f  %s\n",
			i+1, c.Kind, c.ID, c.Date.Format("2006-01-02"), c.Amount.StringFixed(2), c.Score, truncate(c.Label, 30))
		if c.Reason != "" {
			fmt.Printf("     %s\n", c.Reason)
		}
	}
}

func printComparison(res *core.ComparisonResult) {
	fmt.Printf("\nSUBJECT:     %s\n", res.Subject)
	fmt.Printf("EXPECTED:    %s\n", res.Expected.StringFixed(2))
	fmt.Printf("ACTUAL:      %s\n", res.Actual.StringFixed(2))
	fmt.Printf("DIFFERENCE:  %s\n", res.Difference.StringFixed(2))
	fmt.Printf("STATUS:      %s\n", res.Status)
}

func printDiscrepancies(title string, ds []core.Discrepancy) {
	fmt.Printf("  %s (%d)\n", title, len(ds))
	rule("-", 96)
	for _, d := range ds {
		fmt.Printf("  %-24s %-20s %12s  %s\n", d.Kind, d.Result.Status, d.Result.Difference.StringFixed(2), d.Description)
	}
}

func printAudit(res *app.AuditResult) {
	fmt.Println()
	rule("=", 96)
	fmt.Printf("  AUDIT %s .. %s\n", res.From.Format("2006-01-02"), res.To.Format("2006-01-02"))
	rule("=", 96)
	if res.Clean() {
		fmt.Println("  No discrepancies found.")
		rule("=", 96)
		return
	}
	printDiscrepancies("DISCREPANCIES", res.Discrepancies)
	printDiscrepancies("BALANCE DRIFT", res.Drift)
	rule("=", 96)
}

func printStatement(ref string, lines []core.StatementLine) {
	fmt.Println()
	rule("=", 90)
	fmt.Printf("  STATEMENT — %s\n", ref)
	rule("=", 90)
	fmt.Printf("  %-6s %-10s %-14s %-14s %12s %12s %12s\n", "TX", "DATE", "TYPE", "COUNTERPARTY", "IN", "OUT", "BALANCE")
	rule("-", 90)
	for _, l := range lines {
		fmt.Printf("  %-6d %-10s %-14s %-14s %12s %12s %12s\n",
			l.TransactionID, l.Date.Format("2006-01-02"), l.Type, sideLabel(l.Counterparty),
			l.In.StringFixed(2), l.Out.StringFixed(2), l.RunningBalance.StringFixed(2))
	}
	rule("=", 90)
}

func printSummary(title string, rows []core.SummaryRow, withPaid bool) {
	fmt.Println()
	rule("=", 62)
	fmt.Printf("  %s\n", title)
	rule("=", 62)
	if withPaid {
		fmt.Printf("  %-24s %6s %14s %14s\n", "GROUP", "COUNT", "TOTAL", "PAID")
	} else {
		fmt.Printf("  %-24s %6s %14s\n", "GROUP", "COUNT", "TOTAL")
	}
	rule("-", 62)
	for _, r := range rows {
		if withPaid {
			fmt.Printf("  %-24s %6d %14s %14s\n", truncate(r.Key, 24), r.Count, r.Total.StringFixed(2), r.Paid.StringFixed(2))
		} else {
			fmt.Printf("  %-24s %6d %14s\n", truncate(r.Key, 24), r.Count, r.Total.StringFixed(2))
		}
	}
	rule("=", 62)
}

func printAging(asOf string, rows []core.AgingRow) {
	fmt.Println()
	rule("=", 100)
	fmt.Printf("  RECEIVABLES AGING as of %s\n", asOf)
	rule("=", 100)
	fmt.Printf("  %-24s %12s %12s %12s %12s %12s %12s\n", "RECIPIENT", "CURRENT", "1-30", "31-60", "61-90", "90+", "TOTAL")
	rule("-", 100)
	for _, r := range rows {
		fmt.Printf("  %-24s %12s %12s %12s %12s %12s %12s\n",
			truncate(r.Name, 24), r.Current.StringFixed(2), r.Days30.StringFixed(2), r.Days60.StringFixed(2),
			r.Days90.StringFixed(2), r.Over90.StringFixed(2), r.TotalDue.StringFixed(2))
	}
	rule("=", 100)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
