package bankfeed

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"freight-ledger/internal/core"
)

// Header aliases, matched case-insensitively after trimming.
var columnAliases = map[string][]string{
	"date":        {"date", "booking date", "value date", "tx date"},
	"amount":      {"amount", "sum"},
	"debit":       {"debit", "withdrawal", "out"},
	"credit":      {"credit", "deposit", "in"},
	"description": {"description", "purpose", "text", "details"},
	"reference":   {"reference", "ref", "external id", "transaction id", "id"},
}

var dateLayouts = []string{"2006-01-02", "02.01.2006", "02/01/2006", "2006/01/02"}

// ReadXLSX reads the first sheet of a bank statement export.
func ReadXLSX(path string) ([]core.BankLineInput, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open statement %s: %w", path, err)
	}
	defer f.Close()
	return readFile(f)
}

// Read is ReadXLSX for an already open stream.
func Read(r io.Reader) ([]core.BankLineInput, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("unable to open statement: %w", err)
	}
	defer f.Close()
	return readFile(f)
}

func readFile(f *excelize.File) ([]core.BankLineInput, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("statement has no sheets")
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("unable to read sheet: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	cols, err := mapColumns(rows[0])
	if err != nil {
		return nil, err
	}

	var lines []core.BankLineInput
	seen := make(map[string]int)
	for idx, row := range rows[1:] {
		rowNo := idx + 2
		if isBlank(row) {
			continue
		}
		line, err := parseRow(row, cols)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rowNo, err)
		}
		if line.ExternalID == "" {
			// Identical rows in one file stay distinct through the occurrence count.
			base := fingerprint(line)
			seen[base]++
			line.ExternalID = fmt.Sprintf("%s-%d", base, seen[base])
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func mapColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int)
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		for col, aliases := range columnAliases {
			if _, taken := cols[col]; taken {
				continue
			}
			for _, a := range aliases {
				if name == a {
					cols[col] = i
				}
			}
		}
	}
	if _, ok := cols["date"]; !ok {
		return nil, fmt.Errorf("statement has no date column")
	}
	_, hasAmount := cols["amount"]
	_, hasDebit := cols["debit"]
	_, hasCredit := cols["credit"]
	if !hasAmount && !(hasDebit || hasCredit) {
		return nil, fmt.Errorf("statement has no amount or debit/credit columns")
	}
	return cols, nil
}

func cell(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseRow(row []string, cols map[string]int) (core.BankLineInput, error) {
	var line core.BankLineInput

	date, err := parseDate(cell(row, cols, "date"))
	if err != nil {
		return line, err
	}
	line.Date = date

	if _, ok := cols["amount"]; ok {
		line.Amount, err = parseAmount(cell(row, cols, "amount"))
		if err != nil {
			return line, err
		}
	} else {
		credit, err := parseAmount(cell(row, cols, "credit"))
		if err != nil {
			return line, err
		}
		debit, err := parseAmount(cell(row, cols, "debit"))
		if err != nil {
			return line, err
		}
		line.Amount = credit.Sub(debit.Abs())
	}

	line.Description = cell(row, cols, "description")
	line.ExternalID = cell(row, cols, "reference")
	return line, nil
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("date is empty")
	}
	// Raw cell values carry dates as Excel serial numbers.
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date serial %q: %w", raw, err)
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}

// parseAmount accepts "1234.56", "1,234.56", "1.234,56" and "-250,00".
// Whichever of '.' and ',' comes last is the decimal separator. A lone
// separator followed by exactly three digits ("1,234") could be either and
// is rejected, as is anything finer than cents.
func parseAmount(raw string) (decimal.Decimal, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	if s == "" {
		return decimal.Zero, nil
	}
	dot, comma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")
	switch {
	case dot >= 0 && comma >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case dot >= 0 || comma >= 0:
		sep := "."
		if comma >= 0 {
			sep = ","
		}
		parts := strings.Split(s, sep)
		if len(parts) > 2 {
			// Repeated separators only group thousands.
			s = strings.Join(parts, "")
			break
		}
		if len(parts[1]) == 3 {
			return decimal.Zero, fmt.Errorf("ambiguous amount %q: %q may separate thousands or decimals", raw, sep)
		}
		s = parts[0] + "." + parts[1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	if !d.Equal(d.Round(2)) {
		return decimal.Zero, fmt.Errorf("amount %q has more than two decimal places", raw)
	}
	return d.Round(2), nil
}

func fingerprint(l core.BankLineInput) string {
	sum := sha256.Sum256([]byte(l.Date.Format("2006-01-02") + "|" + l.Amount.StringFixed(2) + "|" + l.Description))
	return "row-" + hex.EncodeToString(sum[:])[:16]
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
