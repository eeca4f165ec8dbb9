package bankfeed

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

func statement(t *testing.T, rows ...[]any) *bytes.Reader {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cellRef, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cellRef, &row); err != nil {
			t.Fatalf("SetSheetRow failed: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer failed: %v", err)
	}
	return bytes.NewReader(buf.Bytes())
}

func TestRead_AmountColumn(t *testing.T) {
	r := statement(t,
		[]any{"Booking Date", "Purpose", "Amount", "Reference"},
		[]any{"2026-03-10", "Client A INV-2026-00001", "800.00", "B-1"},
		[]any{time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), "Ocean Line freight", "-1.250,50", ""},
		[]any{"", "", "", ""},
		[]any{"11.03.2026", "Ocean Line freight", "-1.250,50", ""},
	)

	lines, err := Read(r)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0].ExternalID != "B-1" || !lines[0].Amount.Equal(decimal.RequireFromString("800")) || lines[0].Description != "Client A INV-2026-00001" {
		t.Errorf("unexpected first line: %+v", lines[0])
	}
	if !lines[1].Date.Equal(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("serial date not converted: %s", lines[1].Date)
	}
	if !lines[1].Amount.Equal(decimal.RequireFromString("-1250.50")) {
		t.Errorf("unexpected amount %s", lines[1].Amount)
	}
	// Identical rows without a reference get distinct, stable ids.
	if lines[1].ExternalID == "" || lines[1].ExternalID == lines[2].ExternalID {
		t.Errorf("expected distinct generated ids, got %q and %q", lines[1].ExternalID, lines[2].ExternalID)
	}

	again, _ := Read(statement(t,
		[]any{"Booking Date", "Purpose", "Amount", "Reference"},
		[]any{"2026-03-10", "Client A INV-2026-00001", "800.00", "B-1"},
		[]any{time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), "Ocean Line freight", "-1.250,50", ""},
	))
	if again[1].ExternalID != lines[1].ExternalID {
		t.Errorf("generated ids must be stable across reads")
	}
}

func TestRead_DebitCredit(t *testing.T) {
	lines, err := Read(statement(t,
		[]any{"Date", "Details", "Debit", "Credit"},
		[]any{"2026-03-10", "fee", "25.00", ""},
		[]any{"2026-03-10", "payment", "", "1,000.00"},
	))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !lines[0].Amount.Equal(decimal.RequireFromString("-25")) || !lines[1].Amount.Equal(decimal.RequireFromString("1000")) {
		t.Errorf("unexpected amounts %s, %s", lines[0].Amount, lines[1].Amount)
	}
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name string
		rows [][]any
	}{
		{"no date column", [][]any{{"Amount"}, {"1"}}},
		{"no amount column", [][]any{{"Date", "Text"}, {"2026-03-10", "x"}}},
		{"bad date", [][]any{{"Date", "Amount"}, {"yesterday", "1"}}},
		{"bad amount", [][]any{{"Date", "Amount"}, {"2026-03-10", "ten"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Read(statement(t, tt.rows...)); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "", want: "0"},
		{raw: "1234.56", want: "1234.56"},
		{raw: "1,234.56", want: "1234.56"},
		{raw: "1.234,56", want: "1234.56"},
		{raw: "-250,00", want: "-250"},
		{raw: "1 250,5", want: "1250.5"},
		{raw: "1,234,567", want: "1234567"},
		{raw: "1.234.567,8", want: "1234567.8"},
		{raw: "800", want: "800"},
		{raw: "1,234", wantErr: true},
		{raw: "1.234", wantErr: true},
		{raw: "12.345", wantErr: true},
		{raw: "0.005", wantErr: true},
		{raw: "1,234.567", wantErr: true},
		{raw: "ten", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseAmount(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("parseAmount(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestRead_RejectsAmbiguousAmount(t *testing.T) {
	_, err := Read(statement(t,
		[]any{"Date", "Amount"},
		[]any{"2026-03-10", "1,234"},
	))
	if err == nil {
		t.Errorf("expected an error for an ambiguous amount")
	}
}
