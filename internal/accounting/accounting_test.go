package accounting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"

	"freight-ledger/internal/core"
)

func sampleInvoice() core.Invoice {
	d := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	return core.Invoice{
		ID: 1, Number: "INV-2026-00001", Date: d, DueDate: d.AddDate(0, 0, 14),
		Issuer:    core.PartyRef{Kind: core.PartyCompany, ID: 1},
		Recipient: core.PartyRef{Kind: core.PartyClient, ID: 2},
		Status:    core.InvoiceIssued,
		Total:     decimal.RequireFromString("850.00"),
		Items: []core.InvoiceItem{
			{Description: "VIN1: Shipping", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("800"), Subtotal: decimal.RequireFromString("800")},
			{Description: "VIN1: storage 5 days", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("50"), Subtotal: decimal.RequireFromString("50")},
		},
	}
}

func TestHTTPClient_PushInvoice(t *testing.T) {
	var got InvoicePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/invoices" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("bad body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"ext-77"}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL+"/", "secret", time.Second)
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	inv := sampleInvoice()
	payload := BuildPayload(inv, core.Party{ID: 1, Kind: core.PartyCompany, Name: "Operator"}, core.Party{ID: 2, Kind: core.PartyClient, Name: "Client A"}, 1)

	id, err := c.PushInvoice(context.Background(), payload)
	if err != nil {
		t.Fatalf("PushInvoice failed: %v", err)
	}
	if id != "ext-77" {
		t.Errorf("expected ext-77, got %q", id)
	}
	if got.Number != "INV-2026-00001" || got.Direction != core.DirectionOutgoing || len(got.Lines) != 2 || !got.Total.Equal(inv.Total) {
		t.Errorf("unexpected payload received: %+v", got)
	}
	if got.Date != "2026-03-05" || got.DueDate != "2026-03-19" {
		t.Errorf("unexpected dates %s, %s", got.Date, got.DueDate)
	}
}

func TestHTTPClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "duplicate invoice number", http.StatusConflict)
	}))
	defer srv.Close()

	c, _ := NewHTTPClient(srv.URL, "", time.Second)
	_, err := c.PushInvoice(context.Background(), InvoicePayload{Number: "INV-2026-00001"})
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusConflict || he.Body != "duplicate invoice number" {
		t.Errorf("expected HTTPError 409, got %v", err)
	}
}

func TestNewHTTPClient_RequiresURL(t *testing.T) {
	if _, err := NewHTTPClient("  ", "t", 0); err == nil {
		t.Errorf("expected error for empty base url")
	}
}

type fakeStore struct {
	invoices   map[int]*core.Invoice
	externalID map[int]string
	warning    map[int]string
}

func newFakeStore(invs ...core.Invoice) *fakeStore {
	s := &fakeStore{invoices: map[int]*core.Invoice{}, externalID: map[int]string{}, warning: map[int]string{}}
	for i := range invs {
		s.invoices[invs[i].ID] = &invs[i]
	}
	return s
}

func (s *fakeStore) GetInvoice(_ context.Context, id int) (*core.Invoice, error) {
	inv, ok := s.invoices[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (s *fakeStore) ListInvoices(_ context.Context, f core.InvoiceFilter) ([]core.Invoice, error) {
	var out []core.Invoice
	for _, inv := range s.invoices {
		if f.PendingSync && (inv.ExternalSyncID != nil || inv.Status == core.InvoiceDraft || inv.Status == core.InvoiceCancelled) {
			continue
		}
		out = append(out, *inv)
	}
	return out, nil
}

func (s *fakeStore) RecordSyncResult(_ context.Context, id int, externalID, warning *string) error {
	if externalID != nil {
		s.externalID[id] = *externalID
		s.invoices[id].ExternalSyncID = externalID
	}
	if warning != nil {
		s.warning[id] = *warning
	} else {
		delete(s.warning, id)
	}
	return nil
}

type fakeParties struct{}

func (fakeParties) GetParty(_ context.Context, ref core.PartyRef) (*core.Party, error) {
	return &core.Party{ID: ref.ID, Kind: ref.Kind, Name: ref.String()}, nil
}

type fakeClient struct {
	fail  map[string]bool
	calls int
}

func (c *fakeClient) PushInvoice(_ context.Context, p InvoicePayload) (string, error) {
	c.calls++
	if c.fail[p.Number] {
		return "", errors.New("accounting api error 503: unavailable")
	}
	return "ext-" + p.Number, nil
}

func TestPusher_Sync(t *testing.T) {
	inv := sampleInvoice()
	store := newFakeStore(inv)
	client := &fakeClient{}
	p := NewPusher(client, store, fakeParties{}, nil, 1)

	if err := p.Sync(context.Background(), inv.ID); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if store.externalID[inv.ID] != "ext-INV-2026-00001" {
		t.Errorf("external id not recorded: %v", store.externalID)
	}
	// A synced invoice is not pushed again.
	if err := p.Sync(context.Background(), inv.ID); err != nil || client.calls != 1 {
		t.Errorf("expected a single push, got %d (err %v)", client.calls, err)
	}
}

func TestPusher_FailureIsWarning(t *testing.T) {
	inv := sampleInvoice()
	store := newFakeStore(inv)
	p := NewPusher(&fakeClient{fail: map[string]bool{inv.Number: true}}, store, fakeParties{}, nil, 1)

	err := p.Sync(context.Background(), inv.ID)
	var warn *SyncWarning
	if !errors.As(err, &warn) || warn.InvoiceID != inv.ID {
		t.Fatalf("expected SyncWarning, got %v", err)
	}
	if store.warning[inv.ID] == "" {
		t.Errorf("warning not stored on the invoice")
	}
	if _, ok := store.externalID[inv.ID]; ok {
		t.Errorf("failed push must not record an external id")
	}
}

func TestPusher_SkipsDrafts(t *testing.T) {
	inv := sampleInvoice()
	inv.Status = core.InvoiceDraft
	client := &fakeClient{}
	p := NewPusher(client, newFakeStore(inv), fakeParties{}, nil, 1)
	if err := p.Sync(context.Background(), inv.ID); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if client.calls != 0 {
		t.Errorf("drafts must not be pushed")
	}
}

func TestPusher_RetryPending(t *testing.T) {
	ok := sampleInvoice()
	bad := sampleInvoice()
	bad.ID, bad.Number = 2, "INV-2026-00002"
	synced := sampleInvoice()
	synced.ID, synced.Number = 3, "INV-2026-00003"
	done := "ext-old"
	synced.ExternalSyncID = &done

	store := newFakeStore(ok, bad, synced)
	client := &fakeClient{fail: map[string]bool{bad.Number: true}}
	p := NewPusher(client, store, fakeParties{}, nil, 1)

	n, err := p.RetryPending(context.Background())
	if err != nil {
		t.Fatalf("RetryPending failed: %v", err)
	}
	if n != 1 || client.calls != 2 {
		t.Errorf("expected 1 synced out of 2 pushes, got %d synced and %d pushes", n, client.calls)
	}
	if store.warning[bad.ID] == "" {
		t.Errorf("failed invoice should carry a warning")
	}
}

type busyLocker struct{ keys []string }

func (l *busyLocker) Obtain(_ context.Context, key string, _ time.Duration, _ *redislock.Options) (*redislock.Lock, error) {
	l.keys = append(l.keys, key)
	return nil, redislock.ErrNotObtained
}

func TestPusher_RetryPendingSkipsLockedInvoices(t *testing.T) {
	inv := sampleInvoice()
	store := newFakeStore(inv)
	client := &fakeClient{}
	locks := &busyLocker{}
	p := NewPusher(client, store, fakeParties{}, nil, 1)
	p.locker = locks

	n, err := p.RetryPending(context.Background())
	if err != nil {
		t.Fatalf("RetryPending failed: %v", err)
	}
	if n != 0 || client.calls != 0 {
		t.Errorf("an invoice locked elsewhere must not count as synced, got %d synced and %d pushes", n, client.calls)
	}
	if len(locks.keys) != 1 || locks.keys[0] != lockKey(inv.ID) {
		t.Errorf("unexpected lock keys %v", locks.keys)
	}
	// Sync on its own still treats a busy invoice as handled.
	if err := p.Sync(context.Background(), inv.ID); err != nil {
		t.Errorf("Sync failed: %v", err)
	}
}
