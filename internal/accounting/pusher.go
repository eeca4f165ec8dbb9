package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/rs/zerolog"

	"freight-ledger/internal/core"
	"freight-ledger/internal/logger"
	"freight-ledger/internal/metrics"
)

// InvoiceStore is the part of the invoice engine the pusher needs.
type InvoiceStore interface {
	GetInvoice(ctx context.Context, invoiceID int) (*core.Invoice, error)
	ListInvoices(ctx context.Context, f core.InvoiceFilter) ([]core.Invoice, error)
	RecordSyncResult(ctx context.Context, invoiceID int, externalID, warning *string) error
}

type PartyLookup interface {
	GetParty(ctx context.Context, ref core.PartyRef) (*core.Party, error)
}

// SyncWarning reports a failed push. The ledger state is unaffected; the
// warning is also stored on the invoice.
type SyncWarning struct {
	InvoiceID int
	Err       error
}

func (w *SyncWarning) Error() string {
	return fmt.Sprintf("accounting sync of invoice %d failed: %v", w.InvoiceID, w.Err)
}

func (w *SyncWarning) Unwrap() error { return w.Err }

// locker is the part of *redislock.Client the pusher uses.
type locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// syncOutcome says what Sync did with an invoice that raised no error.
type syncOutcome int

const (
	syncPushed syncOutcome = iota
	syncSkipped
	syncBusy
)

// Pusher implements core.InvoiceSyncer.
type Pusher struct {
	client             Client
	invoices           InvoiceStore
	parties            PartyLookup
	locker             locker
	lockTTL            time.Duration
	operatingCompanyID int
	log                zerolog.Logger
}

// NewPusher builds a pusher. A nil locker disables the per-invoice lock,
// which is fine for a single process.
func NewPusher(client Client, invoices InvoiceStore, parties PartyLookup, lockClient *redislock.Client, operatingCompanyID int) *Pusher {
	p := &Pusher{
		client:             client,
		invoices:           invoices,
		parties:            parties,
		lockTTL:            30 * time.Second,
		operatingCompanyID: operatingCompanyID,
		log:                logger.WithComponent("accounting"),
	}
	if lockClient != nil {
		p.locker = lockClient
	}
	return p
}

func lockKey(invoiceID int) string {
	return fmt.Sprintf("ledger:lock:accounting:%d", invoiceID)
}

// Sync pushes one invoice unless it is already synced, still a draft or
// cancelled. Failures are stored on the invoice and returned as *SyncWarning.
// An invoice another process is already pushing is left to that process.
func (p *Pusher) Sync(ctx context.Context, invoiceID int) error {
	_, err := p.sync(ctx, invoiceID)
	return err
}

func (p *Pusher) sync(ctx context.Context, invoiceID int) (syncOutcome, error) {
	if p.locker != nil {
		lock, err := p.locker.Obtain(ctx, lockKey(invoiceID), p.lockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			p.log.Debug().Int("invoice_id", invoiceID).Msg("push already in progress elsewhere")
			return syncBusy, nil
		} else if err != nil {
			return 0, fmt.Errorf("failed to obtain sync lock: %w", err)
		}
		defer func() {
			_ = lock.Release(context.WithoutCancel(ctx))
		}()
	}

	inv, err := p.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return 0, err
	}
	if inv.ExternalSyncID != nil || inv.Status == core.InvoiceDraft || inv.Status == core.InvoiceCancelled {
		metrics.AccountingSyncTotal.WithLabelValues("skipped").Inc()
		return syncSkipped, nil
	}

	issuer, err := p.parties.GetParty(ctx, inv.Issuer)
	if err != nil {
		return 0, err
	}
	recipient, err := p.parties.GetParty(ctx, inv.Recipient)
	if err != nil {
		return 0, err
	}

	externalID, pushErr := p.client.PushInvoice(ctx, BuildPayload(*inv, *issuer, *recipient, p.operatingCompanyID))
	if pushErr != nil {
		warning := pushErr.Error()
		if err := p.invoices.RecordSyncResult(ctx, invoiceID, nil, &warning); err != nil {
			p.log.Error().Err(err).Int("invoice_id", invoiceID).Msg("failed to record sync warning")
		}
		metrics.AccountingSyncTotal.WithLabelValues("failed").Inc()
		p.log.Warn().Err(pushErr).Int("invoice_id", invoiceID).Str("number", inv.Number).Msg("accounting push failed")
		return 0, &SyncWarning{InvoiceID: invoiceID, Err: pushErr}
	}

	if err := p.invoices.RecordSyncResult(ctx, invoiceID, &externalID, nil); err != nil {
		return 0, err
	}
	metrics.AccountingSyncTotal.WithLabelValues("ok").Inc()
	p.log.Info().Int("invoice_id", invoiceID).Str("number", inv.Number).Str("external_id", externalID).Msg("invoice pushed")
	return syncPushed, nil
}

// RetryPending pushes every finalized invoice that has no external id yet
// and returns how many it pushed. Invoices locked by another process are not
// counted. Individual failures are recorded on their invoices and do not stop
// the run.
func (p *Pusher) RetryPending(ctx context.Context) (int, error) {
	pending, err := p.invoices.ListInvoices(ctx, core.InvoiceFilter{PendingSync: true})
	if err != nil {
		return 0, err
	}
	synced := 0
	for _, inv := range pending {
		outcome, err := p.sync(ctx, inv.ID)
		var warn *SyncWarning
		switch {
		case err == nil:
			if outcome == syncPushed {
				synced++
			}
		case errors.As(err, &warn):
			continue
		default:
			return synced, err
		}
	}
	p.log.Info().Int("pending", len(pending)).Int("synced", synced).Msg("pending sync run finished")
	return synced, nil
}
