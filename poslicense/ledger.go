package poslicense

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultCurrency = "USD"

// Ledger records payments against licenses. A paid payment extends the
// license, a pending one flags it pending_payment. Payments are never
// edited after creation.
type Ledger struct {
	engine   *Engine
	payments PaymentStore
}

// NewLedger creates a Ledger that applies payment side effects through
// engine and appends records to payments.
func NewLedger(engine *Engine, payments PaymentStore) *Ledger {
	return &Ledger{engine: engine, payments: payments}
}

// CreatePayment validates a payment and records it together with its
// effect on the license. The store commits both or neither, so a failed
// call can be retried without paying twice. The license update is computed
// from the value stored at commit time, so concurrent payments never
// overwrite each other's extension.
func (g *Ledger) CreatePayment(ctx context.Context, req PaymentRequest) (*Payment, error) {
	req = req.normalized()
	if err := req.validate(); err != nil {
		return nil, err
	}

	e := g.engine
	now := e.now()
	p := &Payment{
		ID:            uuid.NewString(),
		LicenseKey:    req.LicenseKey,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Status:        req.Status,
		Method:        req.Method,
		TransactionID: req.TransactionID,
		PeriodStart:   req.PeriodStart,
		PeriodEnd:     req.PeriodEnd,
		Notes:         req.Notes,
		CreatedAt:     now,
	}
	if p.Status == PaymentPaid {
		paidAt := now
		p.PaidAt = &paidAt
	}

	updated, err := g.payments.RecordPayment(ctx, p, paymentEffect(p, now))
	if err != nil {
		return nil, e.licenseError("record payment", err)
	}
	e.metrics.recordPayment(ctx, p.Status)
	if p.Status == PaymentPaid {
		e.metrics.renewals.Add(ctx, 1)
	}
	e.logger.Info("payment recorded",
		"license_key", maskKey(p.LicenseKey),
		"payment_id", p.ID,
		"status", p.Status,
		"amount", p.Amount.String(),
		"currency", p.Currency,
		"license_status", updated.Status,
		"expires_at", updated.ExpirationDate)
	return p, nil
}

// paymentEffect returns the license mutation a payment triggers, or nil
// for payments that leave the license alone.
func paymentEffect(p *Payment, now time.Time) MutateFunc {
	switch p.Status {
	case PaymentPaid:
		return func(f *License) error { return applyPaid(f, p, now) }
	case PaymentPending:
		return func(f *License) error {
			if f.Status != StatusSuspended && f.Status != StatusPendingPayment {
				f.Status = StatusPendingPayment
				f.UpdatedAt = now
			}
			return nil
		}
	}
	return nil
}

// applyPaid extends a license for a paid payment. With an explicit period
// end the expiration moves to it only if that is later; without one the
// license is renewed by its type's default period. A suspended license
// keeps its status: only an explicit Renew lifts a suspension.
func applyPaid(f *License, p *Payment, now time.Time) error {
	suspended := f.Status == StatusSuspended
	if p.PeriodEnd == nil {
		if err := renew(f, "", 0, now); err != nil {
			return err
		}
	} else if p.PeriodEnd.After(f.ExpirationDate) {
		f.ExpirationDate = *p.PeriodEnd
		f.Status = StatusActive
		f.UpdatedAt = now
	} else if f.Status == StatusPendingPayment && !now.After(f.ExpirationDate) {
		f.Status = StatusActive
		f.UpdatedAt = now
	}
	if suspended {
		f.Status = StatusSuspended
	}
	return nil
}

// ListPayments returns the payments of a license in chronological order.
// Zero bounds are open; an end bound at midnight covers that whole day.
func (g *Ledger) ListPayments(ctx context.Context, licenseKey string, start, end time.Time) ([]Payment, error) {
	e := g.engine
	if _, err := e.store.GetLicense(ctx, licenseKey); err != nil {
		return nil, e.licenseError("get license", err)
	}
	if !end.IsZero() && isMidnight(end) {
		end = end.Add(day - time.Millisecond)
	}
	payments, err := g.payments.ListPayments(ctx, licenseKey, start, end)
	if err != nil {
		return nil, storeError("list payments", err)
	}
	return payments, nil
}

// PaymentSummary totals the paid payments of a license.
func (g *Ledger) PaymentSummary(ctx context.Context, licenseKey string) (PaymentSummary, error) {
	e := g.engine
	if _, err := e.store.GetLicense(ctx, licenseKey); err != nil {
		return PaymentSummary{}, e.licenseError("get license", err)
	}
	sum, err := g.payments.SumPaidPayments(ctx, licenseKey)
	if err != nil {
		return PaymentSummary{}, storeError("sum payments", err)
	}
	return sum, nil
}

func (r PaymentRequest) normalized() PaymentRequest {
	r.LicenseKey = strings.TrimSpace(r.LicenseKey)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if r.Currency == "" {
		r.Currency = defaultCurrency
	}
	if r.Status == "" {
		r.Status = PaymentPending
	}
	if r.Method == "" {
		r.Method = MethodOther
	}
	r.TransactionID = strings.TrimSpace(r.TransactionID)
	r.Notes = strings.TrimSpace(r.Notes)
	return r
}

func (r PaymentRequest) validate() error {
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, r.Amount)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPaymentStatus, r.Status)
	}
	if !r.Method.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, r.Method)
	}
	if r.PeriodStart != nil && r.PeriodEnd != nil && r.PeriodStart.After(*r.PeriodEnd) {
		return ErrInvalidPeriod
	}
	return nil
}

func isMidnight(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0
}
