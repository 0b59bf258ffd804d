package poslicense

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newLedgerFixture(t *testing.T) (*engineFixture, *Ledger) {
	t.Helper()
	f := newFixture(t)
	return f, NewLedger(f.engine, f.store)
}

func ptr[T any](v T) *T {
	return &v
}

func TestLedger_PaidPaymentExtendsToPeriodEnd(t *testing.T) {
	f, g := newLedgerFixture(t)
	ctx := context.Background()
	l := f.create(t, CreateRequest{LicenseType: TypeMonthly, DurationDays: 10})

	periodEnd := t0.AddDate(0, 0, 90)
	p, err := g.CreatePayment(ctx, PaymentRequest{
		LicenseKey: l.LicenseKey,
		Amount:     decimal.RequireFromString("49.90"),
		Status:     PaymentPaid,
		Method:     MethodCard,
		PeriodEnd:  &periodEnd,
	})
	require.NoError(t, err)
	_, err = uuid.Parse(p.ID)
	assert.NoError(t, err)
	require.NotNil(t, p.PaidAt)
	assert.Equal(t, t0, *p.PaidAt)
	assert.Equal(t, "USD", p.Currency)

	got, err := f.engine.Get(ctx, l.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, periodEnd, got.ExpirationDate)
	assert.Equal(t, StatusActive, got.Status)

	earlier := t0.AddDate(0, 0, 30)
	_, err = g.CreatePayment(ctx, PaymentRequest{
		LicenseKey: l.LicenseKey,
		Amount:     decimal.NewFromInt(10),
		Status:     PaymentPaid,
		PeriodEnd:  &earlier,
	})
	require.NoError(t, err)

	got, err = f.engine.Get(ctx, l.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, periodEnd, got.ExpirationDate)
}

func TestLedger_PaidPaymentWithoutPeriodRenewsByType(t *testing.T) {
	f, g := newLedgerFixture(t)
	ctx := context.Background()
	l := f.create(t, CreateRequest{LicenseType: TypeMonthly})

	_, err := g.CreatePayment(ctx, PaymentRequest{
		LicenseKey: l.LicenseKey,
		Amount:     decimal.NewFromInt(30),
		Status:     PaymentPaid,
	})
	require.NoError(t, err)

	got, err := f.engine.Get(ctx, l.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, l.ExpirationDate.AddDate(0, 1, 0), got.ExpirationDate)
}

func TestLedger_PaidPaymentReactivatesExpired(t *testing.T) {
	f, g := newLedgerFixture(t)
	ctx := context.Background()
	l := f.create(t, CreateRequest{LicenseType: TypeMonthly})

	f.clock.Advance(45 * day)
	now := f.clock.Now()
	_, err := f.engine.Get(ctx, l.LicenseKey)
	require.NoError(t, err)

	_, err = g.CreatePayment(ctx, PaymentRequest{
		LicenseKey: l.LicenseKey,
		Amount:     decimal.NewFromInt(30),
		Status:     PaymentPaid,
	})
	require.NoError(t, err)

	got, err := f.engine.Get(ctx, l.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, now.AddDate(0, 1, 0), got.ExpirationDate)
}

func TestLedger_PendingPaymentDegradesRoles(t *testing.T) {
	f, g := newLedgerFixture(t)
	ctx := context.Background()
	l := f.create(t, CreateRequest{
		LicenseType:        TypeMonthly,
		AllowedRoles:       []string{"Admin", "Cashier", "Waiter", "Kitchen"},
		AllowedRolesUnpaid: []string{"Admin", "Cashier"},
	})

	resp := f.validate(t, l.LicenseKey, "H1")
	require.True(t, resp.Valid)
	assert.Equal(t, []string{"Admin", "Cashier", "Waiter", "Kitchen"}, resp.License.AllowedRoles)

	_, err := g.CreatePayment(ctx, PaymentRequest{
		LicenseKey: l.LicenseKey,
		Amount:     decimal.NewFromInt(30),
		Status:     PaymentPending,
		Method:     MethodTransfer,
	})
	require.NoError(t, err)

	got, err := f.engine.Get(ctx, l.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPayment, got.Status)

	resp = f.validate(t, l.LicenseKey, "H1")
	require.True(t, resp.Valid)
	assert.Equal(t, StatusPendingPayment, resp.License.Status)
	assert.Equal(t, []string{"Admin", "Cashier"}, resp.License.AllowedRoles)

	// Settling the payment restores the paid role set.
	_, err = g.CreatePayment(ctx, PaymentRequest{
		LicenseKey: l.LicenseKey,
		Amount:     decimal.NewFromInt(30),
		Status:     PaymentPaid,
	})
	require.NoError(t, err)
	resp = f.validate(t, l.LicenseKey, "H1")
	require.True(t, resp.Valid)
	assert.Equal(t, StatusActive, resp.License.Status)
	assert.Equal(t, []string{"Admin", "Cashier", "Waiter", "Kitchen"}, resp.License.AllowedRoles)
}

func TestLedger_PaidWithoutLaterPeriodClearsPending(t *testing.T) {
	f, g := newLedgerFixture(t)
	ctx := context.Background()
	l := f.create(t, CreateRequest{LicenseType: TypeMonthly})

	_, err := g.CreatePayment(ctx, PaymentRequest{LicenseKey: l.LicenseKey, Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)

	_, err = g.CreatePayment(ctx, PaymentRequest{
		LicenseKey: l.LicenseKey,
		Amount:     decimal.NewFromInt(1),
		Status:     PaymentPaid,
		PeriodEnd:  ptr(t0),
	})
	require.NoError(t, err)

	got, err := f.engine.Get(ctx, l.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, l.ExpirationDate, got.ExpirationDate)
}

func TestLedger_SuspendedStaysSuspended(t *testing.T) {
	f, g := newLedgerFixture(t)
	ctx := context.Background()
	l := f.create(t, CreateRequest{LicenseType: TypeMonthly})
	_, err := f.engine.Deactivate(ctx, l.LicenseKey)
	require.NoError(t, err)

	_, err = g.CreatePayment(ctx, PaymentRequest{LicenseKey: l.LicenseKey, Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)
	_, err = g.CreatePayment(ctx, PaymentRequest{LicenseKey: l.LicenseKey, Amount: decimal.NewFromInt(5), Status: PaymentPaid})
	require.NoError(t, err)

	got, err := f.engine.Get(ctx, l.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, got.Status)
	assert.Equal(t, l.ExpirationDate.AddDate(0, 1, 0), got.ExpirationDate)
}

func TestLedger_FailedAndRefundedLeaveLicense(t *testing.T) {
	f, g := newLedgerFixture(t)
	ctx := context.Background()
	l := f.create(t, CreateRequest{LicenseType: TypeMonthly})

	for _, st := range []PaymentStatus{PaymentFailed, PaymentRefunded} {
		p, err := g.CreatePayment(ctx, PaymentRequest{LicenseKey: l.LicenseKey, Amount: decimal.NewFromInt(5), Status: st})
		require.NoError(t, err)
		assert.Nil(t, p.PaidAt)
	}

	got, err := f.store.GetLicense(ctx, l.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, l.ExpirationDate, got.ExpirationDate)
	assert.EqualValues(t, 1, got.Revision)
}

// unavailableStore fails every RecordPayment while down is set.
type unavailableStore struct {
	*MemoryStore
	down bool
}

var errStoreDown = errors.New("store unavailable")

func (s *unavailableStore) RecordPayment(ctx context.Context, p *Payment, fn MutateFunc) (*License, error) {
	if s.down {
		return nil, errStoreDown
	}
	return s.MemoryStore.RecordPayment(ctx, p, fn)
}

func TestLedger_StoreFailureRecordsNothing(t *testing.T) {
	ctx := context.Background()
	store := &unavailableStore{MemoryStore: NewMemoryStore()}
	clock := newFakeClock(t0)
	engine, err := NewEngine(DefaultConfig(testSecret), store, WithClock(clock.Now))
	require.NoError(t, err)
	g := NewLedger(engine, store)

	l, err := engine.Create(ctx, CreateRequest{LicenseType: TypeMonthly})
	require.NoError(t, err)
	req := PaymentRequest{LicenseKey: l.LicenseKey, Amount: decimal.NewFromInt(30), Status: PaymentPaid}

	store.down = true
	_, err = g.CreatePayment(ctx, req)
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, errStoreDown)

	// A retry after recovery pays exactly once.
	store.down = false
	_, err = g.CreatePayment(ctx, req)
	require.NoError(t, err)

	payments, err := g.ListPayments(ctx, l.LicenseKey, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, payments, 1)
	got, err := engine.Get(ctx, l.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, l.ExpirationDate.AddDate(0, 1, 0), got.ExpirationDate)
}

func TestLedger_RejectedLicenseUpdateStoresNoPayment(t *testing.T) {
	f, g := newLedgerFixture(t)
	ctx := context.Background()
	l := f.create(t, CreateRequest{LicenseType: TypeMonthly})

	// A record with a type the engine cannot renew makes the paid
	// payment's extension fail inside the store write.
	_, err := f.store.UpdateLicense(ctx, l.LicenseKey, func(r *License) error {
		r.LicenseType = "lifetime"
		return nil
	})
	require.NoError(t, err)

	_, err = g.CreatePayment(ctx, PaymentRequest{LicenseKey: l.LicenseKey, Amount: decimal.NewFromInt(30), Status: PaymentPaid})
	require.ErrorIs(t, err, ErrInvalidLicenseType)

	payments, err := f.store.ListPayments(ctx, l.LicenseKey, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, payments)
	got, err := f.store.GetLicense(ctx, l.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, l.ExpirationDate, got.ExpirationDate)
}

func TestLedger_ConcurrentPaidPaymentsAllExtend(t *testing.T) {
	f, g := newLedgerFixture(t)
	ctx := context.Background()
	l := f.create(t, CreateRequest{LicenseType: TypeTrial})

	const n = 8
	var eg errgroup.Group
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			_, err := g.CreatePayment(ctx, PaymentRequest{
				LicenseKey: l.LicenseKey,
				Amount:     decimal.NewFromInt(15),
				Status:     PaymentPaid,
				Method:     MethodCash,
			})
			return err
		})
	}
	require.NoError(t, eg.Wait())

	got, err := f.store.GetLicense(ctx, l.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, l.ExpirationDate.AddDate(0, 0, 15*n), got.ExpirationDate)

	sum, err := g.PaymentSummary(ctx, l.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, n, sum.Count)
	assert.True(t, decimal.NewFromInt(15*n).Equal(sum.TotalAmount))
}

func TestLedger_Rejections(t *testing.T) {
	f, g := newLedgerFixture(t)
	ctx := context.Background()
	l := f.create(t, CreateRequest{LicenseType: TypeMonthly})

	tests := []struct {
		name string
		req  PaymentRequest
		want error
	}{
		{"zero amount", PaymentRequest{LicenseKey: l.LicenseKey}, ErrInvalidAmount},
		{"negative amount", PaymentRequest{LicenseKey: l.LicenseKey, Amount: decimal.NewFromInt(-1)}, ErrInvalidAmount},
		{"unknown status", PaymentRequest{LicenseKey: l.LicenseKey, Amount: decimal.NewFromInt(1), Status: "settled"}, ErrInvalidPaymentStatus},
		{"unknown method", PaymentRequest{LicenseKey: l.LicenseKey, Amount: decimal.NewFromInt(1), Method: "bitcoin"}, ErrInvalidPaymentMethod},
		{"inverted period", PaymentRequest{
			LicenseKey:  l.LicenseKey,
			Amount:      decimal.NewFromInt(1),
			PeriodStart: ptr(t0.AddDate(0, 1, 0)),
			PeriodEnd:   ptr(t0),
		}, ErrInvalidPeriod},
		{"unknown license", PaymentRequest{LicenseKey: "missing", Amount: decimal.NewFromInt(1)}, ErrLicenseNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.CreatePayment(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	payments, err := g.ListPayments(ctx, l.LicenseKey, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestLedger_ListPaymentsAndSummary(t *testing.T) {
	f, g := newLedgerFixture(t)
	ctx := context.Background()
	l := f.create(t, CreateRequest{LicenseType: TypeAnnual})
	other := f.create(t, CreateRequest{LicenseType: TypeAnnual})

	record := func(key string, amount string, status PaymentStatus) {
		t.Helper()
		_, err := g.CreatePayment(ctx, PaymentRequest{
			LicenseKey: key,
			Amount:     decimal.RequireFromString(amount),
			Currency:   " eur ",
			Status:     status,
		})
		require.NoError(t, err)
	}

	record(l.LicenseKey, "10.50", PaymentPaid)
	f.clock.Advance(day)
	record(l.LicenseKey, "99.99", PaymentFailed)
	f.clock.Advance(day)
	record(l.LicenseKey, "20.25", PaymentPaid)
	record(other.LicenseKey, "1000", PaymentPaid)

	all, err := g.ListPayments(ctx, l.LicenseKey, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "10.5", all[0].Amount.String())
	assert.Equal(t, PaymentFailed, all[1].Status)
	assert.Equal(t, "EUR", all[2].Currency)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.Before(all[i-1].CreatedAt))
	}

	// An end bound at midnight covers the whole day.
	day1 := time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC)
	window, err := g.ListPayments(ctx, l.LicenseKey, day1, day1)
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, PaymentFailed, window[0].Status)

	sum, err := g.PaymentSummary(ctx, l.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Count)
	assert.True(t, decimal.RequireFromString("30.75").Equal(sum.TotalAmount))

	_, err = g.ListPayments(ctx, "missing", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrLicenseNotFound)
	_, err = g.PaymentSummary(ctx, "missing")
	assert.ErrorIs(t, err, ErrLicenseNotFound)
}

func TestLedger_PaymentMetrics(t *testing.T) {
	f, g := newLedgerFixture(t)
	ctx := context.Background()
	l := f.create(t, CreateRequest{LicenseType: TypeMonthly})

	for _, st := range []PaymentStatus{PaymentPaid, PaymentPaid, PaymentPending, PaymentFailed} {
		_, err := g.CreatePayment(ctx, PaymentRequest{LicenseKey: l.LicenseKey, Amount: decimal.NewFromInt(1), Status: st})
		require.NoError(t, err)
	}

	assert.Equal(t, map[string]int64{"paid": 2, "pending": 1, "failed": 1},
		counterValues(t, f.reader, "license.payments", "status"))
	assert.Equal(t, int64(2), counterValues(t, f.reader, "license.renewals", "")[""])
}
