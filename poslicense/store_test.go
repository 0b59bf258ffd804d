package poslicense

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedLicense(t *testing.T, s *MemoryStore, key string, created time.Time) {
	t.Helper()
	require.NoError(t, s.InsertLicense(context.Background(), &License{
		LicenseKey:     key,
		LicenseType:    TypeMonthly,
		Status:         StatusActive,
		ExpirationDate: created.AddDate(0, 1, 0),
		CreatedAt:      created,
	}))
}

func TestMemoryStore_RecordPaymentAppliesBoth(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedLicense(t, s, "K1", t0)

	p := &Payment{ID: "p1", LicenseKey: "K1", Amount: decimal.NewFromInt(10), Status: PaymentPending, CreatedAt: t0}
	l, err := s.RecordPayment(ctx, p, func(f *License) error {
		f.Status = StatusPendingPayment
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPayment, l.Status)
	assert.EqualValues(t, 2, l.Revision)

	payments, err := s.ListPayments(ctx, "K1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestMemoryStore_RecordPaymentAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedLicense(t, s, "K1", t0)
	errBoom := errors.New("boom")

	_, err := s.RecordPayment(ctx, &Payment{ID: "p1", LicenseKey: "K1"}, func(f *License) error {
		f.Status = StatusSuspended
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	_, err = s.RecordPayment(ctx, &Payment{ID: "p2", LicenseKey: "missing"}, nil)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	payments, err := s.ListPayments(ctx, "K1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, payments)
	got, err := s.GetLicense(ctx, "K1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.EqualValues(t, 1, got.Revision)
}

func TestMemoryStore_RecordPaymentNilMutation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedLicense(t, s, "K1", t0)

	l, err := s.RecordPayment(ctx, &Payment{ID: "p1", LicenseKey: "K1", Status: PaymentFailed}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, l.Revision)

	payments, err := s.ListPayments(ctx, "K1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestMemoryStore_ListLicensesOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedLicense(t, s, "K3", t0.Add(time.Hour))
	seedLicense(t, s, "K2", t0)
	seedLicense(t, s, "K1", t0)

	list, err := s.ListLicenses(ctx)
	require.NoError(t, err)
	keys := make([]string, 0, len(list))
	for _, l := range list {
		keys = append(keys, l.LicenseKey)
	}
	assert.Equal(t, []string{"K1", "K2", "K3"}, keys)

	// Returned records are copies.
	list[0].Status = StatusSuspended
	got, err := s.GetLicense(ctx, "K1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
}
