package licensestore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudNativeWorks/cnw-pos-license/poslicense"
)

func TestValidIdentifier(t *testing.T) {
	for _, name := range []string{"pos_licenses", "_x", "Payments2"} {
		assert.True(t, validIdentifier.MatchString(name), name)
	}
	for _, name := range []string{"", "1abc", "pos-licenses", "a;DROP TABLE x", "a b"} {
		assert.False(t, validIdentifier.MatchString(name), name)
	}
}

func TestNewMongoStore_RejectsBadCollection(t *testing.T) {
	_, err := NewMongoStore(context.Background(), nil, WithLicenseCollection("bad-name"))
	assert.ErrorContains(t, err, "invalid collection name")

	_, err = NewMongoStore(context.Background(), nil, WithPaymentCollection("x; drop"))
	assert.ErrorContains(t, err, "invalid collection name")
}

func TestNewPostgresStore_RejectsBadTable(t *testing.T) {
	_, err := NewPostgresStore(context.Background(), nil, WithLicenseTable("licenses;--"))
	assert.ErrorContains(t, err, "invalid table name")

	_, err = NewPostgresStore(context.Background(), nil, WithPaymentTable("1payments"))
	assert.ErrorContains(t, err, "invalid table name")
}

func TestDecimal128RoundTrip(t *testing.T) {
	for _, s := range []string{"0.01", "49.90", "1000", "123456789012.34"} {
		d := decimal.RequireFromString(s)
		v, err := toDecimal128(d)
		require.NoError(t, err)
		back, err := fromDecimal128(v)
		require.NoError(t, err)
		assert.True(t, d.Equal(back), "%s -> %s -> %s", s, v, back)
	}
}

func TestPaymentDocConversion(t *testing.T) {
	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	end := created.AddDate(0, 1, 0)
	p := &poslicense.Payment{
		ID:         "6f1c6c1e-9a43-4d5c-a0f5-1f0e7b3c2d11",
		LicenseKey: "LUNIA-0123456789ABCDEF-ABCD",
		Amount:     decimal.RequireFromString("29.99"),
		Currency:   "MXN",
		Status:     poslicense.PaymentPaid,
		Method:     poslicense.MethodCash,
		PeriodEnd:  &end,
		PaidAt:     &created,
		CreatedAt:  created,
	}

	doc, err := toPaymentDoc(p)
	require.NoError(t, err)
	assert.Equal(t, "paid", doc.Status)
	assert.Equal(t, "29.99", doc.Amount.String())

	back, err := doc.toPayment()
	require.NoError(t, err)
	assert.True(t, p.Amount.Equal(back.Amount))
	back.Amount = p.Amount
	assert.Equal(t, *p, back)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "$1", placeholders(1))
	assert.Equal(t, "$1, $2, $3", placeholders(3))
}

func TestNonNil(t *testing.T) {
	assert.Equal(t, []string{}, nonNil(nil))
	assert.Equal(t, []string{"Admin"}, nonNil([]string{"Admin"}))
}

func TestRetryStale(t *testing.T) {
	want := &poslicense.License{LicenseKey: "K"}

	calls := 0
	got, err := retryStale(5, func() (*poslicense.License, error) {
		calls++
		if calls < 3 {
			return nil, errStaleRevision
		}
		return want, nil
	})
	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = retryStale(4, func() (*poslicense.License, error) {
		calls++
		return nil, errStaleRevision
	})
	assert.ErrorIs(t, err, poslicense.ErrUpdateConflict)
	assert.Equal(t, 4, calls)

	calls = 0
	_, err = retryStale(4, func() (*poslicense.License, error) {
		calls++
		return nil, poslicense.ErrRecordNotFound
	})
	assert.ErrorIs(t, err, poslicense.ErrRecordNotFound)
	assert.Equal(t, 1, calls)
}
