//go:build integration

package licensestore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/CloudNativeWorks/cnw-pos-license/poslicense"
)

// Run with: LICENSESTORE_MONGO_URI=mongodb://localhost:27017/?replicaSet=rs0 go test -tags integration ./...
// Payment transactions need a replica set.

func newTestMongoStore(t *testing.T, opts ...MongoOption) *MongoStore {
	t.Helper()
	uri := os.Getenv("LICENSESTORE_MONGO_URI")
	if uri == "" {
		t.Skip("LICENSESTORE_MONGO_URI not set")
	}
	ctx := context.Background()
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	db := client.Database("licensestore_test_" + uuid.NewString()[:8])
	t.Cleanup(func() {
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	s, err := NewMongoStore(ctx, db, opts...)
	require.NoError(t, err)
	return s
}

func insertTestLicense(t *testing.T, s *MongoStore, key string) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.InsertLicense(context.Background(), &poslicense.License{
		LicenseKey:     key,
		LicenseType:    poslicense.TypeMonthly,
		Status:         poslicense.StatusActive,
		StartDate:      now,
		ExpirationDate: now.AddDate(0, 1, 0),
		CreatedAt:      now,
		UpdatedAt:      now,
	}))
}

func TestMongoStore_UpdateRetriesOnStaleRevision(t *testing.T) {
	s := newTestMongoStore(t)
	ctx := context.Background()
	insertTestLicense(t, s, "K1")

	calls := 0
	got, err := s.UpdateLicense(ctx, "K1", func(l *poslicense.License) error {
		calls++
		if calls == 1 {
			// A competing writer commits between our read and write.
			_, err := s.UpdateLicense(ctx, "K1", func(o *poslicense.License) error {
				o.ValidationCount += 10
				return nil
			})
			require.NoError(t, err)
		}
		l.ValidationCount++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.EqualValues(t, 11, got.ValidationCount)
	assert.EqualValues(t, 3, got.Revision)
}

func TestMongoStore_UpdateConflictAfterMaxAttempts(t *testing.T) {
	s := newTestMongoStore(t, WithMaxUpdateAttempts(2))
	ctx := context.Background()
	insertTestLicense(t, s, "K1")

	calls := 0
	_, err := s.UpdateLicense(ctx, "K1", func(l *poslicense.License) error {
		calls++
		_, err := s.UpdateLicense(ctx, "K1", func(o *poslicense.License) error { return nil })
		require.NoError(t, err)
		return nil
	})
	assert.ErrorIs(t, err, poslicense.ErrUpdateConflict)
	assert.Equal(t, 2, calls)

	stored, err := s.GetLicense(ctx, "K1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, stored.Revision)
}

func TestMongoStore_RecordPaymentAtomic(t *testing.T) {
	s := newTestMongoStore(t)
	ctx := context.Background()
	insertTestLicense(t, s, "K1")

	p := &poslicense.Payment{
		ID:         uuid.NewString(),
		LicenseKey: "K1",
		Amount:     decimal.RequireFromString("49.90"),
		Currency:   "USD",
		Status:     poslicense.PaymentPaid,
		Method:     poslicense.MethodCard,
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
	_, err := s.RecordPayment(ctx, p, func(l *poslicense.License) error {
		return poslicense.ErrInvalidLicenseType
	})
	require.ErrorIs(t, err, poslicense.ErrInvalidLicenseType)

	payments, err := s.ListPayments(ctx, "K1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, payments)

	l, err := s.RecordPayment(ctx, p, func(l *poslicense.License) error {
		l.Status = poslicense.StatusPendingPayment
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, poslicense.StatusPendingPayment, l.Status)

	sum, err := s.SumPaidPayments(ctx, "K1")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Count)
	assert.True(t, p.Amount.Equal(sum.TotalAmount))
}

func TestMongoStore_ListLicenses(t *testing.T) {
	s := newTestMongoStore(t)
	ctx := context.Background()
	insertTestLicense(t, s, "K1")
	insertTestLicense(t, s, "K2")

	list, err := s.ListLicenses(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "K1", list[0].LicenseKey)
}
