package poslicense

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MutateFunc changes a license inside a serialized read-modify-write.
// Returning an error aborts the write and is passed back to the caller.
type MutateFunc func(l *License) error

// LicenseStore persists license records keyed by license key.
type LicenseStore interface {
	// InsertLicense stores a new record. Returns ErrDuplicateKey if the key exists.
	InsertLicense(ctx context.Context, l *License) error

	// GetLicense returns the record for key or ErrRecordNotFound.
	GetLicense(ctx context.Context, key string) (*License, error)

	// ListByHardwareID returns the licenses stored as active and bound to
	// hardwareID. Lazy expiry is not applied.
	ListByHardwareID(ctx context.Context, hardwareID string) ([]License, error)

	// UpdateLicense applies fn to the current stored record and writes the
	// result. Updates to the same key are serialized: fn always sees the
	// value committed by the previous update.
	UpdateLicense(ctx context.Context, key string, fn MutateFunc) (*License, error)

	// DeleteLicense removes the record or returns ErrRecordNotFound.
	DeleteLicense(ctx context.Context, key string) error

	// ListLicenses returns every record ordered by creation time. Lazy
	// expiry is not applied.
	ListLicenses(ctx context.Context) ([]License, error)
}

// PaymentStore persists the append-only payment ledger.
type PaymentStore interface {
	// RecordPayment appends p and applies fn to the license p belongs to as
	// one atomic write: either both are stored or neither is. A nil fn
	// leaves the license untouched. Returns the license as committed, or
	// ErrRecordNotFound if it does not exist. Payments are never updated.
	RecordPayment(ctx context.Context, p *Payment, fn MutateFunc) (*License, error)

	// ListPayments returns payments for licenseKey created within [from, to]
	// in creation order. Zero bounds are open.
	ListPayments(ctx context.Context, licenseKey string, from, to time.Time) ([]Payment, error)

	// SumPaidPayments totals the paid payments for licenseKey.
	SumPaidPayments(ctx context.Context, licenseKey string) (PaymentSummary, error)
}

// Store is the full persistence surface used by Engine and Ledger.
type Store interface {
	LicenseStore
	PaymentStore

	// Close releases any resources held by the store.
	Close(ctx context.Context) error
}

// MemoryStore is an in-process Store. It is safe for concurrent use and is
// intended for tests and single-process tools.
type MemoryStore struct {
	mu       sync.Mutex
	licenses map[string]*License
	payments []Payment
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{licenses: make(map[string]*License)}
}

func (s *MemoryStore) InsertLicense(_ context.Context, l *License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.licenses[l.LicenseKey]; ok {
		return ErrDuplicateKey
	}
	c := l.Clone()
	c.Revision = 1
	s.licenses[l.LicenseKey] = c
	l.Revision = 1
	return nil
}

func (s *MemoryStore) GetLicense(_ context.Context, key string) (*License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.licenses[key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return l.Clone(), nil
}

func (s *MemoryStore) ListByHardwareID(_ context.Context, hardwareID string) ([]License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []License
	for _, l := range s.licenses {
		if l.HardwareID == hardwareID && l.Status == StatusActive {
			out = append(out, *l.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateLicense(_ context.Context, key string, fn MutateFunc) (*License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(key, fn)
}

func (s *MemoryStore) updateLocked(key string, fn MutateFunc) (*License, error) {
	cur, ok := s.licenses[key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.LicenseKey = key
	next.Revision = cur.Revision + 1
	s.licenses[key] = next
	return next.Clone(), nil
}

func (s *MemoryStore) DeleteLicense(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.licenses[key]; !ok {
		return ErrRecordNotFound
	}
	delete(s.licenses, key)
	return nil
}

func (s *MemoryStore) ListLicenses(_ context.Context) ([]License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]License, 0, len(s.licenses))
	for _, l := range s.licenses {
		out = append(out, *l.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].LicenseKey < out[j].LicenseKey
	})
	return out, nil
}

func (s *MemoryStore) RecordPayment(_ context.Context, p *Payment, fn MutateFunc) (*License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.licenses[p.LicenseKey]
	if !ok {
		return nil, ErrRecordNotFound
	}
	l := cur.Clone()
	if fn != nil {
		var err error
		if l, err = s.updateLocked(p.LicenseKey, fn); err != nil {
			return nil, err
		}
	}
	s.payments = append(s.payments, *p)
	return l, nil
}

func (s *MemoryStore) ListPayments(_ context.Context, licenseKey string, from, to time.Time) ([]Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Payment
	for _, p := range s.payments {
		if p.LicenseKey != licenseKey {
			continue
		}
		if !from.IsZero() && p.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && p.CreatedAt.After(to) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) SumPaidPayments(_ context.Context, licenseKey string) (PaymentSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := PaymentSummary{TotalAmount: decimal.Zero}
	for _, p := range s.payments {
		if p.LicenseKey == licenseKey && p.Status == PaymentPaid {
			sum.TotalAmount = sum.TotalAmount.Add(p.Amount)
			sum.Count++
		}
	}
	return sum, nil
}

func (s *MemoryStore) Close(_ context.Context) error {
	return nil
}
