package poslicense

import "time"

// OfflineOption configures an OfflineVerifier.
type OfflineOption func(*OfflineVerifier)

// WithOfflineClock sets the time source used for grace and expiry checks.
func WithOfflineClock(now func() time.Time) OfflineOption {
	return func(v *OfflineVerifier) {
		v.now = now
	}
}
