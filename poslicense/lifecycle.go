package poslicense

import (
	"fmt"
	"math"
	"time"
)

const day = 24 * time.Hour

// Valid reports whether t is a known license type.
func (t LicenseType) Valid() bool {
	switch t {
	case TypeTrial, TypeMonthly, TypeQuarterly, TypeBiannual, TypeAnnual, TypePerpetual:
		return true
	}
	return false
}

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCard, MethodCash, MethodTransfer, MethodPayPal, MethodStripe, MethodOther:
		return true
	}
	return false
}

// Advance moves base forward by durationDays when positive, otherwise by
// the default period of licenseType. Months and years are calendar-aware.
func Advance(base time.Time, licenseType LicenseType, durationDays int) (time.Time, error) {
	if durationDays < 0 {
		return time.Time{}, fmt.Errorf("%w: %d days", ErrInvalidDuration, durationDays)
	}
	if durationDays > 0 {
		return base.AddDate(0, 0, durationDays), nil
	}
	switch licenseType {
	case TypeTrial:
		return base.AddDate(0, 0, 15), nil
	case TypeMonthly:
		return base.AddDate(0, 1, 0), nil
	case TypeQuarterly:
		return base.AddDate(0, 3, 0), nil
	case TypeBiannual:
		return base.AddDate(0, 6, 0), nil
	case TypeAnnual:
		return base.AddDate(1, 0, 0), nil
	case TypePerpetual:
		return base.AddDate(99, 0, 0), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidLicenseType, licenseType)
}

// EffectiveStatus applies lazy expiry: an active license past its
// expiration is expired. Every other status is returned unchanged.
func EffectiveStatus(status Status, expiration, now time.Time) Status {
	if status == StatusActive && now.After(expiration) {
		return StatusExpired
	}
	return status
}

// DaysRemaining rounds the time left until expiration up to whole days.
// It is zero or negative once the license has expired.
func DaysRemaining(expiration, now time.Time) int {
	return int(math.Ceil(float64(expiration.Sub(now)) / float64(day)))
}

func expiryWarning(expiration, now time.Time, thresholdDays int) string {
	days := DaysRemaining(expiration, now)
	if days <= 0 || days > thresholdDays {
		return ""
	}
	return fmt.Sprintf("Su licencia vencerá en %d días. Por favor contacte a soporte.", days)
}
