package poslicense

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// CachedLicense is the last known good validation response as an
// installation keeps it on disk.
type CachedLicense struct {
	License  ValidatedLicense `json:"license"`
	CachedAt time.Time        `json:"cachedAt"`
}

// OfflineVerifier checks cached validation responses on an installation
// that cannot reach the license server. It needs the same secret the
// server signs with.
type OfflineVerifier struct {
	signer *Signer
	now    func() time.Time
}

// NewOfflineVerifier creates a verifier for responses signed with secret.
func NewOfflineVerifier(secret string, opts ...OfflineOption) *OfflineVerifier {
	v := &OfflineVerifier{
		signer: NewSigner(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyFile reads a cached license from disk and verifies it.
func (v *OfflineVerifier) VerifyFile(filePath string) (*CachedLicense, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read license cache: %w", err)
	}
	return v.Verify(raw)
}

// Verify parses a cached license and checks it:
//  1. the signature matches key, expiration and offline hours
//  2. the response was cached no longer than maxOfflineHours ago
//  3. the license has not passed its expiration
//
// On expiry or exceeded grace the parsed data is returned alongside the
// error so callers can still show it.
func (v *OfflineVerifier) Verify(raw []byte) (*CachedLicense, error) {
	var c CachedLicense
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCachedLicense, err)
	}
	if err := v.Check(c); err != nil {
		return &c, err
	}
	return &c, nil
}

// Check verifies an already decoded cached license.
func (v *OfflineVerifier) Check(c CachedLicense) error {
	l := c.License
	if l.LicenseKey == "" || l.Signature == "" {
		return ErrNoCachedLicense
	}
	if l.SignatureAlgorithm != "" && l.SignatureAlgorithm != SignatureAlgorithm {
		return fmt.Errorf("%w: unsupported algorithm %q", ErrSignatureInvalid, l.SignatureAlgorithm)
	}
	if !v.signer.Verify(l.LicenseKey, l.ExpirationDate, l.MaxOfflineHours, l.Signature) {
		return ErrSignatureInvalid
	}
	now := v.now()
	grace := time.Duration(l.MaxOfflineHours) * time.Hour
	if now.Sub(c.CachedAt) > grace {
		return fmt.Errorf("%w: cached %s ago, limit %dh", ErrOfflineGraceExceeded,
			now.Sub(c.CachedAt).Round(time.Minute), l.MaxOfflineHours)
	}
	if now.After(l.ExpirationDate) {
		return ErrLicenseExpired
	}
	return nil
}
