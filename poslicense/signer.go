package poslicense

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// isoMillis matches the ISO-8601 form installations receive in JSON.
const isoMillis = "2006-01-02T15:04:05.000Z"

// Signer signs validation responses so an installation can trust a cached
// response for up to maxOfflineHours without reaching the server. It does
// not replace server-side validation.
type Signer struct {
	secret []byte
}

// NewSigner returns a signer keyed by secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the hex HMAC-SHA256 of licenseKey ‖ expiration ‖ maxOfflineHours.
func (s *Signer) Sign(licenseKey string, expiration time.Time, maxOfflineHours int) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(signingInput(licenseKey, expiration, maxOfflineHours)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches the given fields.
func (s *Signer) Verify(licenseKey string, expiration time.Time, maxOfflineHours int, signature string) bool {
	expected := s.Sign(licenseKey, expiration, maxOfflineHours)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func signingInput(licenseKey string, expiration time.Time, maxOfflineHours int) string {
	return licenseKey + expiration.UTC().Format(isoMillis) + strconv.Itoa(maxOfflineHours)
}
