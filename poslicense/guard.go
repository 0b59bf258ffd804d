package poslicense

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// RoleGuard decides on an installation which operator roles may log in,
// based on the last signed validation response it received. It keeps
// working offline until the response's grace period runs out.
type RoleGuard struct {
	verifier *OfflineVerifier

	mu     sync.RWMutex
	cached *CachedLicense
}

// NewRoleGuard creates a guard that checks cached responses with verifier.
func NewRoleGuard(verifier *OfflineVerifier) *RoleGuard {
	return &RoleGuard{verifier: verifier}
}

// Merge adopts a fresh server response. Missing roles fall back to
// DefaultRoles and a missing offline window to 72 hours; the signature is
// checked before anything is cached.
func (g *RoleGuard) Merge(l ValidatedLicense) error {
	if len(l.AllowedRoles) == 0 {
		l.AllowedRoles = DefaultRoles()
	}
	if l.MaxOfflineHours <= 0 {
		l.MaxOfflineHours = 72
	}
	c := CachedLicense{License: l, CachedAt: g.verifier.now()}
	if err := g.verifier.Check(c); err != nil && !errors.Is(err, ErrLicenseExpired) {
		return fmt.Errorf("merge license: %w", err)
	}
	g.mu.Lock()
	g.cached = &c
	g.mu.Unlock()
	return nil
}

// Load restores a cache written by Save. The file is only adopted if it
// still verifies.
func (g *RoleGuard) Load(filePath string) error {
	c, err := g.verifier.VerifyFile(filePath)
	if err != nil && !errors.Is(err, ErrLicenseExpired) {
		return err
	}
	g.mu.Lock()
	g.cached = c
	g.mu.Unlock()
	return nil
}

// Save writes the cached response to filePath.
func (g *RoleGuard) Save(filePath string) error {
	g.mu.RLock()
	c := g.cached
	g.mu.RUnlock()
	if c == nil {
		return ErrNoCachedLicense
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal license cache: %w", err)
	}
	if err := os.WriteFile(filePath, raw, 0o600); err != nil {
		return fmt.Errorf("write license cache: %w", err)
	}
	return nil
}

// Allow returns nil if role may operate the installation right now. A
// suspended or expired license allows nobody, whether the server reported
// it or the expiration passed while offline.
func (g *RoleGuard) Allow(role string) error {
	g.mu.RLock()
	c := g.cached
	g.mu.RUnlock()
	if c == nil {
		return ErrNoCachedLicense
	}
	switch c.License.Status {
	case StatusSuspended:
		return ErrLicenseSuspended
	case StatusExpired:
		return ErrLicenseExpired
	}
	if err := g.verifier.Check(*c); err != nil {
		return err
	}
	if !RolePermitted(c.License.AllowedRoles, role) {
		return fmt.Errorf("%w: %q", ErrRoleNotPermitted, role)
	}
	return nil
}
