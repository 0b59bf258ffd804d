package poslicense

import (
	"slices"
	"strings"
	"time"
)

// Role names granted when a role list is empty. Administrative access must
// survive even an unpaid license.
const (
	RoleAdmin   = "Admin"
	RoleCashier = "Cashier"
)

// DefaultRoles returns a fresh copy of the fallback role list.
func DefaultRoles() []string {
	return []string{RoleAdmin, RoleCashier}
}

// SanitizeRoles trims names, drops blanks and duplicates (keeping first
// occurrence order) and falls back to DefaultRoles when nothing is left.
func SanitizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	if len(out) == 0 {
		return DefaultRoles()
	}
	return out
}

// PaidUp reports whether a license in status expiring at expiration is
// active and not past its expiration at now.
func PaidUp(status Status, expiration, now time.Time) bool {
	return status == StatusActive && !now.After(expiration)
}

// EffectiveRoles returns allowed while the license is paid up and unpaid
// otherwise. The result is never empty.
func EffectiveRoles(status Status, expiration, now time.Time, allowed, unpaid []string) []string {
	if PaidUp(status, expiration, now) {
		return SanitizeRoles(allowed)
	}
	return SanitizeRoles(unpaid)
}

// RolePermitted reports whether role is one of roles.
func RolePermitted(roles []string, role string) bool {
	return role != "" && slices.Contains(roles, role)
}
