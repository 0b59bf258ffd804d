package poslicense

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeRoles(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil", nil, []string{"Admin", "Cashier"}},
		{"blanks only", []string{"", "  "}, []string{"Admin", "Cashier"}},
		{"trim and dedupe", []string{" Waiter", "Admin", "Waiter ", "Admin"}, []string{"Waiter", "Admin"}},
		{"order kept", []string{"Kitchen", "Cashier"}, []string{"Kitchen", "Cashier"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeRoles(tt.in))
		})
	}
}

func TestDefaultRoles_FreshCopy(t *testing.T) {
	r := DefaultRoles()
	r[0] = "Mutated"
	assert.Equal(t, []string{"Admin", "Cashier"}, DefaultRoles())
}

func TestEffectiveRoles(t *testing.T) {
	exp := t0.Add(day)
	paid := []string{"Admin", "Cashier", "Waiter"}
	unpaid := []string{"Cashier"}

	assert.Equal(t, paid, EffectiveRoles(StatusActive, exp, t0, paid, unpaid))
	assert.Equal(t, paid, EffectiveRoles(StatusActive, exp, exp, paid, unpaid))
	assert.Equal(t, unpaid, EffectiveRoles(StatusActive, exp, exp.Add(time.Second), paid, unpaid))
	assert.Equal(t, unpaid, EffectiveRoles(StatusPendingPayment, exp, t0, paid, unpaid))
	assert.Equal(t, unpaid, EffectiveRoles(StatusExpired, exp, t0, paid, unpaid))
	assert.Equal(t, unpaid, EffectiveRoles(StatusSuspended, exp, t0, paid, unpaid))
}

func TestEffectiveRoles_NeverEmpty(t *testing.T) {
	statuses := []Status{StatusActive, StatusSuspended, StatusExpired, StatusPendingPayment}
	lists := [][]string{nil, {}, {""}, {"Waiter"}}
	for _, st := range statuses {
		for _, now := range []time.Time{t0, t0.Add(2 * day)} {
			for _, a := range lists {
				for _, u := range lists {
					assert.NotEmpty(t, EffectiveRoles(st, t0.Add(day), now, a, u))
				}
			}
		}
	}
}

func TestRolePermitted(t *testing.T) {
	roles := []string{"Admin", "Cashier"}
	assert.True(t, RolePermitted(roles, "Admin"))
	assert.False(t, RolePermitted(roles, "admin"))
	assert.False(t, RolePermitted(roles, "Waiter"))
	assert.False(t, RolePermitted(roles, ""))
}
