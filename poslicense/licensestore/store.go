// Package licensestore provides durable poslicense.Store implementations
// backed by MongoDB and PostgreSQL.
//
// Both serialize updates to the same license: MongoDB through optimistic
// concurrency on the record's revision, PostgreSQL through row locks. A
// payment and the license change it triggers are written in one
// transaction; on MongoDB this requires a replica set.
package licensestore

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/CloudNativeWorks/cnw-pos-license/poslicense"
)

const (
	defaultLicensesName = "pos_licenses"
	defaultPaymentsName = "pos_license_payments"

	defaultMaxUpdateAttempts = 5
)

// validIdentifier matches safe collection and table names.
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// errStaleRevision reports that an optimistic write lost to a concurrent one.
var errStaleRevision = errors.New("stale license revision")

// retryStale runs try until it stops failing with errStaleRevision, at most
// attempts times.
func retryStale(attempts int, try func() (*poslicense.License, error)) (*poslicense.License, error) {
	for i := 0; i < attempts; i++ {
		l, err := try()
		if !errors.Is(err, errStaleRevision) {
			return l, err
		}
	}
	return nil, fmt.Errorf("update license after %d attempts: %w", attempts, poslicense.ErrUpdateConflict)
}

var (
	_ poslicense.Store = (*MongoStore)(nil)
	_ poslicense.Store = (*PostgresStore)(nil)
)
