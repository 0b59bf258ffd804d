package licensestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/CloudNativeWorks/cnw-pos-license/poslicense"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithLicenseTable sets the license table name. Default: "pos_licenses".
func WithLicenseTable(name string) PostgresOption {
	return func(s *PostgresStore) {
		s.licensesTable = name
	}
}

// WithPaymentTable sets the payment table name. Default: "pos_license_payments".
func WithPaymentTable(name string) PostgresOption {
	return func(s *PostgresStore) {
		s.paymentsTable = name
	}
}

// PostgresStore implements poslicense.Store using PostgreSQL.
type PostgresStore struct {
	pool          *pgxpool.Pool
	licensesTable string
	paymentsTable string
}

// NewPostgresStore creates a PostgreSQL-backed store.
// It auto-creates the tables and indexes on initialization.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	s := &PostgresStore{
		pool:          pool,
		licensesTable: defaultLicensesName,
		paymentsTable: defaultPaymentsName,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, name := range []string{s.licensesTable, s.paymentsTable} {
		if !validIdentifier.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", name)
		}
	}
	if err := s.ensureTables(ctx); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) ensureTables(ctx context.Context) error {
	l, p := s.licensesTable, s.paymentsTable
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			license_key             TEXT PRIMARY KEY,
			product_id              TEXT NOT NULL DEFAULT '',
			client_id               TEXT NOT NULL DEFAULT '',
			restaurant_name         TEXT NOT NULL DEFAULT '',
			email                   TEXT NOT NULL DEFAULT '',
			phone                   TEXT NOT NULL DEFAULT '',
			address                 TEXT NOT NULL DEFAULT '',
			authorized_domain_or_ip TEXT NOT NULL DEFAULT '*',
			license_type            TEXT NOT NULL,
			start_date              TIMESTAMPTZ NOT NULL,
			expiration_date         TIMESTAMPTZ NOT NULL,
			status                  TEXT NOT NULL,
			max_devices             INTEGER NOT NULL DEFAULT 1,
			hardware_id             TEXT NOT NULL DEFAULT '',
			allowed_roles           TEXT[] NOT NULL DEFAULT '{}',
			allowed_roles_unpaid    TEXT[] NOT NULL DEFAULT '{}',
			last_validation         TIMESTAMPTZ,
			validation_count        BIGINT NOT NULL DEFAULT 0,
			created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			revision                BIGINT NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_hardware_status
			ON %[1]s (hardware_id, status);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_client_status
			ON %[1]s (client_id, status);

		CREATE TABLE IF NOT EXISTS %[2]s (
			id             TEXT PRIMARY KEY,
			license_key    TEXT NOT NULL,
			amount         NUMERIC(14, 2) NOT NULL CHECK (amount > 0),
			currency       TEXT NOT NULL,
			status         TEXT NOT NULL,
			method         TEXT NOT NULL,
			transaction_id TEXT NOT NULL DEFAULT '',
			period_start   TIMESTAMPTZ,
			period_end     TIMESTAMPTZ,
			paid_at        TIMESTAMPTZ,
			notes          TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_%[2]s_license_created
			ON %[2]s (license_key, created_at);
		CREATE INDEX IF NOT EXISTS idx_%[2]s_paid_at
			ON %[2]s (paid_at);
	`, l, p)
	_, err := s.pool.Exec(ctx, query)
	return err
}

const licenseColumns = `license_key, product_id, client_id, restaurant_name, email, phone, address,
	authorized_domain_or_ip, license_type, start_date, expiration_date, status, max_devices,
	hardware_id, allowed_roles, allowed_roles_unpaid, last_validation, validation_count,
	created_at, updated_at, revision`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*poslicense.License, error) {
	var (
		l           poslicense.License
		licenseType string
		status      string
	)
	err := row.Scan(&l.LicenseKey, &l.ProductID, &l.ClientID, &l.RestaurantName, &l.Email,
		&l.Phone, &l.Address, &l.AuthorizedDomainOrIP, &licenseType, &l.StartDate,
		&l.ExpirationDate, &status, &l.MaxDevices, &l.HardwareID, &l.AllowedRoles,
		&l.AllowedRolesUnpaid, &l.LastValidation, &l.ValidationCount, &l.CreatedAt,
		&l.UpdatedAt, &l.Revision)
	if err != nil {
		return nil, err
	}
	l.LicenseType = poslicense.LicenseType(licenseType)
	l.Status = poslicense.Status(status)
	return &l, nil
}

func licenseArgs(l *poslicense.License) []any {
	return []any{l.LicenseKey, l.ProductID, l.ClientID, l.RestaurantName, l.Email,
		l.Phone, l.Address, l.AuthorizedDomainOrIP, string(l.LicenseType), l.StartDate,
		l.ExpirationDate, string(l.Status), l.MaxDevices, l.HardwareID, nonNil(l.AllowedRoles),
		nonNil(l.AllowedRolesUnpaid), l.LastValidation, l.ValidationCount, l.CreatedAt,
		l.UpdatedAt, l.Revision}
}

// nonNil keeps NOT NULL array columns from receiving NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *PostgresStore) InsertLicense(ctx context.Context, l *poslicense.License) error {
	l.Revision = 1
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		s.licensesTable, licenseColumns, placeholders(21))
	if _, err := s.pool.Exec(ctx, query, licenseArgs(l)...); err != nil {
		if isUniqueViolation(err) {
			return poslicense.ErrDuplicateKey
		}
		return fmt.Errorf("insert license: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLicense(ctx context.Context, key string) (*poslicense.License, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE license_key = $1`, licenseColumns, s.licensesTable)
	l, err := scanLicense(s.pool.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, poslicense.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) ListByHardwareID(ctx context.Context, hardwareID string) ([]poslicense.License, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE hardware_id = $1 AND status = $2 ORDER BY created_at`,
		licenseColumns, s.licensesTable)
	rows, err := s.pool.Query(ctx, query, hardwareID, string(poslicense.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("list licenses by hardware id: %w", err)
	}
	defer rows.Close()

	var out []poslicense.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// UpdateLicense locks the row for the duration of the transaction so
// concurrent updates to the same key apply one after another.
func (s *PostgresStore) UpdateLicense(ctx context.Context, key string, fn poslicense.MutateFunc) (*poslicense.License, error) {
	var out *poslicense.License
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		out, err = s.mutateLocked(ctx, tx, key, fn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// mutateLocked locks the license row in tx, applies fn and writes the
// result back. A nil fn only locks and returns the row.
func (s *PostgresStore) mutateLocked(ctx context.Context, tx pgx.Tx, key string, fn poslicense.MutateFunc) (*poslicense.License, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE license_key = $1 FOR UPDATE`, licenseColumns, s.licensesTable)
	cur, err := scanLicense(tx.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, poslicense.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock license: %w", err)
	}
	if fn == nil {
		return cur, nil
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.LicenseKey = key
	next.Revision = cur.Revision + 1

	update := fmt.Sprintf(`
		UPDATE %s SET
			product_id = $2, client_id = $3, restaurant_name = $4, email = $5, phone = $6,
			address = $7, authorized_domain_or_ip = $8, license_type = $9, start_date = $10,
			expiration_date = $11, status = $12, max_devices = $13, hardware_id = $14,
			allowed_roles = $15, allowed_roles_unpaid = $16, last_validation = $17,
			validation_count = $18, created_at = $19, updated_at = $20, revision = $21
		WHERE license_key = $1
	`, s.licensesTable)
	if _, err := tx.Exec(ctx, update, licenseArgs(next)...); err != nil {
		return nil, fmt.Errorf("update license: %w", err)
	}
	return next, nil
}

func (s *PostgresStore) ListLicenses(ctx context.Context) ([]poslicense.License, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at, license_key`, licenseColumns, s.licensesTable)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	out := []poslicense.License{}
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteLicense(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE license_key = $1`, s.licensesTable)
	tag, err := s.pool.Exec(ctx, query, key)
	if err != nil {
		return fmt.Errorf("delete license: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return poslicense.ErrRecordNotFound
	}
	return nil
}

// RecordPayment locks the license, applies fn and inserts the payment in
// one transaction.
func (s *PostgresStore) RecordPayment(ctx context.Context, p *poslicense.Payment, fn poslicense.MutateFunc) (*poslicense.License, error) {
	insert := fmt.Sprintf(`
		INSERT INTO %s (id, license_key, amount, currency, status, method, transaction_id,
			period_start, period_end, paid_at, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, s.paymentsTable)

	var out *poslicense.License
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		l, err := s.mutateLocked(ctx, tx, p.LicenseKey, fn)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, insert,
			p.ID, p.LicenseKey, p.Amount, p.Currency, string(p.Status), string(p.Method),
			p.TransactionID, p.PeriodStart, p.PeriodEnd, p.PaidAt, p.Notes, p.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) ListPayments(ctx context.Context, licenseKey string, from, to time.Time) ([]poslicense.Payment, error) {
	var (
		conds = []string{"license_key = $1"}
		args  = []any{licenseKey}
	)
	if !from.IsZero() {
		args = append(args, from)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !to.IsZero() {
		args = append(args, to)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	query := fmt.Sprintf(`
		SELECT id, license_key, amount, currency, status, method, transaction_id,
			period_start, period_end, paid_at, notes, created_at
		FROM %s WHERE %s ORDER BY created_at
	`, s.paymentsTable, strings.Join(conds, " AND "))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []poslicense.Payment
	for rows.Next() {
		var (
			p              poslicense.Payment
			status, method string
		)
		if err := rows.Scan(&p.ID, &p.LicenseKey, &p.Amount, &p.Currency, &status, &method,
			&p.TransactionID, &p.PeriodStart, &p.PeriodEnd, &p.PaidAt, &p.Notes, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.Status = poslicense.PaymentStatus(status)
		p.Method = poslicense.PaymentMethod(method)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SumPaidPayments(ctx context.Context, licenseKey string) (poslicense.PaymentSummary, error) {
	query := fmt.Sprintf(`
		SELECT COALESCE(SUM(amount), 0), COUNT(*)
		FROM %s WHERE license_key = $1 AND status = $2
	`, s.paymentsTable)
	var (
		total decimal.Decimal
		count int
	)
	err := s.pool.QueryRow(ctx, query, licenseKey, string(poslicense.PaymentPaid)).Scan(&total, &count)
	if err != nil {
		return poslicense.PaymentSummary{}, fmt.Errorf("sum payments: %w", err)
	}
	return poslicense.PaymentSummary{TotalAmount: total, Count: count}, nil
}

func (s *PostgresStore) Close(_ context.Context) error {
	return nil // user manages the pgxpool.Pool lifecycle
}

func placeholders(n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(ps, ", ")
}
