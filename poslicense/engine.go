package poslicense

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
)

const (
	defaultProductID = "LunIA_POS"
	maxKeyAttempts   = 3
)

// Engine owns the license state machine: creation, validation, renewal,
// suspension, deletion and field updates. It keeps no state between calls;
// every durable change goes through the Store.
type Engine struct {
	cfg    Config
	store  Store
	codec  *KeyCodec
	signer *Signer

	now           func() time.Time
	logger        *slog.Logger
	meterProvider metric.MeterProvider
	metrics       *instruments
}

// NewEngine creates an Engine backed by store. The configuration secret
// keys both the Key Codec and the Signer.
func NewEngine(cfg Config, store Store, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	e := &Engine{
		cfg:    cfg,
		store:  store,
		codec:  NewKeyCodec(cfg.Secret),
		signer: NewSigner(cfg.Secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default().With("component", "license")
	}
	m, err := newInstruments(e.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("create instruments: %w", err)
	}
	e.metrics = m
	return e, nil
}

// KeyCodec returns the codec used to issue keys.
func (e *Engine) KeyCodec() *KeyCodec {
	return e.codec
}

// Create issues a new license. A hardware id may be pre-bound, but not one
// that an active license already holds.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*License, error) {
	licenseType := req.LicenseType
	if licenseType == "" {
		licenseType = TypeTrial
	}
	if !licenseType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLicenseType, licenseType)
	}
	now := e.now()
	expiration, err := Advance(now, licenseType, req.DurationDays)
	if err != nil {
		return nil, err
	}

	hardwareID := strings.TrimSpace(req.HardwareID)
	if hardwareID != "" {
		holders, err := e.store.ListByHardwareID(ctx, hardwareID)
		if err != nil {
			return nil, storeError("list by hardware id", err)
		}
		for _, h := range holders {
			if EffectiveStatus(h.Status, h.ExpirationDate, now) == StatusActive {
				e.logger.Warn("hardware id already bound",
					"license_key", maskKey(h.LicenseKey))
				return nil, ErrHardwareInUse
			}
		}
	}

	l := &License{
		ProductID:            orDefault(strings.TrimSpace(req.ProductID), defaultProductID),
		ClientID:             strings.TrimSpace(req.ClientID),
		RestaurantName:       strings.TrimSpace(req.RestaurantName),
		Email:                normalizeEmail(req.Email),
		Phone:                strings.TrimSpace(req.Phone),
		Address:              strings.TrimSpace(req.Address),
		AuthorizedDomainOrIP: orDefault(strings.TrimSpace(req.AuthorizedDomainOrIP), "*"),
		LicenseType:          licenseType,
		StartDate:            now,
		ExpirationDate:       expiration,
		Status:               StatusActive,
		MaxDevices:           req.MaxDevices,
		HardwareID:           hardwareID,
		AllowedRoles:         SanitizeRoles(req.AllowedRoles),
		AllowedRolesUnpaid:   SanitizeRoles(req.AllowedRolesUnpaid),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if l.MaxDevices <= 0 {
		l.MaxDevices = 1
	}

	for attempt := 1; ; attempt++ {
		key, err := e.codec.Generate(e.cfg.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("generate license key: %w", err)
		}
		l.LicenseKey = key
		err = e.store.InsertLicense(ctx, l)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateKey) || attempt == maxKeyAttempts {
			return nil, storeError("insert license", err)
		}
	}

	e.metrics.created.Add(ctx, 1)
	e.logger.Info("license created",
		"license_key", maskKey(l.LicenseKey),
		"license_type", l.LicenseType,
		"expires_at", l.ExpirationDate)
	return l, nil
}

// Get returns a license with lazy expiry applied.
func (e *Engine) Get(ctx context.Context, key string) (*License, error) {
	l, err := e.store.GetLicense(ctx, key)
	if err != nil {
		return nil, e.licenseError("get license", err)
	}
	return e.refresh(ctx, l, e.now())
}

// List returns every license, oldest first, with lazy expiry applied.
func (e *Engine) List(ctx context.Context) ([]License, error) {
	all, err := e.store.ListLicenses(ctx)
	if err != nil {
		e.logger.Error("store failure", "op", "list licenses", "error", err)
		return nil, storeError("list licenses", err)
	}
	now := e.now()
	out := all[:0]
	for i := range all {
		l, err := e.refresh(ctx, &all[i], now)
		if errors.Is(err, ErrLicenseNotFound) {
			continue // deleted while listing
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, nil
}

// refresh persists the lazy expiry transition if it is due.
func (e *Engine) refresh(ctx context.Context, l *License, now time.Time) (*License, error) {
	if EffectiveStatus(l.Status, l.ExpirationDate, now) == l.Status {
		return l, nil
	}
	updated, err := e.store.UpdateLicense(ctx, l.LicenseKey, func(f *License) error {
		if s := EffectiveStatus(f.Status, f.ExpirationDate, now); s != f.Status {
			f.Status = s
			f.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, e.licenseError("expire license", err)
	}
	e.logger.Info("license expired", "license_key", maskKey(l.LicenseKey))
	return updated, nil
}

// Validate checks a license on behalf of an installation. Rejections are
// reported in the response; the error is reserved for store failures.
func (e *Engine) Validate(ctx context.Context, req ValidateRequest) (*ValidateResponse, error) {
	now := e.now()
	key := strings.TrimSpace(req.LicenseKey)
	hardwareID := strings.TrimSpace(req.HardwareID)

	l, err := e.store.GetLicense(ctx, key)
	if errors.Is(err, ErrRecordNotFound) {
		return e.reject(ctx, key, ErrLicenseNotFound, ""), nil
	}
	if err != nil {
		return e.validationFailure(ctx, key, storeError("get license", err))
	}
	if l.Status == StatusSuspended {
		return e.reject(ctx, key, ErrLicenseSuspended, ""), nil
	}

	warning := expiryWarning(l.ExpirationDate, now, e.cfg.ExpiryWarningDays)

	if hardwareID == "" {
		return e.reject(ctx, key, ErrHardwareIDRequired, warning), nil
	}

	if l, err = e.refresh(ctx, l, now); err != nil {
		if IsRejection(err) {
			return e.reject(ctx, key, err, warning), nil
		}
		return e.validationFailure(ctx, key, err)
	}

	if e.cfg.EnforceDomainIP && !originAllowed(l.AuthorizedDomainOrIP, req.RequestIP) {
		e.logger.Warn("origin not authorized",
			"license_key", maskKey(key),
			"request_ip", req.RequestIP)
		return e.reject(ctx, key, ErrOriginNotAuthorized, warning), nil
	}

	bound := false
	updated, err := e.store.UpdateLicense(ctx, key, func(f *License) error {
		if f.Status == StatusSuspended {
			return ErrLicenseSuspended
		}
		switch f.HardwareID {
		case "":
			f.HardwareID = hardwareID
			bound = true
		case hardwareID:
		default:
			return ErrHardwareMismatch
		}
		f.Status = EffectiveStatus(f.Status, f.ExpirationDate, now)
		f.ValidationCount++
		stamp := now
		f.LastValidation = &stamp
		f.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return e.reject(ctx, key, ErrLicenseNotFound, ""), nil
		}
		if IsRejection(err) {
			return e.reject(ctx, key, err, warning), nil
		}
		return e.validationFailure(ctx, key, storeError("record validation", err))
	}
	if bound {
		e.logger.Info("hardware id bound", "license_key", maskKey(key))
	}

	roles := EffectiveRoles(updated.Status, updated.ExpirationDate, now,
		updated.AllowedRoles, updated.AllowedRolesUnpaid)

	e.metrics.recordValidation(ctx, "valid")
	return &ValidateResponse{
		Valid:   true,
		Message: warning,
		Warning: warning,
		License: &ValidatedLicense{
			LicenseKey:         updated.LicenseKey,
			ProductID:          updated.ProductID,
			RestaurantName:     updated.RestaurantName,
			ExpirationDate:     updated.ExpirationDate,
			LicenseType:        updated.LicenseType,
			Status:             updated.Status,
			MaxDevices:         updated.MaxDevices,
			AllowedRoles:       roles,
			MaxOfflineHours:    e.cfg.MaxOfflineHours,
			Signature:          e.signer.Sign(updated.LicenseKey, updated.ExpirationDate, e.cfg.MaxOfflineHours),
			SignatureAlgorithm: SignatureAlgorithm,
		},
	}, nil
}

func (e *Engine) reject(ctx context.Context, key string, reason error, warning string) *ValidateResponse {
	e.metrics.recordValidation(ctx, ReasonCode(reason))
	e.logger.Warn("license validation rejected",
		"license_key", maskKey(key),
		"reason", reason)
	return &ValidateResponse{
		Valid:   false,
		Message: reasonMessage(reason),
		Warning: warning,
		Reason:  reason,
	}
}

func (e *Engine) validationFailure(ctx context.Context, key string, err error) (*ValidateResponse, error) {
	e.metrics.recordValidation(ctx, "error")
	e.logger.Error("license validation failed",
		"license_key", maskKey(key),
		"error", err)
	return nil, fmt.Errorf("validate license: %w", err)
}

// Renew extends a license and reactivates it, whatever its state. An
// unexpired license is extended from its current expiration, so renewal
// never shortens remaining time; an expired one is extended from now.
func (e *Engine) Renew(ctx context.Context, key string, req RenewRequest) (*License, error) {
	if req.NewLicenseType != "" && !req.NewLicenseType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLicenseType, req.NewLicenseType)
	}
	if req.DurationDays < 0 {
		return nil, fmt.Errorf("%w: %d days", ErrInvalidDuration, req.DurationDays)
	}
	now := e.now()
	updated, err := e.store.UpdateLicense(ctx, key, func(f *License) error {
		return renew(f, req.NewLicenseType, req.DurationDays, now)
	})
	if err != nil {
		return nil, e.licenseError("renew license", err)
	}
	e.metrics.renewals.Add(ctx, 1)
	e.logger.Info("license renewed",
		"license_key", maskKey(key),
		"license_type", updated.LicenseType,
		"expires_at", updated.ExpirationDate)
	return updated, nil
}

func renew(f *License, newType LicenseType, durationDays int, now time.Time) error {
	if newType != "" {
		f.LicenseType = newType
	}
	base := f.ExpirationDate
	if now.After(base) {
		base = now
	}
	expiration, err := Advance(base, f.LicenseType, durationDays)
	if err != nil {
		return err
	}
	f.ExpirationDate = expiration
	f.Status = StatusActive
	f.UpdatedAt = now
	return nil
}

// Deactivate suspends a license. Suspending twice is a no-op.
func (e *Engine) Deactivate(ctx context.Context, key string) (*License, error) {
	now := e.now()
	updated, err := e.store.UpdateLicense(ctx, key, func(f *License) error {
		if f.Status != StatusSuspended {
			f.Status = StatusSuspended
			f.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, e.licenseError("deactivate license", err)
	}
	e.logger.Info("license suspended", "license_key", maskKey(key))
	return updated, nil
}

// Delete permanently removes a license.
func (e *Engine) Delete(ctx context.Context, key string) error {
	if err := e.store.DeleteLicense(ctx, key); err != nil {
		return e.licenseError("delete license", err)
	}
	e.logger.Info("license deleted", "license_key", maskKey(key))
	return nil
}

// Update merges the whitelisted fields into a license. Moving the
// expiration of an expired license into the future reactivates it, and
// moving an active one into the past expires it.
func (e *Engine) Update(ctx context.Context, key string, fields UpdateFields) (*License, error) {
	if fields.LicenseType != nil && !fields.LicenseType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLicenseType, *fields.LicenseType)
	}
	now := e.now()
	updated, err := e.store.UpdateLicense(ctx, key, func(f *License) error {
		fields.apply(f, now)
		f.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, e.licenseError("update license", err)
	}
	e.logger.Info("license updated", "license_key", maskKey(key))
	return updated, nil
}

func (u UpdateFields) apply(f *License, now time.Time) {
	setString(&f.RestaurantName, u.RestaurantName)
	setString(&f.ClientID, u.ClientID)
	setString(&f.Phone, u.Phone)
	setString(&f.Address, u.Address)
	setString(&f.AuthorizedDomainOrIP, u.AuthorizedDomainOrIP)
	if u.Email != nil {
		f.Email = normalizeEmail(*u.Email)
	}
	if u.MaxDevices != nil {
		f.MaxDevices = *u.MaxDevices
	}
	if u.StartDate != nil {
		f.StartDate = *u.StartDate
	}
	if u.ExpirationDate != nil {
		f.ExpirationDate = *u.ExpirationDate
		if f.Status == StatusExpired && !now.After(f.ExpirationDate) {
			f.Status = StatusActive
		}
		f.Status = EffectiveStatus(f.Status, f.ExpirationDate, now)
	}
	if u.LicenseType != nil {
		f.LicenseType = *u.LicenseType
	}
	if u.AllowedRoles != nil {
		f.AllowedRoles = SanitizeRoles(u.AllowedRoles)
	}
	if u.AllowedRolesUnpaid != nil {
		f.AllowedRolesUnpaid = SanitizeRoles(u.AllowedRolesUnpaid)
	}
}

// licenseError maps store errors for operations addressed by license key.
func (e *Engine) licenseError(op string, err error) error {
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return ErrLicenseNotFound
	case IsRejection(err):
		return err
	}
	e.logger.Error("store failure", "op", op, "error", err)
	return storeError(op, err)
}

// originAllowed reports whether requestIP may use a license restricted to
// authorized, a comma-separated list where "*" allows everything.
func originAllowed(authorized, requestIP string) bool {
	requestIP = strings.TrimSpace(requestIP)
	if requestIP == "" {
		return true
	}
	for _, a := range strings.Split(authorized, ",") {
		a = strings.TrimSpace(a)
		if a == "" || a == "*" || strings.EqualFold(a, requestIP) {
			return true
		}
	}
	return false
}

// maskKey keeps the first and last four characters of a license key.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}
