package poslicense

import (
	"errors"
	"fmt"
)

// Sentinel errors for license lifecycle rejections.
var (
	ErrLicenseNotFound     = errors.New("license not found")
	ErrLicenseSuspended    = errors.New("license suspended")
	ErrHardwareIDRequired  = errors.New("hardware id required")
	ErrHardwareMismatch    = errors.New("license bound to another device")
	ErrOriginNotAuthorized = errors.New("ip or domain not authorized")
	ErrHardwareInUse       = errors.New("hardware id already bound to an active license")
	ErrInvalidLicenseType  = errors.New("invalid license type")
	ErrInvalidDuration     = errors.New("invalid duration")
)

// Sentinel errors for payment ledger rejections.
var (
	ErrInvalidAmount        = errors.New("payment amount must be positive")
	ErrInvalidPaymentStatus = errors.New("invalid payment status")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInvalidPeriod        = errors.New("payment period start after end")
)

// Sentinel errors for offline verification on installations.
var (
	ErrSignatureInvalid     = errors.New("signature verification failed")
	ErrOfflineGraceExceeded = errors.New("offline grace period exceeded")
	ErrLicenseExpired       = errors.New("license expired")
	ErrNoCachedLicense      = errors.New("no cached license")
	ErrRoleNotPermitted     = errors.New("role not permitted by license")
)

// Sentinel errors returned by Store implementations.
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("duplicate license key")
	ErrUpdateConflict = errors.New("concurrent update conflict")
)

var rejections = []error{
	ErrLicenseNotFound,
	ErrLicenseSuspended,
	ErrHardwareIDRequired,
	ErrHardwareMismatch,
	ErrOriginNotAuthorized,
	ErrHardwareInUse,
	ErrInvalidLicenseType,
	ErrInvalidDuration,
	ErrInvalidAmount,
	ErrInvalidPaymentStatus,
	ErrInvalidPaymentMethod,
	ErrInvalidPeriod,
}

// IsRejection reports whether err is a domain rejection, i.e. something the
// caller has to fix in its input or in the license state. Infrastructure
// failures are never rejections.
func IsRejection(err error) bool {
	for _, r := range rejections {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}

// StoreError wraps a failure of the underlying license or payment store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// Reason codes travel on the wire so installations can map a rejection back
// to its sentinel.
var reasonCodes = map[error]string{
	ErrLicenseNotFound:     "NOT_FOUND",
	ErrLicenseSuspended:    "SUSPENDED",
	ErrHardwareIDRequired:  "HARDWARE_ID_REQUIRED",
	ErrHardwareMismatch:    "HARDWARE_MISMATCH",
	ErrOriginNotAuthorized: "ORIGIN_NOT_AUTHORIZED",
}

// Messages shown to POS operators.
var reasonMessages = map[error]string{
	ErrLicenseNotFound:     "Licencia no encontrada",
	ErrLicenseSuspended:    "Licencia suspendida",
	ErrHardwareIDRequired:  "Hardware ID requerido",
	ErrHardwareMismatch:    "Licencia en uso en otro dispositivo (Hardware ID mismatch)",
	ErrOriginNotAuthorized: "IP/Dominio no autorizado",
}

// ReasonCode returns the wire code for a validation rejection, or "" if err
// is not one.
func ReasonCode(err error) string {
	for sentinel, code := range reasonCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ""
}

func reasonFromCode(code string) error {
	for sentinel, c := range reasonCodes {
		if c == code {
			return sentinel
		}
	}
	return nil
}

func reasonMessage(err error) string {
	for sentinel, msg := range reasonMessages {
		if errors.Is(err, sentinel) {
			return msg
		}
	}
	return err.Error()
}

// ServerError represents an error response from the license server.
type ServerError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: [%s] %s", e.StatusCode, e.Code, e.Message)
}

// mapServerError converts a ServerError to a well-known sentinel error if
// possible. The result wraps both so callers can use errors.Is() for the
// sentinel and errors.As() for the details.
func mapServerError(se *ServerError) error {
	sentinel := reasonFromCode(se.Code)
	if sentinel == nil {
		return se
	}
	return &mappedError{sentinel: sentinel, server: se}
}

// mappedError wraps a sentinel error with the original ServerError details.
type mappedError struct {
	sentinel error
	server   *ServerError
}

func (e *mappedError) Error() string {
	return e.sentinel.Error()
}

func (e *mappedError) Is(target error) bool {
	return target == e.sentinel
}

func (e *mappedError) As(target interface{}) bool {
	if t, ok := target.(**ServerError); ok {
		*t = e.server
		return true
	}
	return false
}

func (e *mappedError) Unwrap() error {
	return e.sentinel
}
