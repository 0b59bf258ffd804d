package poslicense

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a License.
type Status string

const (
	StatusActive         Status = "active"
	StatusSuspended      Status = "suspended"
	StatusExpired        Status = "expired"
	StatusPendingPayment Status = "pending_payment"
)

// LicenseType selects the default renewal period of a License.
type LicenseType string

const (
	TypeTrial     LicenseType = "trial"
	TypeMonthly   LicenseType = "monthly"
	TypeQuarterly LicenseType = "quarterly"
	TypeBiannual  LicenseType = "biannual"
	TypeAnnual    LicenseType = "annual"
	TypePerpetual LicenseType = "perpetual"
)

// PaymentStatus is the settlement state of a Payment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// PaymentMethod records how a Payment was made.
type PaymentMethod string

const (
	MethodCard     PaymentMethod = "card"
	MethodCash     PaymentMethod = "cash"
	MethodTransfer PaymentMethod = "transfer"
	MethodPayPal   PaymentMethod = "paypal"
	MethodStripe   PaymentMethod = "stripe"
	MethodOther    PaymentMethod = "other"
)

// SignatureAlgorithm is the tag attached to signed validation responses.
const SignatureAlgorithm = "HMAC-SHA256"

// License is the license record of one point-of-sale installation.
type License struct {
	LicenseKey           string      `json:"licenseKey" bson:"license_key"`
	ProductID            string      `json:"productId" bson:"product_id"`
	ClientID             string      `json:"clientId" bson:"client_id"`
	RestaurantName       string      `json:"restaurantName" bson:"restaurant_name"`
	Email                string      `json:"email" bson:"email"`
	Phone                string      `json:"phone" bson:"phone"`
	Address              string      `json:"address" bson:"address"`
	AuthorizedDomainOrIP string      `json:"authorizedDomainOrIP" bson:"authorized_domain_or_ip"`
	LicenseType          LicenseType `json:"licenseType" bson:"license_type"`
	StartDate            time.Time   `json:"startDate" bson:"start_date"`
	ExpirationDate       time.Time   `json:"expirationDate" bson:"expiration_date"`
	Status               Status      `json:"status" bson:"status"`
	MaxDevices           int         `json:"maxDevices" bson:"max_devices"`
	HardwareID           string      `json:"hardwareId,omitempty" bson:"hardware_id"`
	AllowedRoles         []string    `json:"allowedRoles" bson:"allowed_roles"`
	AllowedRolesUnpaid   []string    `json:"allowedRolesUnpaid" bson:"allowed_roles_unpaid"`
	LastValidation       *time.Time  `json:"lastValidation,omitempty" bson:"last_validation,omitempty"`
	ValidationCount      int64       `json:"validationCount" bson:"validation_count"`
	CreatedAt            time.Time   `json:"createdAt" bson:"created_at"`
	UpdatedAt            time.Time   `json:"updatedAt" bson:"updated_at"`

	// Revision is bumped by stores on every write.
	Revision int64 `json:"-" bson:"revision"`
}

// Clone returns a deep copy of l.
func (l *License) Clone() *License {
	c := *l
	c.AllowedRoles = append([]string(nil), l.AllowedRoles...)
	c.AllowedRolesUnpaid = append([]string(nil), l.AllowedRolesUnpaid...)
	if l.LastValidation != nil {
		t := *l.LastValidation
		c.LastValidation = &t
	}
	return &c
}

// Payment is an append-only ledger entry against one License.
type Payment struct {
	ID            string          `json:"id"`
	LicenseKey    string          `json:"licenseKey"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        PaymentStatus   `json:"status"`
	Method        PaymentMethod   `json:"method"`
	TransactionID string          `json:"transactionId,omitempty"`
	PeriodStart   *time.Time      `json:"periodStart,omitempty"`
	PeriodEnd     *time.Time      `json:"periodEnd,omitempty"`
	PaidAt        *time.Time      `json:"paidAt,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// PaymentSummary aggregates the paid payments of a License.
type PaymentSummary struct {
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Count       int             `json:"count"`
}

// CreateRequest holds the administrator input for Engine.Create.
type CreateRequest struct {
	ProductID            string      `json:"productId"`
	ClientID             string      `json:"clientId"`
	RestaurantName       string      `json:"restaurantName"`
	Email                string      `json:"email"`
	Phone                string      `json:"phone"`
	Address              string      `json:"address"`
	AuthorizedDomainOrIP string      `json:"authorizedDomainOrIP"`
	LicenseType          LicenseType `json:"licenseType"`
	DurationDays         int         `json:"durationDays,omitempty"`
	MaxDevices           int         `json:"maxDevices"`
	HardwareID           string      `json:"hardwareId,omitempty"`
	AllowedRoles         []string    `json:"allowedRoles,omitempty"`
	AllowedRolesUnpaid   []string    `json:"allowedRolesUnpaid,omitempty"`
}

// ValidateRequest is sent by an installation to check its license.
type ValidateRequest struct {
	LicenseKey string `json:"licenseKey"`
	RequestIP  string `json:"requestIp,omitempty"`
	HardwareID string `json:"hardwareId"`
}

// ValidateResponse is the outcome of Engine.Validate. Domain rejections are
// reported with Valid=false and a Reason; they are never returned as errors.
type ValidateResponse struct {
	Valid   bool              `json:"valid"`
	Message string            `json:"message,omitempty"`
	Warning string            `json:"warning,omitempty"`
	License *ValidatedLicense `json:"license,omitempty"`

	// Reason is the sentinel error behind a rejection.
	Reason error `json:"-"`
}

// ValidatedLicense is the signed, role-scoped payload returned to an
// installation after a successful validation.
type ValidatedLicense struct {
	LicenseKey         string      `json:"licenseKey"`
	ProductID          string      `json:"productId"`
	RestaurantName     string      `json:"restaurantName"`
	ExpirationDate     time.Time   `json:"expirationDate"`
	LicenseType        LicenseType `json:"licenseType"`
	Status             Status      `json:"status"`
	MaxDevices         int         `json:"maxDevices"`
	AllowedRoles       []string    `json:"allowedRoles"`
	MaxOfflineHours    int         `json:"maxOfflineHours"`
	Signature          string      `json:"signature"`
	SignatureAlgorithm string      `json:"signatureAlgorithm"`
}

// RenewRequest holds the optional overrides for Engine.Renew.
type RenewRequest struct {
	DurationDays   int         `json:"durationDays,omitempty"`
	NewLicenseType LicenseType `json:"newLicenseType,omitempty"`
}

// UpdateFields lists the fields an administrator may change. Nil fields are
// left untouched; fields outside this struct cannot be updated.
type UpdateFields struct {
	RestaurantName       *string      `json:"restaurantName,omitempty"`
	ClientID             *string      `json:"clientId,omitempty"`
	Email                *string      `json:"email,omitempty"`
	Phone                *string      `json:"phone,omitempty"`
	Address              *string      `json:"address,omitempty"`
	MaxDevices           *int         `json:"maxDevices,omitempty"`
	AuthorizedDomainOrIP *string      `json:"authorizedDomainOrIP,omitempty"`
	StartDate            *time.Time   `json:"startDate,omitempty"`
	ExpirationDate       *time.Time   `json:"expirationDate,omitempty"`
	LicenseType          *LicenseType `json:"licenseType,omitempty"`
	AllowedRoles         []string     `json:"allowedRoles,omitempty"`
	AllowedRolesUnpaid   []string     `json:"allowedRolesUnpaid,omitempty"`
}

// PaymentRequest holds the input for Ledger.CreatePayment.
type PaymentRequest struct {
	LicenseKey    string          `json:"licenseKey"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        PaymentStatus   `json:"status"`
	Method        PaymentMethod   `json:"method"`
	TransactionID string          `json:"transactionId,omitempty"`
	PeriodStart   *time.Time      `json:"periodStart,omitempty"`
	PeriodEnd     *time.Time      `json:"periodEnd,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}
