// Package poslicense issues, validates and manages time-bounded licenses
// for point-of-sale installations, and derives the operator roles an
// installation may use from the license's payment state.
//
// Install with:
//
//	go get github.com/CloudNativeWorks/cnw-pos-license/poslicense
//
// # Server side
//
// An Engine owns the license lifecycle (create, validate, renew, suspend,
// update, delete) on top of a Store; a Ledger records payments and extends
// or flags licenses accordingly:
//
//	cfg, _ := poslicense.LoadConfig() // LICENSE_SECRET, LICENSE_MAX_OFFLINE_HOURS, ...
//	engine, _ := poslicense.NewEngine(cfg, store)
//	lic, _ := engine.Create(ctx, poslicense.CreateRequest{
//	    RestaurantName: "Demo",
//	    LicenseType:    poslicense.TypeMonthly,
//	})
//	resp, _ := engine.Validate(ctx, poslicense.ValidateRequest{
//	    LicenseKey: lic.LicenseKey,
//	    HardwareID: "H1",
//	})
//
// Durable stores live in the licensestore subpackage (MongoDB, PostgreSQL).
//
// # Installation side
//
// A Client validates against the server, and a RoleGuard keeps the signed
// response so logins keep working offline for up to MaxOfflineHours:
//
//	client := poslicense.NewClient("https://license.example.com",
//	    poslicense.WithHardwareIDFile("/var/lib/pos/hardware-id"))
//	guard := poslicense.NewRoleGuard(poslicense.NewOfflineVerifier(secret))
//	resp, err := client.Validate(ctx, licenseKey)
//	if err == nil && resp.Valid {
//	    _ = guard.Merge(*resp.License)
//	}
//	if err := guard.Allow("Cashier"); err != nil {
//	    // deny login
//	}
package poslicense
