package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/CloudNativeWorks/cnw-pos-license/poslicense"
)

var errUsage = errors.New("usage error")

const usage = `usage: licensectl <command> [flags]

commands:
  create      issue a new license
  get         show a license
  list        show every license, oldest first
  validate    validate a license for a hardware id
  renew       extend and reactivate a license
  deactivate  suspend a license
  delete      remove a license
  update      change license fields
  pay         record a payment
  payments    list the payments of a license
  summary     total the paid payments of a license

Run "licensectl <command> -h" for the flags of a command.
`

// app runs one command against an engine and ledger and writes JSON to out.
type app struct {
	engine *poslicense.Engine
	ledger *poslicense.Ledger
	out    io.Writer
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "create":
		return a.create(ctx, rest)
	case "get":
		return a.get(ctx, rest)
	case "list":
		return a.list(ctx, rest)
	case "validate":
		return a.validate(ctx, rest)
	case "renew":
		return a.renew(ctx, rest)
	case "deactivate":
		return a.deactivate(ctx, rest)
	case "delete":
		return a.delete(ctx, rest)
	case "update":
		return a.update(ctx, rest)
	case "pay":
		return a.pay(ctx, rest)
	case "payments":
		return a.payments(ctx, rest)
	case "summary":
		return a.summary(ctx, rest)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	return nil
}

func requireKey(fs *flag.FlagSet, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: %s: -key is required", errUsage, fs.Name())
	}
	return nil
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// parseTime accepts a date (2006-01-02) or an RFC 3339 timestamp, in UTC.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", errUsage, s)
	}
	return t, nil
}

func parseOptionalTime(s string) (*time.Time, error) {
	t, err := parseTime(s)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}

func (a *app) create(ctx context.Context, args []string) error {
	fs := newFlagSet("create")
	var (
		req         poslicense.CreateRequest
		licenseType string
		roles       string
		rolesUnpaid string
	)
	fs.StringVar(&req.ProductID, "product", "", "product id")
	fs.StringVar(&req.ClientID, "client", "", "client id")
	fs.StringVar(&req.RestaurantName, "restaurant", "", "restaurant name")
	fs.StringVar(&req.Email, "email", "", "contact email")
	fs.StringVar(&req.Phone, "phone", "", "contact phone")
	fs.StringVar(&req.Address, "address", "", "address")
	fs.StringVar(&req.AuthorizedDomainOrIP, "domain", "", "authorized domains or IPs, comma separated")
	fs.StringVar(&licenseType, "type", string(poslicense.TypeTrial), "license type")
	fs.IntVar(&req.DurationDays, "days", 0, "duration in days (default: by type)")
	fs.IntVar(&req.MaxDevices, "max-devices", 1, "informational device limit")
	fs.StringVar(&req.HardwareID, "hardware", "", "pre-bound hardware id")
	fs.StringVar(&roles, "roles", "", "roles while paid, comma separated")
	fs.StringVar(&rolesUnpaid, "roles-unpaid", "", "roles while unpaid, comma separated")
	if err := parse(fs, args); err != nil {
		return err
	}
	req.LicenseType = poslicense.LicenseType(licenseType)
	req.AllowedRoles = splitList(roles)
	req.AllowedRolesUnpaid = splitList(rolesUnpaid)

	l, err := a.engine.Create(ctx, req)
	if err != nil {
		return err
	}
	return a.print(l)
}

func (a *app) get(ctx context.Context, args []string) error {
	fs := newFlagSet("get")
	key := fs.String("key", "", "license key")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireKey(fs, *key); err != nil {
		return err
	}
	l, err := a.engine.Get(ctx, *key)
	if err != nil {
		return err
	}
	return a.print(l)
}

func (a *app) list(ctx context.Context, args []string) error {
	fs := newFlagSet("list")
	status := fs.String("status", "", "only licenses with this status")
	if err := parse(fs, args); err != nil {
		return err
	}
	all, err := a.engine.List(ctx)
	if err != nil {
		return err
	}
	out := make([]poslicense.License, 0, len(all))
	for _, l := range all {
		if *status == "" || string(l.Status) == *status {
			out = append(out, l)
		}
	}
	return a.print(out)
}

func (a *app) validate(ctx context.Context, args []string) error {
	fs := newFlagSet("validate")
	var req poslicense.ValidateRequest
	fs.StringVar(&req.LicenseKey, "key", "", "license key")
	fs.StringVar(&req.HardwareID, "hardware", "", "hardware id")
	fs.StringVar(&req.RequestIP, "ip", "", "request IP or domain")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireKey(fs, req.LicenseKey); err != nil {
		return err
	}
	resp, err := a.engine.Validate(ctx, req)
	if err != nil {
		return err
	}
	_, env := poslicense.NewValidateEnvelope(resp)
	return a.print(env)
}

func (a *app) renew(ctx context.Context, args []string) error {
	fs := newFlagSet("renew")
	key := fs.String("key", "", "license key")
	days := fs.Int("days", 0, "duration in days (default: by type)")
	licenseType := fs.String("type", "", "new license type")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireKey(fs, *key); err != nil {
		return err
	}
	l, err := a.engine.Renew(ctx, *key, poslicense.RenewRequest{
		DurationDays:   *days,
		NewLicenseType: poslicense.LicenseType(*licenseType),
	})
	if err != nil {
		return err
	}
	return a.print(l)
}

func (a *app) deactivate(ctx context.Context, args []string) error {
	fs := newFlagSet("deactivate")
	key := fs.String("key", "", "license key")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireKey(fs, *key); err != nil {
		return err
	}
	l, err := a.engine.Deactivate(ctx, *key)
	if err != nil {
		return err
	}
	return a.print(l)
}

func (a *app) delete(ctx context.Context, args []string) error {
	fs := newFlagSet("delete")
	key := fs.String("key", "", "license key")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireKey(fs, *key); err != nil {
		return err
	}
	if err := a.engine.Delete(ctx, *key); err != nil {
		return err
	}
	return a.print(map[string]string{"deleted": *key})
}

func (a *app) update(ctx context.Context, args []string) error {
	fs := newFlagSet("update")
	key := fs.String("key", "", "license key")
	restaurant := fs.String("restaurant", "", "restaurant name")
	client := fs.String("client", "", "client id")
	email := fs.String("email", "", "contact email")
	phone := fs.String("phone", "", "contact phone")
	address := fs.String("address", "", "address")
	domain := fs.String("domain", "", "authorized domains or IPs, comma separated")
	maxDevices := fs.Int("max-devices", 0, "informational device limit")
	start := fs.String("start", "", "start date")
	expiration := fs.String("expires", "", "expiration date")
	licenseType := fs.String("type", "", "license type")
	roles := fs.String("roles", "", "roles while paid, comma separated")
	rolesUnpaid := fs.String("roles-unpaid", "", "roles while unpaid, comma separated")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireKey(fs, *key); err != nil {
		return err
	}

	// Only flags given on the command line are applied.
	var (
		fields poslicense.UpdateFields
		err    error
	)
	fs.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "restaurant":
			fields.RestaurantName = restaurant
		case "client":
			fields.ClientID = client
		case "email":
			fields.Email = email
		case "phone":
			fields.Phone = phone
		case "address":
			fields.Address = address
		case "domain":
			fields.AuthorizedDomainOrIP = domain
		case "max-devices":
			fields.MaxDevices = maxDevices
		case "start":
			fields.StartDate, err = parseOptionalTime(*start)
		case "expires":
			fields.ExpirationDate, err = parseOptionalTime(*expiration)
		case "type":
			t := poslicense.LicenseType(*licenseType)
			fields.LicenseType = &t
		case "roles":
			fields.AllowedRoles = append([]string{}, splitList(*roles)...)
		case "roles-unpaid":
			fields.AllowedRolesUnpaid = append([]string{}, splitList(*rolesUnpaid)...)
		}
	})
	if err != nil {
		return err
	}

	l, err := a.engine.Update(ctx, *key, fields)
	if err != nil {
		return err
	}
	return a.print(l)
}

func (a *app) pay(ctx context.Context, args []string) error {
	fs := newFlagSet("pay")
	key := fs.String("key", "", "license key")
	amount := fs.String("amount", "", "amount, e.g. 49.90")
	currency := fs.String("currency", "", "ISO currency (default USD)")
	status := fs.String("status", string(poslicense.PaymentPending), "pending, paid, failed or refunded")
	method := fs.String("method", string(poslicense.MethodOther), "card, cash, transfer, paypal, stripe or other")
	tx := fs.String("tx", "", "external transaction id")
	periodStart := fs.String("period-start", "", "covered period start")
	periodEnd := fs.String("period-end", "", "covered period end")
	notes := fs.String("notes", "", "free-form notes")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireKey(fs, *key); err != nil {
		return err
	}
	amt, err := decimal.NewFromString(*amount)
	if err != nil {
		return fmt.Errorf("%w: invalid amount %q", errUsage, *amount)
	}
	start, err := parseOptionalTime(*periodStart)
	if err != nil {
		return err
	}
	end, err := parseOptionalTime(*periodEnd)
	if err != nil {
		return err
	}

	p, err := a.ledger.CreatePayment(ctx, poslicense.PaymentRequest{
		LicenseKey:    *key,
		Amount:        amt,
		Currency:      *currency,
		Status:        poslicense.PaymentStatus(*status),
		Method:        poslicense.PaymentMethod(*method),
		TransactionID: *tx,
		PeriodStart:   start,
		PeriodEnd:     end,
		Notes:         *notes,
	})
	if err != nil {
		return err
	}
	return a.print(p)
}

func (a *app) payments(ctx context.Context, args []string) error {
	fs := newFlagSet("payments")
	key := fs.String("key", "", "license key")
	from := fs.String("from", "", "earliest creation date")
	to := fs.String("to", "", "latest creation date (a date covers the whole day)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireKey(fs, *key); err != nil {
		return err
	}
	start, err := parseTime(*from)
	if err != nil {
		return err
	}
	end, err := parseTime(*to)
	if err != nil {
		return err
	}
	list, err := a.ledger.ListPayments(ctx, *key, start, end)
	if err != nil {
		return err
	}
	if list == nil {
		list = []poslicense.Payment{}
	}
	return a.print(list)
}

func (a *app) summary(ctx context.Context, args []string) error {
	fs := newFlagSet("summary")
	key := fs.String("key", "", "license key")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireKey(fs, *key); err != nil {
		return err
	}
	sum, err := a.ledger.PaymentSummary(ctx, *key)
	if err != nil {
		return err
	}
	return a.print(sum)
}
