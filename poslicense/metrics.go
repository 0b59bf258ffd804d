package poslicense

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of the engine metrics.
const MeterName = "github.com/CloudNativeWorks/cnw-pos-license/poslicense"

// instruments holds the counters shared by Engine and Ledger.
type instruments struct {
	validations metric.Int64Counter
	created     metric.Int64Counter
	renewals    metric.Int64Counter
	payments    metric.Int64Counter
}

func newInstruments(mp metric.MeterProvider) (*instruments, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(MeterName)

	var (
		in  instruments
		err error
	)
	if in.validations, err = meter.Int64Counter("license.validations",
		metric.WithDescription("License validation attempts by result")); err != nil {
		return nil, err
	}
	if in.created, err = meter.Int64Counter("license.created",
		metric.WithDescription("Licenses issued")); err != nil {
		return nil, err
	}
	if in.renewals, err = meter.Int64Counter("license.renewals",
		metric.WithDescription("License renewals, including payment-driven ones")); err != nil {
		return nil, err
	}
	if in.payments, err = meter.Int64Counter("license.payments",
		metric.WithDescription("Recorded payments by status")); err != nil {
		return nil, err
	}
	return &in, nil
}

func (in *instruments) recordValidation(ctx context.Context, result string) {
	in.validations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (in *instruments) recordPayment(ctx context.Context, status PaymentStatus) {
	in.payments.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}
