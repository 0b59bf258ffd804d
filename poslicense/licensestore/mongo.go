package licensestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/CloudNativeWorks/cnw-pos-license/poslicense"
)

// MongoOption configures a MongoStore.
type MongoOption func(*MongoStore)

// WithLicenseCollection sets the license collection name. Default: "pos_licenses".
func WithLicenseCollection(name string) MongoOption {
	return func(s *MongoStore) {
		s.licensesName = name
	}
}

// WithPaymentCollection sets the payment collection name. Default: "pos_license_payments".
func WithPaymentCollection(name string) MongoOption {
	return func(s *MongoStore) {
		s.paymentsName = name
	}
}

// WithMaxUpdateAttempts bounds the optimistic retries of UpdateLicense. Default: 5.
func WithMaxUpdateAttempts(n int) MongoOption {
	return func(s *MongoStore) {
		s.maxAttempts = n
	}
}

// MongoStore implements poslicense.Store using MongoDB.
type MongoStore struct {
	client       *mongo.Client
	licenses     *mongo.Collection
	payments     *mongo.Collection
	licensesName string
	paymentsName string
	maxAttempts  int
}

// NewMongoStore creates a MongoDB-backed store.
// It creates the necessary indexes on initialization.
func NewMongoStore(ctx context.Context, db *mongo.Database, opts ...MongoOption) (*MongoStore, error) {
	s := &MongoStore{
		licensesName: defaultLicensesName,
		paymentsName: defaultPaymentsName,
		maxAttempts:  defaultMaxUpdateAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, name := range []string{s.licensesName, s.paymentsName} {
		if !validIdentifier.MatchString(name) {
			return nil, fmt.Errorf("invalid collection name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", name)
		}
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 1
	}
	s.client = db.Client()
	s.licenses = db.Collection(s.licensesName)
	s.payments = db.Collection(s.paymentsName)

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	licenseIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "license_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "hardware_id", Value: 1},
				{Key: "status", Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: "client_id", Value: 1},
				{Key: "status", Value: 1},
			},
		},
	}
	if _, err := s.licenses.Indexes().CreateMany(ctx, licenseIndexes); err != nil {
		return err
	}
	paymentIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "license_key", Value: 1},
				{Key: "created_at", Value: 1},
			},
		},
		{
			Keys: bson.D{{Key: "paid_at", Value: 1}},
		},
	}
	_, err := s.payments.Indexes().CreateMany(ctx, paymentIndexes)
	return err
}

func (s *MongoStore) InsertLicense(ctx context.Context, l *poslicense.License) error {
	l.Revision = 1
	if _, err := s.licenses.InsertOne(ctx, l); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return poslicense.ErrDuplicateKey
		}
		return fmt.Errorf("insert license: %w", err)
	}
	return nil
}

func (s *MongoStore) GetLicense(ctx context.Context, key string) (*poslicense.License, error) {
	var l poslicense.License
	err := s.licenses.FindOne(ctx, bson.M{"license_key": key}).Decode(&l)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, poslicense.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	return &l, nil
}

func (s *MongoStore) ListByHardwareID(ctx context.Context, hardwareID string) ([]poslicense.License, error) {
	cursor, err := s.licenses.Find(ctx, bson.M{
		"hardware_id": hardwareID,
		"status":      poslicense.StatusActive,
	})
	if err != nil {
		return nil, fmt.Errorf("list licenses by hardware id: %w", err)
	}
	var out []poslicense.License
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode licenses: %w", err)
	}
	return out, nil
}

// UpdateLicense reads the record, applies fn and replaces it only if no
// other writer bumped the revision in between; otherwise it retries on the
// fresh value.
func (s *MongoStore) UpdateLicense(ctx context.Context, key string, fn poslicense.MutateFunc) (*poslicense.License, error) {
	return retryStale(s.maxAttempts, func() (*poslicense.License, error) {
		return s.replaceLicense(ctx, key, fn)
	})
}

// replaceLicense makes one optimistic read-modify-write attempt. It returns
// errStaleRevision if another writer replaced the record first.
func (s *MongoStore) replaceLicense(ctx context.Context, key string, fn poslicense.MutateFunc) (*poslicense.License, error) {
	cur, err := s.GetLicense(ctx, key)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.LicenseKey = key
	next.Revision = cur.Revision + 1

	res, err := s.licenses.ReplaceOne(ctx,
		bson.M{"license_key": key, "revision": cur.Revision},
		next,
	)
	if err != nil {
		return nil, fmt.Errorf("update license: %w", err)
	}
	if res.MatchedCount == 0 {
		return nil, errStaleRevision
	}
	return next, nil
}

func (s *MongoStore) ListLicenses(ctx context.Context) ([]poslicense.License, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "license_key", Value: 1},
	})
	cursor, err := s.licenses.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	out := []poslicense.License{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode licenses: %w", err)
	}
	return out, nil
}

func (s *MongoStore) DeleteLicense(ctx context.Context, key string) error {
	res, err := s.licenses.DeleteOne(ctx, bson.M{"license_key": key})
	if err != nil {
		return fmt.Errorf("delete license: %w", err)
	}
	if res.DeletedCount == 0 {
		return poslicense.ErrRecordNotFound
	}
	return nil
}

// paymentDoc is the BSON form of a payment; amounts are Decimal128.
type paymentDoc struct {
	ID            string          `bson:"_id"`
	LicenseKey    string          `bson:"license_key"`
	Amount        bson.Decimal128 `bson:"amount"`
	Currency      string          `bson:"currency"`
	Status        string          `bson:"status"`
	Method        string          `bson:"method"`
	TransactionID string          `bson:"transaction_id,omitempty"`
	PeriodStart   *time.Time      `bson:"period_start,omitempty"`
	PeriodEnd     *time.Time      `bson:"period_end,omitempty"`
	PaidAt        *time.Time      `bson:"paid_at,omitempty"`
	Notes         string          `bson:"notes,omitempty"`
	CreatedAt     time.Time       `bson:"created_at"`
}

func toPaymentDoc(p *poslicense.Payment) (paymentDoc, error) {
	amount, err := toDecimal128(p.Amount)
	if err != nil {
		return paymentDoc{}, err
	}
	return paymentDoc{
		ID:            p.ID,
		LicenseKey:    p.LicenseKey,
		Amount:        amount,
		Currency:      p.Currency,
		Status:        string(p.Status),
		Method:        string(p.Method),
		TransactionID: p.TransactionID,
		PeriodStart:   p.PeriodStart,
		PeriodEnd:     p.PeriodEnd,
		PaidAt:        p.PaidAt,
		Notes:         p.Notes,
		CreatedAt:     p.CreatedAt,
	}, nil
}

func (d paymentDoc) toPayment() (poslicense.Payment, error) {
	amount, err := fromDecimal128(d.Amount)
	if err != nil {
		return poslicense.Payment{}, err
	}
	return poslicense.Payment{
		ID:            d.ID,
		LicenseKey:    d.LicenseKey,
		Amount:        amount,
		Currency:      d.Currency,
		Status:        poslicense.PaymentStatus(d.Status),
		Method:        poslicense.PaymentMethod(d.Method),
		TransactionID: d.TransactionID,
		PeriodStart:   d.PeriodStart,
		PeriodEnd:     d.PeriodEnd,
		PaidAt:        d.PaidAt,
		Notes:         d.Notes,
		CreatedAt:     d.CreatedAt,
	}, nil
}

func toDecimal128(d decimal.Decimal) (bson.Decimal128, error) {
	v, err := bson.ParseDecimal128(d.String())
	if err != nil {
		return bson.Decimal128{}, fmt.Errorf("convert amount %s: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v bson.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("convert amount %s: %w", v, err)
	}
	return d, nil
}

// RecordPayment inserts the payment and replaces the license inside one
// multi-document transaction, which needs a replica set or sharded cluster.
func (s *MongoStore) RecordPayment(ctx context.Context, p *poslicense.Payment, fn poslicense.MutateFunc) (*poslicense.License, error) {
	doc, err := toPaymentDoc(p)
	if err != nil {
		return nil, err
	}
	sess, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	return retryStale(s.maxAttempts, func() (*poslicense.License, error) {
		res, err := sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
			var l *poslicense.License
			var err error
			if fn == nil {
				l, err = s.GetLicense(ctx, p.LicenseKey)
			} else {
				l, err = s.replaceLicense(ctx, p.LicenseKey, fn)
			}
			if err != nil {
				return nil, err
			}
			if _, err := s.payments.InsertOne(ctx, doc); err != nil {
				return nil, fmt.Errorf("insert payment: %w", err)
			}
			return l, nil
		})
		if err != nil {
			return nil, err
		}
		return res.(*poslicense.License), nil
	})
}

func (s *MongoStore) ListPayments(ctx context.Context, licenseKey string, from, to time.Time) ([]poslicense.Payment, error) {
	filter := bson.M{"license_key": licenseKey}
	created := bson.M{}
	if !from.IsZero() {
		created["$gte"] = from
	}
	if !to.IsZero() {
		created["$lte"] = to
	}
	if len(created) > 0 {
		filter["created_at"] = created
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.payments.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	var docs []paymentDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode payments: %w", err)
	}
	out := make([]poslicense.Payment, 0, len(docs))
	for _, d := range docs {
		p, err := d.toPayment()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *MongoStore) SumPaidPayments(ctx context.Context, licenseKey string) (poslicense.PaymentSummary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "license_key", Value: licenseKey},
			{Key: "status", Value: string(poslicense.PaymentPaid)},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$amount"}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := s.payments.Aggregate(ctx, pipeline)
	if err != nil {
		return poslicense.PaymentSummary{}, fmt.Errorf("sum payments: %w", err)
	}
	var rows []struct {
		Total bson.Decimal128 `bson:"total"`
		Count int             `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return poslicense.PaymentSummary{}, fmt.Errorf("decode payment sum: %w", err)
	}
	sum := poslicense.PaymentSummary{TotalAmount: decimal.Zero}
	if len(rows) == 0 {
		return sum, nil
	}
	total, err := fromDecimal128(rows[0].Total)
	if err != nil {
		return poslicense.PaymentSummary{}, err
	}
	sum.TotalAmount = total
	sum.Count = rows[0].Count
	return sum, nil
}

func (s *MongoStore) Close(_ context.Context) error {
	return nil // user manages the mongo.Database lifecycle
}
