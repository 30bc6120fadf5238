package warehouse

import (
	"context"
	"time"

	"tripetl/internal/storage"
)

// DurationBucket classifies a trip length in days. Upper bounds are
// inclusive; zero and negative durations fall in "0-7".
func DurationBucket(days int) string {
	switch {
	case days <= 7:
		return "0-7"
	case days <= 15:
		return "8-15"
	case days <= 30:
		return "16-30"
	case days <= 60:
		return "31-60"
	default:
		return "60+"
	}
}

// Driver is the natural data of a driver dimension row.
type Driver struct {
	Name          string
	Age           int
	Certification string
}

func keyOf(res Resolution, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.Key, nil
}

func fixed(cols []string, vals ...any) RowBuilder {
	return func(context.Context, int64) ([]string, []any, error) { return cols, vals, nil }
}

// Time resolves the calendar day of t.
func (r *Resolver) Time(ctx context.Context, q storage.Querier, t time.Time) (int64, error) {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	month := int(day.Month())
	half := 1
	if month > 6 {
		half = 2
	}
	quarter := (month-1)/3 + 1

	return keyOf(r.ResolveOrCreate(ctx, q, DimTime, []any{day},
		fixed([]string{"data_completa", "ano", "mes", "semestre", "trimestre"}, day, day.Year(), month, half, quarter)))
}

func (r *Resolver) Location(ctx context.Context, q storage.Querier, city, country string) (int64, error) {
	return keyOf(r.ResolveOrCreate(ctx, q, DimLocation, []any{city, country},
		fixed([]string{"cidade", "pais"}, city, country)))
}

// Driver resolves by (name, certification); age is only written on creation.
func (r *Resolver) Driver(ctx context.Context, q storage.Querier, d Driver) (int64, error) {
	return keyOf(r.ResolveOrCreate(ctx, q, DimDriver, []any{d.Name, d.Certification},
		fixed([]string{"nome", "idade", "certificacao"}, d.Name, d.Age, d.Certification)))
}

func (r *Resolver) TripType(ctx context.Context, q storage.Querier, kind string) (int64, error) {
	return keyOf(r.ResolveOrCreate(ctx, q, DimTripType, []any{kind},
		fixed([]string{"tipo"}, kind)))
}

// DurationClass resolves the bucket of a duration in days.
func (r *Resolver) DurationClass(ctx context.Context, q storage.Querier, days int) (int64, error) {
	bucket := DurationBucket(days)
	return keyOf(r.ResolveOrCreate(ctx, q, DimDurationClass, []any{bucket},
		fixed([]string{"duracao"}, bucket)))
}

// CompanyKey looks a company up by (name, country). Companies are loaded by
// another process and are never created here.
func (r *Resolver) CompanyKey(ctx context.Context, q storage.Querier, name, country string) (int64, bool, error) {
	return r.Lookup(ctx, q, DimCompany, []any{name, country})
}
