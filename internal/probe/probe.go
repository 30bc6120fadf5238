// Package probe inspects a trips input file without touching any database.
//
// It reports header problems, rows that would be skipped and why, duplicate
// trips, and how many distinct natural keys each dimension would see. The
// distinct counts are an upper bound on the dimension rows a load creates.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	csvparse "tripetl/internal/parser/csv"
	"tripetl/internal/transformer"
	"tripetl/internal/warehouse"
)

// distinctCap bounds the memory spent on one dimension's key set.
const distinctCap = 100000

// Options controls a probe run.
type Options struct {
	CSV     csvparse.Options
	FeeRate float64

	// MaxRows stops after that many records. 0 reads all.
	MaxRows int

	// MaxExamples bounds Report.Examples. Defaults to 5.
	MaxExamples int
}

// Example is one row that a load would skip.
type Example struct {
	Line  int
	RowID string
	Err   string
}

// Uniqueness is the number of distinct natural keys seen for a dimension.
type Uniqueness struct {
	Dimension string
	Distinct  int
	Capped    bool
}

// Report is the result of Run.
type Report struct {
	Missing []string

	Rows       int
	Valid      int
	Malformed  int
	Invalid    int
	Duplicates int

	// FieldErrors counts conversion failures by input column.
	FieldErrors map[string]int
	Examples    []Example

	// Durations counts valid rows per duration class.
	Durations         map[string]int
	NegativeDurations int

	// FirstArrival and LastArrival span the valid rows.
	FirstArrival time.Time
	LastArrival  time.Time

	Distinct []Uniqueness
}

type keySet struct {
	name   string
	seen   map[string]struct{}
	capped bool
}

func (k *keySet) add(parts ...string) {
	if k.capped {
		return
	}
	k.seen[strings.Join(parts, "\x1f")] = struct{}{}
	if len(k.seen) >= distinctCap {
		k.capped = true
	}
}

// Run reads src to the end, or to opt.MaxRows records.
func Run(ctx context.Context, src io.Reader, opt Options) (*Report, error) {
	rd, err := csvparse.NewReader(src, transformer.Columns, opt.CSV)
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	maxExamples := opt.MaxExamples
	if maxExamples <= 0 {
		maxExamples = 5
	}

	rep := &Report{
		FieldErrors: make(map[string]int),
		Durations:   make(map[string]int),
	}
	for _, c := range rd.MissingColumns() {
		for _, req := range transformer.RequiredColumns {
			if c == req {
				rep.Missing = append(rep.Missing, c)
			}
		}
	}

	sets := []*keySet{
		{name: warehouse.DimTime.Name},
		{name: warehouse.DimLocation.Name},
		{name: warehouse.DimDriver.Name},
		{name: warehouse.DimTripType.Name},
		{name: warehouse.DimVessel.Name},
	}
	for _, s := range sets {
		s.seen = make(map[string]struct{})
	}
	timeKeys, locKeys, driverKeys, typeKeys, vesselKeys := sets[0], sets[1], sets[2], sets[3], sets[4]

	fingerprints := make(map[string]struct{})
	example := func(line int, rowID string, err error) {
		if len(rep.Examples) < maxExamples {
			rep.Examples = append(rep.Examples, Example{Line: line, RowID: rowID, Err: err.Error()})
		}
	}

	row := transformer.GetRow(len(transformer.Columns))
	defer row.Free()

	for opt.MaxRows <= 0 || rep.Rows < opt.MaxRows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := rd.Next(row)
		if errors.Is(err, io.EOF) {
			break
		}
		rep.Rows++

		var recErr *csvparse.RecordError
		if errors.As(err, &recErr) {
			rep.Malformed++
			example(recErr.Line, "N/A", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("probe: %w", err)
		}

		fp := transformer.Fingerprint(row)
		if _, dup := fingerprints[fp]; dup {
			rep.Duplicates++
		} else {
			fingerprints[fp] = struct{}{}
		}

		trip, err := transformer.ParseTrip(row, opt.FeeRate)
		if err != nil {
			rep.Invalid++
			var ce *transformer.ConversionError
			if errors.As(err, &ce) {
				rep.FieldErrors[ce.Field]++
			}
			example(row.Line, transformer.RowID(row), err)
			continue
		}

		rep.Valid++
		rep.Durations[warehouse.DurationBucket(trip.DurationDays)]++
		if trip.DurationDays < 0 {
			rep.NegativeDurations++
		}
		if rep.FirstArrival.IsZero() || trip.Arrival.Before(rep.FirstArrival) {
			rep.FirstArrival = trip.Arrival
		}
		if trip.Arrival.After(rep.LastArrival) {
			rep.LastArrival = trip.Arrival
		}

		timeKeys.add(trip.Arrival.Format("2006-01-02"))
		locKeys.add(trip.City, trip.Country)
		driverKeys.add(trip.DriverName, trip.Certificate)
		typeKeys.add(trip.VesselType)
		vesselKeys.add(trip.VesselName)
	}

	for _, s := range sets {
		rep.Distinct = append(rep.Distinct, Uniqueness{Dimension: s.name, Distinct: len(s.seen), Capped: s.capped})
	}
	return rep, nil
}

// Format renders the report as aligned text.
func (r *Report) Format() string {
	var b strings.Builder

	fmt.Fprintf(&b, "rows=%d valid=%d invalid=%d malformed=%d duplicates=%d\n",
		r.Rows, r.Valid, r.Invalid, r.Malformed, r.Duplicates)
	if len(r.Missing) > 0 {
		fmt.Fprintf(&b, "missing columns: %s\n", strings.Join(r.Missing, ", "))
	}
	if r.Valid > 0 {
		fmt.Fprintf(&b, "arrivals: %s .. %s\n",
			r.FirstArrival.Format("2006-01-02"), r.LastArrival.Format("2006-01-02"))
	}

	if len(r.FieldErrors) > 0 {
		fields := make([]string, 0, len(r.FieldErrors))
		for f := range r.FieldErrors {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		b.WriteString("conversion errors:\n")
		for _, f := range fields {
			fmt.Fprintf(&b, "  %-18s\t%d\n", f, r.FieldErrors[f])
		}
	}

	if r.Valid > 0 {
		b.WriteString("duration classes:\n")
		for _, c := range []string{"0-7", "8-15", "16-30", "31-60", "60+"} {
			fmt.Fprintf(&b, "  %-18s\t%d\n", c, r.Durations[c])
		}
		if r.NegativeDurations > 0 {
			fmt.Fprintf(&b, "  negative durations\t%d\n", r.NegativeDurations)
		}

		fmt.Fprintf(&b, "%-20s\t%-7s\tcapped\n", "dimension", "unique")
		for _, u := range r.Distinct {
			fmt.Fprintf(&b, "%-20s\t%-7d\t%t\n", u.Dimension, u.Distinct, u.Capped)
		}
	}

	if len(r.Examples) > 0 {
		b.WriteString("skipped rows:\n")
		for _, e := range r.Examples {
			fmt.Fprintf(&b, "  line %d (%s): %s\n", e.Line, e.RowID, e.Err)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
