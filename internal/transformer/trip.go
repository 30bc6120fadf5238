package transformer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Input columns in canonical order. The header of the input file is matched
// against these names after normalization.
const (
	ColArrival = iota
	ColDeparture
	ColFee
	ColContainers
	ColWeight
	ColCapacity
	ColVesselName
	ColVesselType
	ColDriverName
	ColDriverAge
	ColCertification
	ColCountry
	ColCity
	ColTripID
)

// Columns lists the input header names indexed by the Col constants.
var Columns = []string{
	"datachegada",
	"datapartida",
	"taxa",
	"numerocontentares",
	"peso",
	"capacidadeteu",
	"nomebarco",
	"tipobarco",
	"nomecondutor",
	"idadecondutor",
	"certificacao",
	"pais_origem",
	"cidade_origem",
	"idviagem",
}

// RequiredColumns are the columns every trip needs. idviagem is only used
// to identify rows in logs.
var RequiredColumns = Columns[:ColTripID]

// DateLayout is day/month/year; single digit days and months are accepted.
const DateLayout = "2/1/2006"

// ErrMissingField is wrapped by a ConversionError when the input file has
// no column for a required field.
var ErrMissingField = errors.New("missing field")

// ConversionError reports a field that could not be converted.
type ConversionError struct {
	Field string
	Value string
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %s=%q: %v", e.Field, e.Value, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Trip is one converted input row.
type Trip struct {
	Arrival   time.Time
	Departure time.Time

	// DurationDays is Arrival minus Departure; negative when the dates are
	// swapped in the input.
	DurationDays int

	// Fee is the input fee multiplied by the configured conversion rate.
	Fee         float64
	Containers  int
	Weight      float64
	Capacity    int
	VesselName  string
	VesselType  string
	DriverName  string
	DriverAge   int
	Certificate string
	Country     string
	City        string
}

// RowID returns the idviagem value of row, or "N/A".
func RowID(row *Row) string {
	if s, ok := row.Text(ColTripID); ok && s != "" {
		return s
	}
	return "N/A"
}

type fieldReader struct {
	row *Row
	err error
}

func (f *fieldReader) text(col int) string {
	if f.err != nil {
		return ""
	}
	s, ok := f.row.Text(col)
	if !ok {
		f.err = &ConversionError{Field: Columns[col], Err: ErrMissingField}
	}
	return s
}

func (f *fieldReader) date(col int) time.Time {
	s := f.text(col)
	if f.err != nil {
		return time.Time{}
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		f.err = &ConversionError{Field: Columns[col], Value: s, Err: err}
	}
	return t
}

func (f *fieldReader) integer(col int) int {
	s := f.text(col)
	if f.err != nil {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f.err = &ConversionError{Field: Columns[col], Value: s, Err: err}
	}
	return n
}

func (f *fieldReader) decimal(col int, decimalComma bool) float64 {
	s := f.text(col)
	if f.err != nil {
		return 0
	}
	in := s
	if decimalComma {
		in = strings.ReplaceAll(s, ",", ".")
	}
	v, err := strconv.ParseFloat(in, 64)
	if err != nil {
		f.err = &ConversionError{Field: Columns[col], Value: s, Err: err}
	}
	return v
}

// ParseTrip converts row. The fee uses a decimal comma and is multiplied by
// feeRate. The first failing field is returned as *ConversionError.
func ParseTrip(row *Row, feeRate float64) (Trip, error) {
	f := fieldReader{row: row}

	t := Trip{
		Arrival:     f.date(ColArrival),
		Departure:   f.date(ColDeparture),
		Fee:         f.decimal(ColFee, true) * feeRate,
		Containers:  f.integer(ColContainers),
		Weight:      f.decimal(ColWeight, false),
		Capacity:    f.integer(ColCapacity),
		DriverName:  f.text(ColDriverName),
		DriverAge:   f.integer(ColDriverAge),
		Certificate: f.text(ColCertification),
		Country:     f.text(ColCountry),
		City:        f.text(ColCity),
		VesselName:  f.text(ColVesselName),
		VesselType:  f.text(ColVesselType),
	}
	if f.err != nil {
		return Trip{}, f.err
	}
	t.DurationDays = daysBetween(t.Departure, t.Arrival)
	return t, nil
}

// daysBetween counts whole days from a to b. Both are UTC midnights, so
// Unix seconds divide evenly; time.Duration would saturate past ~292 years.
func daysBetween(a, b time.Time) int {
	return int((b.Unix() - a.Unix()) / 86400)
}
