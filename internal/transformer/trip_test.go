package transformer

import (
	"errors"
	"math"
	"testing"
	"time"
)

func rowOf(values map[int]string) *Row {
	r := GetRow(len(Columns))
	for i, v := range values {
		r.V[i] = v
	}
	return r
}

func validRow() map[int]string {
	return map[int]string{
		ColArrival:       "15/08/2024",
		ColDeparture:     "1/8/2024",
		ColFee:           "1200,50",
		ColContainers:    "30",
		ColWeight:        "15000.5",
		ColCapacity:      "2000",
		ColVesselName:    "Ever Given",
		ColVesselType:    "Porta-contentores",
		ColDriverName:    "Ana Sousa",
		ColDriverAge:     "41",
		ColCertification: "STCW",
		ColCountry:       "Portugal",
		ColCity:          "Lisboa",
		ColTripID:        "T-17",
	}
}

func TestParseTrip(t *testing.T) {
	row := rowOf(validRow())
	defer row.Free()

	trip, err := ParseTrip(row, 0.85)
	if err != nil {
		t.Fatalf("ParseTrip: %v", err)
	}

	if !trip.Arrival.Equal(time.Date(2024, 8, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("arrival = %v", trip.Arrival)
	}
	if trip.DurationDays != 14 {
		t.Fatalf("duration = %d, want 14", trip.DurationDays)
	}
	if math.Abs(trip.Fee-1020.425) > 1e-9 {
		t.Fatalf("fee = %v, want 1020.425", trip.Fee)
	}
	if trip.Containers != 30 || trip.Capacity != 2000 || trip.DriverAge != 41 {
		t.Fatalf("ints = %d/%d/%d", trip.Containers, trip.Capacity, trip.DriverAge)
	}
	if trip.Weight != 15000.5 {
		t.Fatalf("weight = %v", trip.Weight)
	}
	if trip.City != "Lisboa" || trip.Country != "Portugal" || trip.VesselType != "Porta-contentores" {
		t.Fatalf("text fields = %+v", trip)
	}
	if got := RowID(row); got != "T-17" {
		t.Fatalf("RowID = %q", got)
	}
}

func TestParseTrip_NegativeDuration(t *testing.T) {
	v := validRow()
	v[ColArrival], v[ColDeparture] = "01/08/2024", "11/08/2024"

	trip, err := ParseTrip(rowOf(v), 1)
	if err != nil {
		t.Fatalf("ParseTrip: %v", err)
	}
	if trip.DurationDays != -10 {
		t.Fatalf("duration = %d, want -10", trip.DurationDays)
	}
}

func TestParseTrip_DurationAcrossCenturies(t *testing.T) {
	tests := []struct {
		name      string
		arrival   string
		departure string
		want      int
	}{
		{name: "leap day", arrival: "1/3/2024", departure: "28/2/2024", want: 2},
		{name: "far apart", arrival: "01/01/2500", departure: "01/01/0100", want: 876582},
		{name: "far apart reversed", arrival: "01/01/0100", departure: "01/01/2500", want: -876582},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := validRow()
			values[ColArrival] = tt.arrival
			values[ColDeparture] = tt.departure
			row := rowOf(values)
			defer row.Free()

			trip, err := ParseTrip(row, 0.85)
			if err != nil {
				t.Fatalf("ParseTrip: %v", err)
			}
			if trip.DurationDays != tt.want {
				t.Fatalf("duration = %d, want %d", trip.DurationDays, tt.want)
			}
		})
	}
}

func TestParseTrip_ConversionErrors(t *testing.T) {
	tests := []struct {
		name  string
		col   int
		value *string
		field string
	}{
		{name: "bad fee", col: ColFee, value: strPtr("doze"), field: "taxa"},
		{name: "fee with thousands dot", col: ColFee, value: strPtr("1.200,50"), field: "taxa"},
		{name: "bad date", col: ColArrival, value: strPtr("2024-08-15"), field: "datachegada"},
		{name: "float container count", col: ColContainers, value: strPtr("3.5"), field: "numerocontentares"},
		{name: "weight with decimal comma", col: ColWeight, value: strPtr("10,5"), field: "peso"},
		{name: "empty age", col: ColDriverAge, value: strPtr(""), field: "idadecondutor"},
		{name: "missing city column", col: ColCity, value: nil, field: "cidade_origem"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := rowOf(validRow())
			if tt.value == nil {
				row.V[tt.col] = nil
			} else {
				row.V[tt.col] = *tt.value
			}

			_, err := ParseTrip(row, 0.85)
			var ce *ConversionError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *ConversionError, got %v", err)
			}
			if ce.Field != tt.field {
				t.Fatalf("field = %q, want %q", ce.Field, tt.field)
			}
			if tt.value == nil && !errors.Is(err, ErrMissingField) {
				t.Fatalf("expected ErrMissingField, got %v", err)
			}
		})
	}
}

func TestParseTrip_EmptyTextIsAllowed(t *testing.T) {
	v := validRow()
	v[ColCertification] = ""
	if _, err := ParseTrip(rowOf(v), 1); err != nil {
		t.Fatalf("ParseTrip: %v", err)
	}
}

func TestRowID_Fallback(t *testing.T) {
	v := validRow()
	delete(v, ColTripID)
	if got := RowID(rowOf(v)); got != "N/A" {
		t.Fatalf("RowID = %q, want N/A", got)
	}
}

func TestGetRow_ClearsPooledValues(t *testing.T) {
	r := GetRow(3)
	r.V[0], r.Line = "x", 9
	r.Free()

	r = GetRow(2)
	if len(r.V) != 2 || r.V[0] != nil || r.Line != 0 {
		t.Fatalf("pooled row not reset: %+v", r)
	}
}

func strPtr(s string) *string { return &s }
