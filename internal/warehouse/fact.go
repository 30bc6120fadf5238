package warehouse

import (
	"context"
	"fmt"

	"tripetl/internal/storage"
)

// Fact is one row of the trips fact table.
type Fact struct {
	DurationDays int
	TotalFee     float64
	Containers   int
	TotalWeight  float64

	DurationClassKey int64
	LocationKey      int64
	TripTypeKey      int64
	DriverKey        int64
	VesselKey        int64
	TimeKey          int64

	// CompanyKey is only written when the writer has a company column.
	CompanyKey int64
}

// FactWriter inserts facts with max+1 keys.
type FactWriter struct {
	dialect       storage.Dialect
	companyColumn string
}

// NewFactWriter returns a writer for dialect d. companyColumn names the
// fact's company foreign key column; empty means the column is not written.
func NewFactWriter(d storage.Dialect, companyColumn string) *FactWriter {
	return &FactWriter{dialect: d, companyColumn: companyColumn}
}

// Insert writes f and returns its surrogate key.
func (w *FactWriter) Insert(ctx context.Context, q storage.Querier, f Fact) (int64, error) {
	key, err := NextKey(ctx, q, w.dialect, factTable, factKeyColumn)
	if err != nil {
		return 0, err
	}

	cols := []string{
		factKeyColumn,
		"duracaoviagem", "totaltaxas", "numerocontentores", "pesototalcontentores",
		"classeduracao_idclasseduracao", "localizacao_idlocalizacao", "tipo_viagem_idtipoviagem",
		"condutor_idcondutor", "barco_idbarco", "tempo_idtempo",
	}
	vals := []any{
		key,
		f.DurationDays, f.TotalFee, f.Containers, f.TotalWeight,
		f.DurationClassKey, f.LocationKey, f.TripTypeKey,
		f.DriverKey, f.VesselKey, f.TimeKey,
	}
	if w.companyColumn != "" {
		cols = append(cols, w.companyColumn)
		vals = append(vals, f.CompanyKey)
	}

	if _, err := q.ExecContext(ctx, storage.InsertSQL(w.dialect, factTable, cols), vals...); err != nil {
		return 0, fmt.Errorf("warehouse: insert fact %d: %w", key, err)
	}
	return key, nil
}
