package warehouse

import (
	"context"
	"fmt"

	"tripetl/internal/storage"
)

// UnknownCompanyKey is the surrogate key of the pre-existing "unknown
// company" row. Vessels whose owner cannot be resolved point at it.
const UnknownCompanyKey int64 = 1

// UnknownCompanyName is used for both name and country of the sentinel row
// when EnsureSchema seeds it.
const UnknownCompanyName = "Desconhecida"

// Dimensions of the trips star schema.
var (
	DimTime = Dimension{
		Name: "time", Table: "tempo", KeyColumn: "idtempo",
		NaturalColumns: []string{"data_completa"},
	}
	DimLocation = Dimension{
		Name: "location", Table: "localizacao", KeyColumn: "idlocalizacao",
		NaturalColumns: []string{"cidade", "pais"},
	}
	DimDriver = Dimension{
		Name: "driver", Table: "condutor", KeyColumn: "idcondutor",
		NaturalColumns: []string{"nome", "certificacao"},
	}
	DimTripType = Dimension{
		Name: "trip_type", Table: "tipo_viagem", KeyColumn: "idtipoviagem",
		NaturalColumns: []string{"tipo"},
	}
	DimDurationClass = Dimension{
		Name: "duration_class", Table: "classeduracao", KeyColumn: "idclasseduracao",
		NaturalColumns: []string{"duracao"},
	}
	DimVessel = Dimension{
		Name: "vessel", Table: "barco", KeyColumn: "idbarco",
		NaturalColumns: []string{"nome"},
	}
	DimCompany = Dimension{
		Name: "company", Table: "empresabarco", KeyColumn: "idempresa_barco",
		NaturalColumns: []string{"nome", "pais"},
	}
)

const (
	factTable     = "viagens"
	factKeyColumn = "idviagens"
)

func notNull() *bool { f := false; return &f }

func ref(d Dimension) string { return fmt.Sprintf("%s(%s)", d.Table, d.KeyColumn) }

// Tables returns the star schema in dependency order. companyColumn, when
// non-empty, adds the fact's company foreign key column.
func Tables(companyColumn string) []storage.TableSpec {
	pk := func(d Dimension) *storage.PrimaryKeySpec {
		return &storage.PrimaryKeySpec{Name: d.KeyColumn, Type: "int"}
	}
	unique := func(d Dimension) []storage.ConstraintSpec {
		return []storage.ConstraintSpec{{Kind: "unique", Columns: d.NaturalColumns}}
	}

	fact := storage.TableSpec{
		Name:       factTable,
		PrimaryKey: &storage.PrimaryKeySpec{Name: factKeyColumn, Type: "int"},
		Columns: []storage.ColumnSpec{
			{Name: "duracaoviagem", Type: "int", Nullable: notNull()},
			{Name: "totaltaxas", Type: "float", Nullable: notNull()},
			{Name: "numerocontentores", Type: "int", Nullable: notNull()},
			{Name: "pesototalcontentores", Type: "float", Nullable: notNull()},
			{Name: "classeduracao_idclasseduracao", Type: "int", Nullable: notNull(), References: ref(DimDurationClass)},
			{Name: "localizacao_idlocalizacao", Type: "int", Nullable: notNull(), References: ref(DimLocation)},
			{Name: "tipo_viagem_idtipoviagem", Type: "int", Nullable: notNull(), References: ref(DimTripType)},
			{Name: "condutor_idcondutor", Type: "int", Nullable: notNull(), References: ref(DimDriver)},
			{Name: "barco_idbarco", Type: "int", Nullable: notNull(), References: ref(DimVessel)},
			{Name: "tempo_idtempo", Type: "int", Nullable: notNull(), References: ref(DimTime)},
		},
	}
	if companyColumn != "" {
		fact.Columns = append(fact.Columns, storage.ColumnSpec{
			Name: companyColumn, Type: "int", References: ref(DimCompany),
		})
	}

	return []storage.TableSpec{
		{
			Name: DimCompany.Table, PrimaryKey: pk(DimCompany),
			Columns: []storage.ColumnSpec{
				{Name: "nome", Type: "text", Nullable: notNull()},
				{Name: "pais", Type: "text", Nullable: notNull()},
			},
			Constraints: unique(DimCompany),
		},
		{
			Name: DimTime.Table, PrimaryKey: pk(DimTime),
			Columns: []storage.ColumnSpec{
				{Name: "data_completa", Type: "date", Nullable: notNull()},
				{Name: "ano", Type: "int"},
				{Name: "mes", Type: "int"},
				{Name: "semestre", Type: "int"},
				{Name: "trimestre", Type: "int"},
			},
			Constraints: unique(DimTime),
		},
		{
			Name: DimLocation.Table, PrimaryKey: pk(DimLocation),
			Columns: []storage.ColumnSpec{
				{Name: "cidade", Type: "text", Nullable: notNull()},
				{Name: "pais", Type: "text", Nullable: notNull()},
			},
			Constraints: unique(DimLocation),
		},
		{
			Name: DimDriver.Table, PrimaryKey: pk(DimDriver),
			Columns: []storage.ColumnSpec{
				{Name: "nome", Type: "text", Nullable: notNull()},
				{Name: "idade", Type: "int"},
				{Name: "certificacao", Type: "text", Nullable: notNull()},
			},
			Constraints: unique(DimDriver),
		},
		{
			Name: DimTripType.Table, PrimaryKey: pk(DimTripType),
			Columns:     []storage.ColumnSpec{{Name: "tipo", Type: "text", Nullable: notNull()}},
			Constraints: unique(DimTripType),
		},
		{
			Name: DimDurationClass.Table, PrimaryKey: pk(DimDurationClass),
			Columns:     []storage.ColumnSpec{{Name: "duracao", Type: "text", Nullable: notNull()}},
			Constraints: unique(DimDurationClass),
		},
		{
			Name: DimVessel.Table, PrimaryKey: pk(DimVessel),
			Columns: []storage.ColumnSpec{
				{Name: "nome", Type: "text", Nullable: notNull()},
				{Name: "tamanho", Type: "text"},
				{Name: "tipo", Type: "text"},
				{Name: "capacidade", Type: "int"},
				{Name: "empresabarco_idempresa_barco", Type: "int", References: ref(DimCompany)},
			},
			Constraints: unique(DimVessel),
		},
		fact,
	}
}

// EnsureSchema creates missing star schema tables and seeds the sentinel
// company row when absent. Existing tables are left untouched.
func EnsureSchema(ctx context.Context, q storage.Querier, d storage.Dialect, companyColumn string) error {
	if err := storage.EnsureTables(ctx, q, d, Tables(companyColumn)); err != nil {
		return err
	}

	byKey := Dimension{Name: DimCompany.Name, Table: DimCompany.Table, KeyColumn: DimCompany.KeyColumn,
		NaturalColumns: []string{DimCompany.KeyColumn}}
	r := NewResolver(d, nil)
	_, ok, err := r.Lookup(ctx, q, byKey, []any{UnknownCompanyKey})
	if err != nil {
		return fmt.Errorf("warehouse: check unknown company: %w", err)
	}
	if ok {
		return nil
	}

	stmt := storage.InsertSQL(d, DimCompany.Table, []string{DimCompany.KeyColumn, "nome", "pais"})
	if _, err := q.ExecContext(ctx, stmt, UnknownCompanyKey, UnknownCompanyName, UnknownCompanyName); err != nil {
		return fmt.Errorf("warehouse: seed unknown company: %w", err)
	}
	return nil
}
