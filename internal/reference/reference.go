// Package reference reads vessel attributes from the operational database
// that owns the vessel and company registry.
package reference

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"tripetl/internal/storage"
)

// Vessel is what the registry knows about one vessel.
type Vessel struct {
	Size string

	// Capacity is nil when the registry has no TEU capacity on record.
	Capacity *int

	CompanyName    string
	CompanyCountry string
}

// Lookup queries the registry tables barco and empresabarco.
type Lookup struct {
	q    storage.Querier
	stmt string
}

// New builds a Lookup over q using dialect d for placeholders and quoting.
func New(q storage.Querier, d storage.Dialect) *Lookup {
	id := d.Ident
	stmt := fmt.Sprintf(
		"SELECT b.%s, b.%s, eb.%s, eb.%s FROM %s b JOIN %s eb ON b.%s = eb.%s WHERE lower(b.%s) = %s",
		id("tamanhobarco"), id("capacidadeteu"), id("nomeempresabarco"), id("paisempresabarco"),
		storage.TableIdent(d, "barco"), storage.TableIdent(d, "empresabarco"),
		id("empresabarco_idempresabarco"), id("idempresabarco"),
		id("nomebarco"), d.Placeholder(1),
	)
	return &Lookup{q: q, stmt: stmt}
}

// VesselByName matches name case-insensitively. ok is false when the vessel
// is not in the registry. When several rows match, the first one wins.
func (l *Lookup) VesselByName(ctx context.Context, name string) (v Vessel, ok bool, err error) {
	var (
		size     sql.NullString
		capacity sql.NullFloat64
		company  sql.NullString
		country  sql.NullString
	)
	err = l.q.QueryRowContext(ctx, l.stmt, strings.ToLower(name)).Scan(&size, &capacity, &company, &country)
	if errors.Is(err, sql.ErrNoRows) {
		return Vessel{}, false, nil
	}
	if err != nil {
		return Vessel{}, false, fmt.Errorf("reference: vessel %q: %w", name, err)
	}

	v = Vessel{
		Size:           "0",
		CompanyName:    company.String,
		CompanyCountry: country.String,
	}
	if size.Valid {
		v.Size = size.String
	}
	if capacity.Valid {
		c := int(capacity.Float64)
		v.Capacity = &c
	}
	return v, true, nil
}

// String renders v for logs.
func (v Vessel) String() string {
	c := "?"
	if v.Capacity != nil {
		c = strconv.Itoa(*v.Capacity)
	}
	return fmt.Sprintf("size=%s capacity=%s company=%s/%s", v.Size, c, v.CompanyName, v.CompanyCountry)
}
