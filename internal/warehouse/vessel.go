package warehouse

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tripetl/internal/reference"
	"tripetl/internal/storage"
)

// VesselSource looks vessels up in the registry. *reference.Lookup
// implements it.
type VesselSource interface {
	VesselByName(ctx context.Context, name string) (reference.Vessel, bool, error)
}

// VesselInput is what a trip row knows about its vessel.
type VesselInput struct {
	Name     string
	Type     string
	Capacity int
}

// Vessel resolves a vessel by name. Existing rows are returned as they are.
// A new row is enriched from src: size and capacity come from the registry,
// and the owner is the warehouse company matching the registry's company
// name and country, or the unknown company. When the registry does not know
// the vessel, size is "0" and capacity is taken from in.
func (r *Resolver) Vessel(ctx context.Context, q storage.Querier, src VesselSource, in VesselInput) (int64, error) {
	build := func(ctx context.Context, _ int64) ([]string, []any, error) {
		size, capacity, company := "0", in.Capacity, r.unknownCompany

		v, ok, err := src.VesselByName(ctx, in.Name)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			size = v.Size
			if v.Capacity != nil {
				capacity = *v.Capacity
			}
			key, found, err := r.CompanyKey(ctx, q, v.CompanyName, v.CompanyCountry)
			if err != nil {
				return nil, nil, fmt.Errorf("company lookup: %w", err)
			}
			if found {
				company = key
			} else {
				r.logger.Debug("vessel company not in warehouse; using unknown company",
					zap.String("vessel", in.Name),
					zap.String("company", v.CompanyName),
					zap.String("country", v.CompanyCountry),
				)
			}
		}

		return []string{"nome", "tamanho", "tipo", "capacidade", "empresabarco_idempresa_barco"},
			[]any{in.Name, size, in.Type, capacity, company}, nil
	}

	return keyOf(r.ResolveOrCreate(ctx, q, DimVessel, []any{in.Name}, build))
}
