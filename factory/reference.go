/*
Package factory provides JSON to Go reference-data conversion.

PURPOSE:
  Converts a JSON reference document (fee table, specifications, cases) into
  generic records and applies it to a store. This lets an administrator
  prepare the data the engine prices against without code changes, and lets
  demos and tests start from a known state.

JSON SCHEMA:
  {
    "fee_rates": [
      {"year": 2023, "amount": "100.00"},
      {"year": 2024, "amount": "110.00"}
    ],
    "specifications": [
      {"id": 1, "name": "General", "installment_cap": 24},
      {"id": 2, "name": "Uncapped"}
    ],
    "cases": [
      {
        "id": 1,
        "start_date": "2024-02-15",
        "specification_id": 1,
        "rnt": "RNT-0001",
        "new_case": true,
        "patient_name": "Ana Pérez",
        "patient_document": "30111222"
      }
    ]
  }

KEY FEATURES:
  - Amounts are decimal strings (or JSON numbers) and are rounded to cents
  - A missing installment_cap means the specification has no cap
  - Validates years, start dates and cross references before anything is written
  - Application order: specifications, fee rates, cases
  - A sink that implements TxReferenceSink applies the whole document or nothing

USAGE:
  f := NewReferenceFactory()
  data, err := f.ParseReferenceData([]byte(jsonString))
  if err != nil {
      return err
  }
  err = f.Apply(ctx, store, data)

SEE ALSO:
  - store/sqlite/sqlite.go: ReferenceSink implementation
  - api/scenarios.go: Demo documents built on this factory
*/
package factory

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/warp/subsidy-engine/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ReferenceJSON is the JSON representation of a reference-data document.
type ReferenceJSON struct {
	FeeRates       []FeeRateJSON       `json:"fee_rates,omitempty"`
	Specifications []SpecificationJSON `json:"specifications,omitempty"`
	Cases          []CaseJSON          `json:"cases,omitempty"`
}

// FeeRateJSON is one year of the fee table.
type FeeRateJSON struct {
	Year   int             `json:"year"`
	Amount decimal.Decimal `json:"amount"`
}

// SpecificationJSON is a benefit specification.
type SpecificationJSON struct {
	ID             int64  `json:"id,omitempty"`
	Name           string `json:"name"`
	InstallmentCap *int   `json:"installment_cap,omitempty"`
}

// CaseJSON is a benefit file.
type CaseJSON struct {
	ID              int64  `json:"id,omitempty"`
	StartDate       string `json:"start_date"`
	SpecificationID int64  `json:"specification_id"`
	RNT             string `json:"rnt,omitempty"`
	NewCase         bool   `json:"new_case,omitempty"`
	Notes           string `json:"notes,omitempty"`
	PatientName     string `json:"patient_name,omitempty"`
	PatientDocument string `json:"patient_document,omitempty"`
}

// ReferenceData is a parsed and validated reference document.
type ReferenceData struct {
	FeeRates       []generic.FeeRate
	Specifications []generic.Specification
	Cases          []generic.Case
}

// ReferenceSink receives reference data. The SQLite store implements it.
type ReferenceSink interface {
	SaveSpecification(ctx context.Context, sp *generic.Specification) error
	UpsertFeeRate(ctx context.Context, fee generic.FeeRate) error
	SaveCase(ctx context.Context, c *generic.Case) error
}

// TxReferenceSink is a sink that can apply a document in one transaction.
type TxReferenceSink interface {
	ReferenceSink
	WithReferenceTx(ctx context.Context, fn func(ReferenceSink) error) error
}

// =============================================================================
// REFERENCE FACTORY
// =============================================================================

// ReferenceFactory converts JSON reference documents to Go records.
type ReferenceFactory struct{}

// NewReferenceFactory creates a new reference factory.
func NewReferenceFactory() *ReferenceFactory {
	return &ReferenceFactory{}
}

// ParseReferenceData parses and validates a JSON reference document.
func (f *ReferenceFactory) ParseReferenceData(data []byte) (*ReferenceData, error) {
	var rj ReferenceJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return nil, fmt.Errorf("failed to parse reference JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// FromJSON converts ReferenceJSON to validated records.
func (f *ReferenceFactory) FromJSON(rj ReferenceJSON) (*ReferenceData, error) {
	out := &ReferenceData{}

	years := make(map[int]bool, len(rj.FeeRates))
	for _, fj := range rj.FeeRates {
		if fj.Year < 1900 || fj.Year > 9999 {
			return nil, fmt.Errorf("fee rate: invalid year %d", fj.Year)
		}
		if years[fj.Year] {
			return nil, fmt.Errorf("fee rate: year %d listed twice", fj.Year)
		}
		if fj.Amount.IsNegative() {
			return nil, fmt.Errorf("fee rate %d: negative amount %s", fj.Year, fj.Amount)
		}
		years[fj.Year] = true
		out.FeeRates = append(out.FeeRates, generic.FeeRate{
			Year:   fj.Year,
			Amount: generic.RoundMoney(fj.Amount),
		})
	}

	specs := make(map[int64]bool, len(rj.Specifications))
	for _, sj := range rj.Specifications {
		if sj.Name == "" {
			return nil, fmt.Errorf("specification %d: name is required", sj.ID)
		}
		if sj.InstallmentCap != nil && *sj.InstallmentCap < 0 {
			return nil, fmt.Errorf("specification %q: negative installment cap", sj.Name)
		}
		if sj.ID != 0 {
			specs[sj.ID] = true
		}
		out.Specifications = append(out.Specifications, generic.Specification{
			ID:   generic.SpecificationID(sj.ID),
			Name: sj.Name,
			Cap:  sj.InstallmentCap,
		})
	}

	for _, cj := range rj.Cases {
		start, err := generic.ParseYearMonth(cj.StartDate)
		if err != nil {
			return nil, fmt.Errorf("case %d: %w", cj.ID, err)
		}
		// Cases may reference specifications that already exist in the store;
		// only references into this document's own id space are checked.
		if len(specs) > 0 && !specs[cj.SpecificationID] {
			return nil, fmt.Errorf("case %d: %w: %d", cj.ID, generic.ErrSpecificationNotFound, cj.SpecificationID)
		}
		out.Cases = append(out.Cases, generic.Case{
			ID:              generic.CaseID(cj.ID),
			Start:           start,
			StartDate:       cj.StartDate,
			SpecificationID: generic.SpecificationID(cj.SpecificationID),
			RNT:             cj.RNT,
			NewCase:         cj.NewCase,
			Notes:           cj.Notes,
			PatientName:     cj.PatientName,
			PatientDocument: cj.PatientDocument,
		})
	}

	return out, nil
}

// ToJSON converts records back to their JSON representation.
func (f *ReferenceFactory) ToJSON(data *ReferenceData) ReferenceJSON {
	var rj ReferenceJSON
	for _, fee := range data.FeeRates {
		rj.FeeRates = append(rj.FeeRates, FeeRateJSON{Year: fee.Year, Amount: fee.Amount})
	}
	for _, sp := range data.Specifications {
		rj.Specifications = append(rj.Specifications, SpecificationJSON{
			ID:             int64(sp.ID),
			Name:           sp.Name,
			InstallmentCap: sp.Cap,
		})
	}
	for _, c := range data.Cases {
		rj.Cases = append(rj.Cases, CaseJSON{
			ID:              int64(c.ID),
			StartDate:       c.StartDate,
			SpecificationID: int64(c.SpecificationID),
			RNT:             c.RNT,
			NewCase:         c.NewCase,
			Notes:           c.Notes,
			PatientName:     c.PatientName,
			PatientDocument: c.PatientDocument,
		})
	}
	return rj
}

// Apply writes the records to a sink: specifications first so cases can
// reference them. Ids assigned by the sink are written back into data.
// When the sink is a TxReferenceSink a failing record rolls back the rest.
func (f *ReferenceFactory) Apply(ctx context.Context, sink ReferenceSink, data *ReferenceData) error {
	if tx, ok := sink.(TxReferenceSink); ok {
		return tx.WithReferenceTx(ctx, func(s ReferenceSink) error {
			return applyTo(ctx, s, data)
		})
	}
	return applyTo(ctx, sink, data)
}

func applyTo(ctx context.Context, sink ReferenceSink, data *ReferenceData) error {
	for i := range data.Specifications {
		if err := sink.SaveSpecification(ctx, &data.Specifications[i]); err != nil {
			return fmt.Errorf("specification %q: %w", data.Specifications[i].Name, err)
		}
	}
	for _, fee := range data.FeeRates {
		if err := sink.UpsertFeeRate(ctx, fee); err != nil {
			return fmt.Errorf("fee rate %d: %w", fee.Year, err)
		}
	}
	for i := range data.Cases {
		if err := sink.SaveCase(ctx, &data.Cases[i]); err != nil {
			return fmt.Errorf("case %d: %w", data.Cases[i].ID, err)
		}
	}
	return nil
}
