/*
Package factory provides JSON to Go fee catalog conversion.

PURPOSE:
  Converts a JSON fee schedule for one academic year into billing catalog
  entries (tuition per grade, universal add-ons, transport routes) and writes
  them through a billing.CatalogWriter. Bursars maintain the schedule as a
  document; the engine only ever reads the resulting prices.

JSON SCHEMA:
  {
    "year_id": "2025",
    "tuition": [
      {"grade_id": "grade-1", "full_day": 10000, "half_day": 6000}
    ],
    "universal": [
      {"fee_type": "food", "amount": 500},
      {"fee_type": "sports", "amount": 300, "active": false}
    ],
    "transport": [
      {"route_id": "north", "name": "North loop", "one_way": 800, "two_way": 1500}
    ]
  }

  Amounts may be JSON numbers or strings ("10000.00"). Entries are active
  unless "active": false is given.

KEY FEATURES:
  - Struct-tag validation of the document shape
  - Domain validation per entry (full_day > half_day, two_way > one_way)
  - Every entry is validated before anything is written
  - Duplicate keys inside one document are rejected

USAGE:
  f := factory.NewCatalogFactory()
  schedule, err := f.ParseSchedule(jsonBytes)
  if err != nil { ... }
  result, err := f.Import(ctx, store, "school-1", schedule)

SEE ALSO:
  - billing/catalog.go: Entry types and resolution
  - api/handlers.go: POST /api/catalog/import
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/billing"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// FeeScheduleJSON is the JSON representation of one year's fee catalog.
type FeeScheduleJSON struct {
	YearID    string          `json:"year_id" validate:"required"`
	Tuition   []TuitionJSON   `json:"tuition" validate:"dive"`
	Universal []UniversalJSON `json:"universal,omitempty" validate:"dive"`
	Transport []TransportJSON `json:"transport,omitempty" validate:"dive"`
}

type TuitionJSON struct {
	GradeID string          `json:"grade_id" validate:"required"`
	FullDay decimal.Decimal `json:"full_day"`
	HalfDay decimal.Decimal `json:"half_day"`
	Active  *bool           `json:"active,omitempty"`
}

type UniversalJSON struct {
	FeeType string          `json:"fee_type" validate:"required,oneof=food sports library technology"`
	Amount  decimal.Decimal `json:"amount"`
	Active  *bool           `json:"active,omitempty"`
}

// TransportJSON prices a route. Routes are not year-scoped; importing the
// same route from another year's schedule replaces its prices.
type TransportJSON struct {
	RouteID string          `json:"route_id" validate:"required"`
	Name    string          `json:"name,omitempty"`
	OneWay  decimal.Decimal `json:"one_way"`
	TwoWay  decimal.Decimal `json:"two_way"`
	Active  *bool           `json:"active,omitempty"`
}

// ImportResult counts the entries written by Import.
type ImportResult struct {
	Tuition   int `json:"tuition"`
	Universal int `json:"universal"`
	Transport int `json:"transport"`
}

// FeeSchedule is a parsed, validated catalog ready to be written.
type FeeSchedule struct {
	YearID    billing.AcademicYearID
	Tuition   []billing.TuitionPrice
	Universal []billing.UniversalPrice
	Transport []billing.TransportPrice
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

// CatalogFactory converts JSON fee schedules to catalog entries.
type CatalogFactory struct {
	validate *validator.Validate
}

func NewCatalogFactory() *CatalogFactory {
	return &CatalogFactory{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// ParseSchedule parses and validates a JSON fee schedule.
func (f *CatalogFactory) ParseSchedule(data []byte) (*FeeSchedule, error) {
	var sj FeeScheduleJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return nil, &billing.ValidationError{Field: "schedule", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return f.FromJSON(sj)
}

// FromJSON converts FeeScheduleJSON into catalog entries, without a school.
// Import stamps the school on every entry.
func (f *CatalogFactory) FromJSON(sj FeeScheduleJSON) (*FeeSchedule, error) {
	if err := f.validate.Struct(sj); err != nil {
		return nil, &billing.ValidationError{Field: "schedule", Message: err.Error()}
	}

	year := billing.AcademicYearID(sj.YearID)
	schedule := &FeeSchedule{YearID: year}

	if dup := lo.FindDuplicates(lo.Map(sj.Tuition, func(t TuitionJSON, _ int) string { return t.GradeID })); len(dup) > 0 {
		return nil, &billing.ValidationError{Field: "tuition", Message: fmt.Sprintf("grade %s listed more than once", dup[0])}
	}
	if dup := lo.FindDuplicates(lo.Map(sj.Universal, func(u UniversalJSON, _ int) string { return u.FeeType })); len(dup) > 0 {
		return nil, &billing.ValidationError{Field: "universal", Message: fmt.Sprintf("fee type %s listed more than once", dup[0])}
	}
	if dup := lo.FindDuplicates(lo.Map(sj.Transport, func(t TransportJSON, _ int) string { return t.RouteID })); len(dup) > 0 {
		return nil, &billing.ValidationError{Field: "transport", Message: fmt.Sprintf("route %s listed more than once", dup[0])}
	}

	for _, tj := range sj.Tuition {
		p := billing.TuitionPrice{
			GradeID: billing.GradeID(tj.GradeID),
			YearID:  year,
			FullDay: tj.FullDay,
			HalfDay: tj.HalfDay,
			Active:  isActive(tj.Active),
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		schedule.Tuition = append(schedule.Tuition, p)
	}

	for _, uj := range sj.Universal {
		p := billing.UniversalPrice{
			FeeType: billing.FeeType(uj.FeeType),
			YearID:  year,
			Amount:  uj.Amount,
			Active:  isActive(uj.Active),
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		schedule.Universal = append(schedule.Universal, p)
	}

	for _, rj := range sj.Transport {
		p := billing.TransportPrice{
			RouteID: billing.RouteID(rj.RouteID),
			Name:    rj.Name,
			OneWay:  rj.OneWay,
			TwoWay:  rj.TwoWay,
			Active:  isActive(rj.Active),
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		schedule.Transport = append(schedule.Transport, p)
	}

	return schedule, nil
}

// Import writes every entry of schedule for school.
func (f *CatalogFactory) Import(ctx context.Context, w billing.CatalogWriter, school billing.SchoolID, schedule *FeeSchedule) (ImportResult, error) {
	var result ImportResult

	for _, p := range schedule.Tuition {
		p.SchoolID = school
		if err := w.SaveTuitionPrice(ctx, p); err != nil {
			return result, fmt.Errorf("save tuition for %s: %w", p.GradeID, err)
		}
		result.Tuition++
	}
	for _, p := range schedule.Universal {
		p.SchoolID = school
		if err := w.SaveUniversalPrice(ctx, p); err != nil {
			return result, fmt.Errorf("save %s price: %w", p.FeeType, err)
		}
		result.Universal++
	}
	for _, p := range schedule.Transport {
		p.SchoolID = school
		if err := w.SaveTransportPrice(ctx, p); err != nil {
			return result, fmt.Errorf("save route %s: %w", p.RouteID, err)
		}
		result.Transport++
	}

	return result, nil
}

// ToJSON renders a schedule back into its document form.
func (f *CatalogFactory) ToJSON(schedule *FeeSchedule) FeeScheduleJSON {
	sj := FeeScheduleJSON{YearID: string(schedule.YearID)}
	for _, p := range schedule.Tuition {
		sj.Tuition = append(sj.Tuition, TuitionJSON{
			GradeID: string(p.GradeID), FullDay: p.FullDay, HalfDay: p.HalfDay, Active: lo.ToPtr(p.Active),
		})
	}
	for _, p := range schedule.Universal {
		sj.Universal = append(sj.Universal, UniversalJSON{
			FeeType: string(p.FeeType), Amount: p.Amount, Active: lo.ToPtr(p.Active),
		})
	}
	for _, p := range schedule.Transport {
		sj.Transport = append(sj.Transport, TransportJSON{
			RouteID: string(p.RouteID), Name: p.Name, OneWay: p.OneWay, TwoWay: p.TwoWay, Active: lo.ToPtr(p.Active),
		})
	}
	return sj
}

func isActive(b *bool) bool {
	return b == nil || *b
}
