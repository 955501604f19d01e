package billing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CATALOG ENTRIES
// =============================================================================

// TuitionPrice is unique per (school, grade, year).
type TuitionPrice struct {
	SchoolID SchoolID
	GradeID  GradeID
	YearID   AcademicYearID
	FullDay  decimal.Decimal
	HalfDay  decimal.Decimal
	Active   bool
}

// Validate enforces FullDay > HalfDay and non-negative prices.
func (p TuitionPrice) Validate() error {
	if p.GradeID == "" || p.YearID == "" {
		return &ValidationError{Field: "tuition", Message: "grade_id and year_id are required"}
	}
	if p.HalfDay.IsNegative() {
		return &ValidationError{Field: "tuition", Message: fmt.Sprintf("grade %s: half-day amount must not be negative", p.GradeID)}
	}
	if !p.FullDay.GreaterThan(p.HalfDay) {
		return &ValidationError{Field: "tuition", Message: fmt.Sprintf("grade %s: full-day amount %s must exceed half-day amount %s",
			p.GradeID, p.FullDay, p.HalfDay)}
	}
	return nil
}

// Amount returns the price for a tuition mode.
func (p TuitionPrice) Amount(mode TuitionMode) (decimal.Decimal, error) {
	switch mode {
	case TuitionFullDay:
		return p.FullDay, nil
	case TuitionHalfDay:
		return p.HalfDay, nil
	}
	return decimal.Zero, &ValidationError{Field: "tuition_mode", Message: fmt.Sprintf("unknown tuition mode %q", mode)}
}

// UniversalPrice is unique per (school, fee type, year).
type UniversalPrice struct {
	SchoolID SchoolID
	FeeType  FeeType
	YearID   AcademicYearID
	Amount   decimal.Decimal
	Active   bool
}

func (p UniversalPrice) Validate() error {
	if p.YearID == "" {
		return &ValidationError{Field: "universal", Message: "year_id is required"}
	}
	if _, err := ParseFeeType(string(p.FeeType)); err != nil {
		return err
	}
	if p.Amount.IsNegative() {
		return &ValidationError{Field: "universal", Message: fmt.Sprintf("%s amount must not be negative", p.FeeType)}
	}
	return nil
}

// TransportPrice is unique per (school, route). Routes are not year-scoped.
type TransportPrice struct {
	SchoolID SchoolID
	RouteID  RouteID
	Name     string
	OneWay   decimal.Decimal
	TwoWay   decimal.Decimal
	Active   bool
}

// Validate enforces TwoWay > OneWay and non-negative prices.
func (p TransportPrice) Validate() error {
	if p.RouteID == "" {
		return &ValidationError{Field: "transport", Message: "route_id is required"}
	}
	if p.OneWay.IsNegative() {
		return &ValidationError{Field: "transport", Message: fmt.Sprintf("route %s: one-way amount must not be negative", p.RouteID)}
	}
	if !p.TwoWay.GreaterThan(p.OneWay) {
		return &ValidationError{Field: "transport", Message: fmt.Sprintf("route %s: two-way amount %s must exceed one-way amount %s",
			p.RouteID, p.TwoWay, p.OneWay)}
	}
	return nil
}

// Amount prices a one-way or two-way mode. TransportNone has no price.
func (p TransportPrice) Amount(mode TransportMode) (decimal.Decimal, error) {
	switch mode {
	case TransportOneWay:
		return p.OneWay, nil
	case TransportTwoWay:
		return p.TwoWay, nil
	}
	return decimal.Zero, &ValidationError{Field: "transport_mode", Message: fmt.Sprintf("route %s has no price for transport mode %q", p.RouteID, mode)}
}

// =============================================================================
// CATALOG - active-entry resolution
// =============================================================================

// Catalog resolves prices from active catalog entries only. It has no
// side effects and needs no locking.
type Catalog struct {
	Store CatalogStore
}

func NewCatalog(store CatalogStore) *Catalog {
	return &Catalog{Store: store}
}

func (c *Catalog) ResolveTuition(ctx context.Context, school SchoolID, grade GradeID, year AcademicYearID) (TuitionPrice, error) {
	p, err := c.Store.GetTuitionPrice(ctx, school, grade, year)
	if err != nil {
		return TuitionPrice{}, fmt.Errorf("load tuition price: %w", err)
	}
	if p == nil || !p.Active {
		return TuitionPrice{}, &MissingFeeConfigError{Component: ComponentTuition, Key: string(grade), YearID: year}
	}
	return *p, nil
}

func (c *Catalog) ResolveUniversal(ctx context.Context, school SchoolID, feeType FeeType, year AcademicYearID) (decimal.Decimal, error) {
	p, err := c.Store.GetUniversalPrice(ctx, school, feeType, year)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load %s price: %w", feeType, err)
	}
	if p == nil || !p.Active {
		return decimal.Zero, &MissingFeeConfigError{Component: Component(feeType), Key: string(feeType), YearID: year}
	}
	return p.Amount, nil
}

func (c *Catalog) ResolveTransport(ctx context.Context, school SchoolID, route RouteID) (TransportPrice, error) {
	p, err := c.Store.GetTransportPrice(ctx, school, route)
	if err != nil {
		return TransportPrice{}, fmt.Errorf("load transport price: %w", err)
	}
	if p == nil || !p.Active {
		return TransportPrice{}, &MissingFeeConfigError{Component: ComponentTransport, Key: string(route)}
	}
	return *p, nil
}
