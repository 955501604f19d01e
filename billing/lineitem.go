package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// LineItemBuilder prices one student's fee preference against the catalog.
//
// Tuition is mandatory. Transport, food and sports are added only when the
// preference asks for them, and a requested component without an active
// price fails the build rather than being dropped.
type LineItemBuilder struct {
	Catalog *Catalog
}

func NewLineItemBuilder(catalog *Catalog) *LineItemBuilder {
	return &LineItemBuilder{Catalog: catalog}
}

// Build returns an unsaved line item (no InvoiceID) for the student.
func (b *LineItemBuilder) Build(ctx context.Context, school SchoolID, student Student, pref FeePreference, year AcademicYearID) (LineItem, error) {
	breakdown, err := b.breakdown(ctx, school, student, pref, year)
	if err != nil {
		var missing *MissingFeeConfigError
		if errors.As(err, &missing) {
			missing.StudentID = student.ID
		}
		return LineItem{}, err
	}
	return LineItem{
		ID:          LineItemID(uuid.NewString()),
		StudentID:   student.ID,
		Breakdown:   breakdown,
		TotalAmount: breakdown.Total(),
	}, nil
}

func (b *LineItemBuilder) breakdown(ctx context.Context, school SchoolID, student Student, pref FeePreference, year AcademicYearID) (Breakdown, error) {
	tuitionMode, err := ParseTuitionMode(string(pref.TuitionMode))
	if err != nil {
		return nil, forStudent(student.ID, err)
	}
	transportMode, err := ParseTransportMode(string(pref.TransportMode))
	if err != nil {
		return nil, forStudent(student.ID, err)
	}

	breakdown := Breakdown{}

	tuition, err := b.Catalog.ResolveTuition(ctx, school, student.GradeID, year)
	if err != nil {
		return nil, err
	}
	if breakdown[ComponentTuition], err = tuition.Amount(tuitionMode); err != nil {
		return nil, forStudent(student.ID, err)
	}

	if transportMode != TransportNone {
		if pref.TransportRouteID == "" {
			return nil, &ValidationError{Field: "transport_route",
				Message: fmt.Sprintf("student %s requests %s transport without a route", student.ID, transportMode)}
		}
		route, err := b.Catalog.ResolveTransport(ctx, school, pref.TransportRouteID)
		if err != nil {
			return nil, err
		}
		if breakdown[ComponentTransport], err = route.Amount(transportMode); err != nil {
			return nil, forStudent(student.ID, err)
		}
	}

	if pref.IncludeFood {
		amount, err := b.Catalog.ResolveUniversal(ctx, school, FeeFood, year)
		if err != nil {
			return nil, err
		}
		breakdown[ComponentFood] = amount
	}

	if pref.IncludeSports {
		amount, err := b.Catalog.ResolveUniversal(ctx, school, FeeSports, year)
		if err != nil {
			return nil, err
		}
		breakdown[ComponentSports] = amount
	}

	return breakdown, nil
}

// forStudent prefixes a preference validation error with the student it belongs to.
func forStudent(id StudentID, err error) error {
	var v *ValidationError
	if !errors.As(err, &v) {
		return err
	}
	return &ValidationError{Field: v.Field, Message: fmt.Sprintf("student %s: %s", id, v.Message)}
}
