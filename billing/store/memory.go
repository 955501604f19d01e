// Package store provides in-memory billing.TxStore implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/warp/fee-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements billing.TxStore. WithTx holds the write lock for the
// whole unit of work, which also serializes all invoice mutations.
type Memory struct {
	mu   sync.RWMutex
	data *memoryData
}

var (
	_ billing.TxStore       = (*Memory)(nil)
	_ billing.CatalogWriter = (*Memory)(nil)
	_ billing.OverdueMarker = (*Memory)(nil)
	_ billing.Store         = (*view)(nil)
)

type memoryData struct {
	terms        map[termKey]billing.Term
	students     map[billing.StudentID]billing.Student
	preferences  map[prefKey]billing.FeePreference
	tuition      map[tuitionKey]billing.TuitionPrice
	universal    map[universalKey]billing.UniversalPrice
	transport    map[transportKey]billing.TransportPrice
	invoices     map[billing.InvoiceID]billing.Invoice
	lineItems    map[billing.InvoiceID][]billing.LineItem
	payments     map[billing.InvoiceID][]billing.Payment
	installments map[billing.InvoiceID][]billing.Installment
	sequences    map[billing.SchoolID]int64
}

type termKey struct {
	School billing.SchoolID
	Term   billing.TermID
}

type prefKey struct {
	School  billing.SchoolID
	Student billing.StudentID
	Term    billing.TermID
}

type tuitionKey struct {
	School billing.SchoolID
	Grade  billing.GradeID
	Year   billing.AcademicYearID
}

type universalKey struct {
	School  billing.SchoolID
	FeeType billing.FeeType
	Year    billing.AcademicYearID
}

type transportKey struct {
	School billing.SchoolID
	Route  billing.RouteID
}

func NewMemory() *Memory {
	return &Memory{data: newMemoryData()}
}

func newMemoryData() *memoryData {
	return &memoryData{
		terms:        make(map[termKey]billing.Term),
		students:     make(map[billing.StudentID]billing.Student),
		preferences:  make(map[prefKey]billing.FeePreference),
		tuition:      make(map[tuitionKey]billing.TuitionPrice),
		universal:    make(map[universalKey]billing.UniversalPrice),
		transport:    make(map[transportKey]billing.TransportPrice),
		invoices:     make(map[billing.InvoiceID]billing.Invoice),
		lineItems:    make(map[billing.InvoiceID][]billing.LineItem),
		payments:     make(map[billing.InvoiceID][]billing.Payment),
		installments: make(map[billing.InvoiceID][]billing.Installment),
		sequences:    make(map[billing.SchoolID]int64),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// Simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(&view{d: m.data}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

func (d *memoryData) clone() *memoryData {
	c := newMemoryData()
	for k, v := range d.terms {
		c.terms[k] = v
	}
	for k, v := range d.students {
		c.students[k] = v
	}
	for k, v := range d.preferences {
		c.preferences[k] = v
	}
	for k, v := range d.tuition {
		c.tuition[k] = v
	}
	for k, v := range d.universal {
		c.universal[k] = v
	}
	for k, v := range d.transport {
		c.transport[k] = v
	}
	for k, v := range d.invoices {
		c.invoices[k] = v
	}
	for k, v := range d.lineItems {
		c.lineItems[k] = append([]billing.LineItem{}, v...)
	}
	for k, v := range d.payments {
		c.payments[k] = append([]billing.Payment{}, v...)
	}
	for k, v := range d.installments {
		c.installments[k] = append([]billing.Installment{}, v...)
	}
	for k, v := range d.sequences {
		c.sequences[k] = v
	}
	return c
}

func (m *Memory) read() *view {
	return &view{d: m.data}
}

// =============================================================================
// LOCKED ENTRY POINTS (billing.Store)
// =============================================================================

func (m *Memory) GetActiveTerm(ctx context.Context, school billing.SchoolID) (*billing.Term, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetActiveTerm(ctx, school)
}

func (m *Memory) GetTerm(ctx context.Context, school billing.SchoolID, id billing.TermID) (*billing.Term, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetTerm(ctx, school, id)
}

func (m *Memory) GetActiveStudents(ctx context.Context, school billing.SchoolID, guardian billing.GuardianID) ([]billing.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetActiveStudents(ctx, school, guardian)
}

func (m *Memory) ListBillableGuardians(ctx context.Context, school billing.SchoolID) ([]billing.GuardianID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListBillableGuardians(ctx, school)
}

func (m *Memory) GetPreference(ctx context.Context, school billing.SchoolID, guardian billing.GuardianID, student billing.StudentID, term billing.TermID) (*billing.FeePreference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetPreference(ctx, school, guardian, student, term)
}

func (m *Memory) GetTuitionPrice(ctx context.Context, school billing.SchoolID, grade billing.GradeID, year billing.AcademicYearID) (*billing.TuitionPrice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetTuitionPrice(ctx, school, grade, year)
}

func (m *Memory) GetUniversalPrice(ctx context.Context, school billing.SchoolID, feeType billing.FeeType, year billing.AcademicYearID) (*billing.UniversalPrice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetUniversalPrice(ctx, school, feeType, year)
}

func (m *Memory) GetTransportPrice(ctx context.Context, school billing.SchoolID, route billing.RouteID) (*billing.TransportPrice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetTransportPrice(ctx, school, route)
}

func (m *Memory) FindInvoice(ctx context.Context, school billing.SchoolID, guardian billing.GuardianID, term billing.TermID) (*billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().FindInvoice(ctx, school, guardian, term)
}

func (m *Memory) GetInvoice(ctx context.Context, school billing.SchoolID, id billing.InvoiceID) (*billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetInvoice(ctx, school, id)
}

// LockInvoice outside WithTx is a plain read; the lock is the transaction's.
func (m *Memory) LockInvoice(ctx context.Context, school billing.SchoolID, id billing.InvoiceID) (*billing.Invoice, error) {
	return m.GetInvoice(ctx, school, id)
}

func (m *Memory) ListInvoices(ctx context.Context, school billing.SchoolID, term billing.TermID) ([]billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListInvoices(ctx, school, term)
}

func (m *Memory) NextInvoiceSequence(ctx context.Context, school billing.SchoolID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().NextInvoiceSequence(ctx, school)
}

func (m *Memory) CreateInvoice(ctx context.Context, inv billing.Invoice, items []billing.LineItem, installments []billing.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().CreateInvoice(ctx, inv, items, installments)
}

func (m *Memory) UpdateInvoiceTotals(ctx context.Context, inv billing.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().UpdateInvoiceTotals(ctx, inv)
}

func (m *Memory) DeleteInvoice(ctx context.Context, school billing.SchoolID, id billing.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().DeleteInvoice(ctx, school, id)
}

func (m *Memory) LineItems(ctx context.Context, invoice billing.InvoiceID) ([]billing.LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().LineItems(ctx, invoice)
}

func (m *Memory) UpdateLineItem(ctx context.Context, item billing.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().UpdateLineItem(ctx, item)
}

func (m *Memory) Installments(ctx context.Context, invoice billing.InvoiceID) ([]billing.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().Installments(ctx, invoice)
}

func (m *Memory) Payments(ctx context.Context, invoice billing.InvoiceID) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().Payments(ctx, invoice)
}

func (m *Memory) GetPayment(ctx context.Context, school billing.SchoolID, id billing.PaymentID) (*billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetPayment(ctx, school, id)
}

func (m *Memory) InsertPayment(ctx context.Context, p billing.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().InsertPayment(ctx, p)
}

func (m *Memory) DeletePayment(ctx context.Context, id billing.PaymentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().DeletePayment(ctx, id)
}

// =============================================================================
// SEEDING (collaborator data the engine only reads)
// =============================================================================

// Reset clears all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = newMemoryData()
	return nil
}

func (m *Memory) SaveTerm(_ context.Context, t billing.Term) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Active {
		for k, other := range m.data.terms {
			if k.School == t.SchoolID {
				other.Active = false
				m.data.terms[k] = other
			}
		}
	}
	m.data.terms[termKey{t.SchoolID, t.ID}] = t
	return nil
}

func (m *Memory) SaveStudent(_ context.Context, s billing.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.students[s.ID] = s
	return nil
}

// SavePreference replaces any existing preference for (student, term).
func (m *Memory) SavePreference(_ context.Context, p billing.FeePreference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.preferences[prefKey{p.SchoolID, p.StudentID, p.TermID}] = p
	return nil
}

func (m *Memory) SaveTuitionPrice(_ context.Context, p billing.TuitionPrice) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.tuition[tuitionKey{p.SchoolID, p.GradeID, p.YearID}] = p
	return nil
}

func (m *Memory) SaveUniversalPrice(_ context.Context, p billing.UniversalPrice) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.universal[universalKey{p.SchoolID, p.FeeType, p.YearID}] = p
	return nil
}

func (m *Memory) SaveTransportPrice(_ context.Context, p billing.TransportPrice) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.transport[transportKey{p.SchoolID, p.RouteID}] = p
	return nil
}

// MarkOverdue implements billing.OverdueMarker.
func (m *Memory) MarkOverdue(_ context.Context, asOf time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	today := billing.DateOf(asOf)
	marked := 0
	for id, inv := range m.data.invoices {
		if (inv.Status == billing.StatusPending || inv.Status == billing.StatusPartial) &&
			inv.BalanceDue.IsPositive() && inv.DueDate.Before(today) {
			inv.Status = billing.StatusOverdue
			inv.UpdatedAt = asOf
			m.data.invoices[id] = inv
			marked++
		}
	}
	return marked, nil
}

// =============================================================================
// VIEW - unlocked operations shared by reads and transactions
// =============================================================================

type view struct {
	d *memoryData
}

func (v *view) GetActiveTerm(_ context.Context, school billing.SchoolID) (*billing.Term, error) {
	for k, t := range v.d.terms {
		if k.School == school && t.Active {
			return &t, nil
		}
	}
	return nil, nil
}

func (v *view) GetTerm(_ context.Context, school billing.SchoolID, id billing.TermID) (*billing.Term, error) {
	t, ok := v.d.terms[termKey{school, id}]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (v *view) GetActiveStudents(_ context.Context, school billing.SchoolID, guardian billing.GuardianID) ([]billing.Student, error) {
	var result []billing.Student
	for _, s := range v.d.students {
		if s.SchoolID == school && s.GuardianID == guardian && s.Active {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (v *view) ListBillableGuardians(_ context.Context, school billing.SchoolID) ([]billing.GuardianID, error) {
	active := lo.Filter(lo.Values(v.d.students), func(s billing.Student, _ int) bool {
		return s.SchoolID == school && s.Active
	})
	guardians := lo.Uniq(lo.Map(active, func(s billing.Student, _ int) billing.GuardianID {
		return s.GuardianID
	}))
	sort.Slice(guardians, func(i, j int) bool { return guardians[i] < guardians[j] })
	return guardians, nil
}

func (v *view) GetPreference(_ context.Context, school billing.SchoolID, guardian billing.GuardianID, student billing.StudentID, term billing.TermID) (*billing.FeePreference, error) {
	p, ok := v.d.preferences[prefKey{school, student, term}]
	if !ok || p.GuardianID != guardian {
		return nil, nil
	}
	return &p, nil
}

func (v *view) GetTuitionPrice(_ context.Context, school billing.SchoolID, grade billing.GradeID, year billing.AcademicYearID) (*billing.TuitionPrice, error) {
	p, ok := v.d.tuition[tuitionKey{school, grade, year}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (v *view) GetUniversalPrice(_ context.Context, school billing.SchoolID, feeType billing.FeeType, year billing.AcademicYearID) (*billing.UniversalPrice, error) {
	p, ok := v.d.universal[universalKey{school, feeType, year}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (v *view) GetTransportPrice(_ context.Context, school billing.SchoolID, route billing.RouteID) (*billing.TransportPrice, error) {
	p, ok := v.d.transport[transportKey{school, route}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (v *view) FindInvoice(_ context.Context, school billing.SchoolID, guardian billing.GuardianID, term billing.TermID) (*billing.Invoice, error) {
	for _, inv := range v.d.invoices {
		if inv.SchoolID == school && inv.GuardianID == guardian && inv.TermID == term {
			return &inv, nil
		}
	}
	return nil, nil
}

func (v *view) GetInvoice(_ context.Context, school billing.SchoolID, id billing.InvoiceID) (*billing.Invoice, error) {
	inv, ok := v.d.invoices[id]
	if !ok || inv.SchoolID != school {
		return nil, nil
	}
	return &inv, nil
}

func (v *view) LockInvoice(ctx context.Context, school billing.SchoolID, id billing.InvoiceID) (*billing.Invoice, error) {
	return v.GetInvoice(ctx, school, id)
}

func (v *view) ListInvoices(_ context.Context, school billing.SchoolID, term billing.TermID) ([]billing.Invoice, error) {
	var result []billing.Invoice
	for _, inv := range v.d.invoices {
		if inv.SchoolID == school && (term == "" || inv.TermID == term) {
			result = append(result, inv)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].InvoiceNumber < result[j].InvoiceNumber })
	return result, nil
}

func (v *view) NextInvoiceSequence(_ context.Context, school billing.SchoolID) (int64, error) {
	v.d.sequences[school]++
	return v.d.sequences[school], nil
}

func (v *view) CreateInvoice(ctx context.Context, inv billing.Invoice, items []billing.LineItem, installments []billing.Installment) error {
	existing, _ := v.FindInvoice(ctx, inv.SchoolID, inv.GuardianID, inv.TermID)
	if existing != nil {
		return billing.ErrDuplicateInvoice
	}
	v.d.invoices[inv.ID] = inv
	v.d.lineItems[inv.ID] = lo.Map(items, func(item billing.LineItem, _ int) billing.LineItem {
		item.Breakdown = copyBreakdown(item.Breakdown)
		return item
	})
	v.d.installments[inv.ID] = append([]billing.Installment{}, installments...)
	return nil
}

func (v *view) UpdateInvoiceTotals(_ context.Context, inv billing.Invoice) error {
	stored, ok := v.d.invoices[inv.ID]
	if !ok {
		return billing.ErrNotFound
	}
	stored.TotalAmount = inv.TotalAmount
	stored.AmountPaid = inv.AmountPaid
	stored.BalanceDue = inv.BalanceDue
	stored.Status = inv.Status
	stored.UpdatedAt = inv.UpdatedAt
	v.d.invoices[inv.ID] = stored
	return nil
}

func (v *view) DeleteInvoice(_ context.Context, school billing.SchoolID, id billing.InvoiceID) error {
	inv, ok := v.d.invoices[id]
	if !ok || inv.SchoolID != school {
		return billing.ErrNotFound
	}
	delete(v.d.invoices, id)
	delete(v.d.lineItems, id)
	delete(v.d.payments, id)
	delete(v.d.installments, id)
	return nil
}

func (v *view) LineItems(_ context.Context, invoice billing.InvoiceID) ([]billing.LineItem, error) {
	return append([]billing.LineItem{}, v.d.lineItems[invoice]...), nil
}

func (v *view) UpdateLineItem(_ context.Context, item billing.LineItem) error {
	items := v.d.lineItems[item.InvoiceID]
	for i := range items {
		if items[i].ID == item.ID {
			item.Breakdown = copyBreakdown(item.Breakdown)
			items[i] = item
			return nil
		}
	}
	return billing.ErrNotFound
}

func (v *view) Installments(_ context.Context, invoice billing.InvoiceID) ([]billing.Installment, error) {
	return append([]billing.Installment{}, v.d.installments[invoice]...), nil
}

func (v *view) Payments(_ context.Context, invoice billing.InvoiceID) ([]billing.Payment, error) {
	return append([]billing.Payment{}, v.d.payments[invoice]...), nil
}

func (v *view) GetPayment(_ context.Context, school billing.SchoolID, id billing.PaymentID) (*billing.Payment, error) {
	for invoiceID, payments := range v.d.payments {
		if v.d.invoices[invoiceID].SchoolID != school {
			continue
		}
		for _, p := range payments {
			if p.ID == id {
				return &p, nil
			}
		}
	}
	return nil, nil
}

func (v *view) InsertPayment(_ context.Context, p billing.Payment) error {
	if _, ok := v.d.invoices[p.InvoiceID]; !ok {
		return billing.ErrNotFound
	}
	v.d.payments[p.InvoiceID] = append(v.d.payments[p.InvoiceID], p)
	return nil
}

func (v *view) DeletePayment(_ context.Context, id billing.PaymentID) error {
	for invoiceID, payments := range v.d.payments {
		for i, p := range payments {
			if p.ID == id {
				v.d.payments[invoiceID] = append(payments[:i:i], payments[i+1:]...)
				return nil
			}
		}
	}
	return billing.ErrNotFound
}

func copyBreakdown(b billing.Breakdown) billing.Breakdown {
	c := make(billing.Breakdown, len(b))
	for k, val := range b {
		c[k] = val
	}
	return c
}
