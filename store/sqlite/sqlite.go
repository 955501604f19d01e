/*
Package sqlite provides a SQLite-backed implementation of the billing storage
interfaces.

PURPOSE:
  Implements billing.TxStore, billing.CatalogWriter and billing.OverdueMarker
  using SQLite, plus the seeding methods for the collaborator tables (terms,
  students, fee preferences) that the surrounding school application owns.
  The same schema works on PostgreSQL with minor dialect changes.

KEY TABLES:
  invoices:             one row per (school, guardian, term); derived columns
                        total_amount/amount_paid/balance_due/status are a cache
  invoice_line_items:   one row per student on an invoice, breakdown as JSON
  invoice_installments: advisory payment plan schedule
  payments:             recorded payments; create/delete only
  invoice_sequences:    per-school invoice number counter
  terms, students, fee_preferences, tuition_prices, universal_prices,
  transport_prices:     read-only collaborator data

CONSTRAINTS:
  - UNIQUE(school_id, guardian_id, term_id) on invoices makes generation
    race-safe; a violation maps to billing.ErrDuplicateInvoice
  - ON DELETE CASCADE from invoices to line items, installments, payments
  - UNIQUE(school_id, student_id, term_id) on fee_preferences

MONEY:
  Amounts are stored as decimal TEXT and summed in Go, never as REAL.

CONCURRENCY:
  Transactions start with BEGIN IMMEDIATE (_txlock=immediate) and the pool is
  limited to one connection, so every WithTx is an exclusive writer and
  LockInvoice needs no extra SQL. On PostgreSQL, LockInvoice would be
  SELECT ... FOR UPDATE.

USAGE:
  store, err := sqlite.New("./data/fees.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  gen := billing.NewGenerator(store, logger)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/fee-engine/billing"
)

var (
	_ billing.TxStore       = (*Store)(nil)
	_ billing.CatalogWriter = (*Store)(nil)
	_ billing.OverdueMarker = (*Store)(nil)
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	queries
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Collaborator tables (owned by the school application, read by the engine)
	CREATE TABLE IF NOT EXISTS terms (
		id TEXT NOT NULL,
		school_id TEXT NOT NULL,
		academic_year_id TEXT NOT NULL,
		name TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (school_id, id)
	);

	-- At most one active term per school
	CREATE UNIQUE INDEX IF NOT EXISTS idx_terms_one_active
		ON terms(school_id) WHERE active;

	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		guardian_id TEXT NOT NULL,
		grade_id TEXT NOT NULL,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_students_guardian
		ON students(school_id, guardian_id);

	CREATE TABLE IF NOT EXISTS fee_preferences (
		school_id TEXT NOT NULL,
		guardian_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		term_id TEXT NOT NULL,
		tuition_mode TEXT NOT NULL,
		transport_mode TEXT NOT NULL DEFAULT 'none',
		transport_route_id TEXT,
		include_food BOOLEAN NOT NULL DEFAULT FALSE,
		include_sports BOOLEAN NOT NULL DEFAULT FALSE,
		notes TEXT,
		UNIQUE(school_id, student_id, term_id)
	);

	-- Fee catalog
	CREATE TABLE IF NOT EXISTS tuition_prices (
		school_id TEXT NOT NULL,
		grade_id TEXT NOT NULL,
		year_id TEXT NOT NULL,
		full_day_amount TEXT NOT NULL,
		half_day_amount TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		UNIQUE(school_id, grade_id, year_id)
	);

	CREATE TABLE IF NOT EXISTS universal_prices (
		school_id TEXT NOT NULL,
		fee_type TEXT NOT NULL,
		year_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		UNIQUE(school_id, fee_type, year_id)
	);

	CREATE TABLE IF NOT EXISTS transport_prices (
		school_id TEXT NOT NULL,
		route_id TEXT NOT NULL,
		name TEXT,
		one_way_amount TEXT NOT NULL,
		two_way_amount TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		UNIQUE(school_id, route_id)
	);

	-- Invoices
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		guardian_id TEXT NOT NULL,
		term_id TEXT NOT NULL,
		invoice_number TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		balance_due TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_plan TEXT NOT NULL,
		due_date TEXT NOT NULL,
		generated_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(school_id, invoice_number)
	);

	-- CRITICAL: one invoice per guardian per term
	CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_guardian_term
		ON invoices(school_id, guardian_id, term_id);

	CREATE INDEX IF NOT EXISTS idx_invoices_term
		ON invoices(school_id, term_id);
	CREATE INDEX IF NOT EXISTS idx_invoices_status_due
		ON invoices(status, due_date);

	CREATE TABLE IF NOT EXISTS invoice_line_items (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
		student_id TEXT NOT NULL,
		breakdown_json TEXT NOT NULL,
		total_amount TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_line_items_invoice
		ON invoice_line_items(invoice_id);

	CREATE TABLE IF NOT EXISTS invoice_installments (
		invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
		sequence INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		PRIMARY KEY (invoice_id, sequence)
	);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
		amount TEXT NOT NULL,
		payment_date TEXT NOT NULL,
		method TEXT NOT NULL,
		reference TEXT,
		recorded_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_invoice
		ON payments(invoice_id);

	CREATE TABLE IF NOT EXISTS invoice_sequences (
		school_id TEXT PRIMARY KEY,
		last_value INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset deletes all data. Used by demo scenarios and tests.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"payments", "invoice_installments", "invoice_line_items", "invoices", "invoice_sequences",
		"fee_preferences", "students", "terms",
		"tuition_prices", "universal_prices", "transport_prices",
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// QUERIES - shared by *sql.DB and *sql.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements billing.Store over a querier.
type queries struct {
	q querier
}

// =============================================================================
// TERMS, STUDENTS, PREFERENCES
// =============================================================================

func (r *queries) GetActiveTerm(ctx context.Context, school billing.SchoolID) (*billing.Term, error) {
	return r.queryTerm(ctx, `
		SELECT id, school_id, academic_year_id, name, start_date, end_date, active
		FROM terms WHERE school_id = ? AND active
	`, school)
}

func (r *queries) GetTerm(ctx context.Context, school billing.SchoolID, id billing.TermID) (*billing.Term, error) {
	return r.queryTerm(ctx, `
		SELECT id, school_id, academic_year_id, name, start_date, end_date, active
		FROM terms WHERE school_id = ? AND id = ?
	`, school, id)
}

func (r *queries) queryTerm(ctx context.Context, query string, args ...any) (*billing.Term, error) {
	var (
		t          billing.Term
		start, end string
	)
	err := r.q.QueryRowContext(ctx, query, args...).Scan(
		&t.ID, &t.SchoolID, &t.AcademicYearID, &t.Name, &start, &end, &t.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query term: %w", err)
	}
	if t.StartDate, err = parseDate(start); err != nil {
		return nil, fmt.Errorf("term %s: %w", t.ID, err)
	}
	if t.EndDate, err = parseDate(end); err != nil {
		return nil, fmt.Errorf("term %s: %w", t.ID, err)
	}
	return &t, nil
}

func (r *queries) GetActiveStudents(ctx context.Context, school billing.SchoolID, guardian billing.GuardianID) ([]billing.Student, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, school_id, guardian_id, grade_id, name, active
		FROM students
		WHERE school_id = ? AND guardian_id = ? AND active
		ORDER BY id
	`, school, guardian)
	if err != nil {
		return nil, fmt.Errorf("failed to query students: %w", err)
	}
	defer rows.Close()

	var students []billing.Student
	for rows.Next() {
		var st billing.Student
		if err := rows.Scan(&st.ID, &st.SchoolID, &st.GuardianID, &st.GradeID, &st.Name, &st.Active); err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

func (r *queries) ListBillableGuardians(ctx context.Context, school billing.SchoolID) ([]billing.GuardianID, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT DISTINCT guardian_id FROM students
		WHERE school_id = ? AND active
		ORDER BY guardian_id
	`, school)
	if err != nil {
		return nil, fmt.Errorf("failed to query guardians: %w", err)
	}
	defer rows.Close()

	var guardians []billing.GuardianID
	for rows.Next() {
		var g billing.GuardianID
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		guardians = append(guardians, g)
	}
	return guardians, rows.Err()
}

func (r *queries) GetPreference(ctx context.Context, school billing.SchoolID, guardian billing.GuardianID, student billing.StudentID, term billing.TermID) (*billing.FeePreference, error) {
	var (
		p     billing.FeePreference
		route sql.NullString
		notes sql.NullString
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT school_id, guardian_id, student_id, term_id, tuition_mode, transport_mode,
		       transport_route_id, include_food, include_sports, notes
		FROM fee_preferences
		WHERE school_id = ? AND guardian_id = ? AND student_id = ? AND term_id = ?
	`, school, guardian, student, term).Scan(
		&p.SchoolID, &p.GuardianID, &p.StudentID, &p.TermID, &p.TuitionMode, &p.TransportMode,
		&route, &p.IncludeFood, &p.IncludeSports, &notes,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query fee preference: %w", err)
	}
	p.TransportRouteID = billing.RouteID(route.String)
	p.Notes = notes.String
	return &p, nil
}

// =============================================================================
// CATALOG (billing.CatalogStore)
// =============================================================================

func (r *queries) GetTuitionPrice(ctx context.Context, school billing.SchoolID, grade billing.GradeID, year billing.AcademicYearID) (*billing.TuitionPrice, error) {
	var p billing.TuitionPrice
	err := r.q.QueryRowContext(ctx, `
		SELECT school_id, grade_id, year_id, full_day_amount, half_day_amount, active
		FROM tuition_prices WHERE school_id = ? AND grade_id = ? AND year_id = ?
	`, school, grade, year).Scan(&p.SchoolID, &p.GradeID, &p.YearID, &p.FullDay, &p.HalfDay, &p.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tuition price: %w", err)
	}
	return &p, nil
}

func (r *queries) GetUniversalPrice(ctx context.Context, school billing.SchoolID, feeType billing.FeeType, year billing.AcademicYearID) (*billing.UniversalPrice, error) {
	var p billing.UniversalPrice
	err := r.q.QueryRowContext(ctx, `
		SELECT school_id, fee_type, year_id, amount, active
		FROM universal_prices WHERE school_id = ? AND fee_type = ? AND year_id = ?
	`, school, feeType, year).Scan(&p.SchoolID, &p.FeeType, &p.YearID, &p.Amount, &p.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query universal price: %w", err)
	}
	return &p, nil
}

func (r *queries) GetTransportPrice(ctx context.Context, school billing.SchoolID, route billing.RouteID) (*billing.TransportPrice, error) {
	var (
		p    billing.TransportPrice
		name sql.NullString
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT school_id, route_id, name, one_way_amount, two_way_amount, active
		FROM transport_prices WHERE school_id = ? AND route_id = ?
	`, school, route).Scan(&p.SchoolID, &p.RouteID, &name, &p.OneWay, &p.TwoWay, &p.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transport price: %w", err)
	}
	p.Name = name.String
	return &p, nil
}

// =============================================================================
// INVOICES (billing.InvoiceStore)
// =============================================================================

const invoiceColumns = `id, school_id, guardian_id, term_id, invoice_number, total_amount, amount_paid,
	balance_due, status, payment_plan, due_date, generated_by, created_at, updated_at`

func (r *queries) FindInvoice(ctx context.Context, school billing.SchoolID, guardian billing.GuardianID, term billing.TermID) (*billing.Invoice, error) {
	return r.queryInvoice(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE school_id = ? AND guardian_id = ? AND term_id = ?",
		school, guardian, term)
}

func (r *queries) GetInvoice(ctx context.Context, school billing.SchoolID, id billing.InvoiceID) (*billing.Invoice, error) {
	return r.queryInvoice(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE school_id = ? AND id = ?",
		school, id)
}

// LockInvoice reads the invoice. Exclusivity comes from the enclosing
// BEGIN IMMEDIATE transaction.
func (r *queries) LockInvoice(ctx context.Context, school billing.SchoolID, id billing.InvoiceID) (*billing.Invoice, error) {
	return r.GetInvoice(ctx, school, id)
}

func (r *queries) ListInvoices(ctx context.Context, school billing.SchoolID, term billing.TermID) ([]billing.Invoice, error) {
	query := "SELECT " + invoiceColumns + " FROM invoices WHERE school_id = ?"
	args := []any{school}
	if term != "" {
		query += " AND term_id = ?"
		args = append(args, term)
	}
	query += " ORDER BY invoice_number"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func (r *queries) queryInvoice(ctx context.Context, query string, args ...any) (*billing.Invoice, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	inv, err := scanInvoice(rows)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func scanInvoice(rows *sql.Rows) (billing.Invoice, error) {
	var (
		inv                         billing.Invoice
		dueDate, createdAt, updated string
		generatedBy                 sql.NullString
	)
	err := rows.Scan(
		&inv.ID, &inv.SchoolID, &inv.GuardianID, &inv.TermID, &inv.InvoiceNumber,
		&inv.TotalAmount, &inv.AmountPaid, &inv.BalanceDue, &inv.Status, &inv.PaymentPlan, &dueDate,
		&generatedBy, &createdAt, &updated,
	)
	if err != nil {
		return inv, fmt.Errorf("failed to scan invoice: %w", err)
	}
	inv.GeneratedBy = generatedBy.String
	if inv.DueDate, err = parseDate(dueDate); err != nil {
		return inv, fmt.Errorf("invoice %s: %w", inv.ID, err)
	}
	if inv.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return inv, fmt.Errorf("invoice %s: %w", inv.ID, err)
	}
	if inv.UpdatedAt, err = parseTimestamp(updated); err != nil {
		return inv, fmt.Errorf("invoice %s: %w", inv.ID, err)
	}
	return inv, nil
}

func (r *queries) NextInvoiceSequence(ctx context.Context, school billing.SchoolID) (int64, error) {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO invoice_sequences (school_id, last_value) VALUES (?, 1)
		ON CONFLICT(school_id) DO UPDATE SET last_value = last_value + 1
	`, school)
	if err != nil {
		return 0, fmt.Errorf("failed to advance invoice sequence: %w", err)
	}
	var seq int64
	err = r.q.QueryRowContext(ctx,
		"SELECT last_value FROM invoice_sequences WHERE school_id = ?", school).Scan(&seq)
	return seq, err
}

// CreateInvoice inserts the invoice, its line items and installments. It is
// only atomic when called inside WithTx.
func (r *queries) CreateInvoice(ctx context.Context, inv billing.Invoice, items []billing.LineItem, installments []billing.Installment) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO invoices
		(id, school_id, guardian_id, term_id, invoice_number, total_amount, amount_paid,
		 balance_due, status, payment_plan, due_date, generated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		inv.ID, inv.SchoolID, inv.GuardianID, inv.TermID, inv.InvoiceNumber,
		inv.TotalAmount.String(), inv.AmountPaid.String(), inv.BalanceDue.String(),
		inv.Status, inv.PaymentPlan, formatDate(inv.DueDate), nullString(inv.GeneratedBy),
		formatTimestamp(inv.CreatedAt), formatTimestamp(inv.UpdatedAt),
	)
	if err != nil {
		if isGuardianTermConflict(err) {
			return billing.ErrDuplicateInvoice
		}
		return fmt.Errorf("failed to insert invoice: %w", err)
	}

	for _, item := range items {
		breakdownJSON, err := json.Marshal(item.Breakdown)
		if err != nil {
			return fmt.Errorf("failed to encode breakdown: %w", err)
		}
		_, err = r.q.ExecContext(ctx, `
			INSERT INTO invoice_line_items (id, invoice_id, student_id, breakdown_json, total_amount)
			VALUES (?, ?, ?, ?, ?)
		`, item.ID, inv.ID, item.StudentID, string(breakdownJSON), item.TotalAmount.String())
		if err != nil {
			return fmt.Errorf("failed to insert line item: %w", err)
		}
	}

	for _, inst := range installments {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO invoice_installments (invoice_id, sequence, due_date, amount)
			VALUES (?, ?, ?, ?)
		`, inv.ID, inst.Sequence, formatDate(inst.DueDate), inst.Amount.String())
		if err != nil {
			return fmt.Errorf("failed to insert installment: %w", err)
		}
	}
	return nil
}

func (r *queries) UpdateInvoiceTotals(ctx context.Context, inv billing.Invoice) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE invoices
		SET total_amount = ?, amount_paid = ?, balance_due = ?, status = ?, updated_at = ?
		WHERE id = ?
	`,
		inv.TotalAmount.String(), inv.AmountPaid.String(), inv.BalanceDue.String(),
		inv.Status, formatTimestamp(inv.UpdatedAt), inv.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	return expectOneRow(res, billing.ErrNotFound)
}

func (r *queries) DeleteInvoice(ctx context.Context, school billing.SchoolID, id billing.InvoiceID) error {
	res, err := r.q.ExecContext(ctx, "DELETE FROM invoices WHERE school_id = ? AND id = ?", school, id)
	if err != nil {
		return fmt.Errorf("failed to delete invoice: %w", err)
	}
	return expectOneRow(res, billing.ErrNotFound)
}

func (r *queries) LineItems(ctx context.Context, invoice billing.InvoiceID) ([]billing.LineItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, invoice_id, student_id, breakdown_json, total_amount
		FROM invoice_line_items WHERE invoice_id = ?
		ORDER BY student_id, id
	`, invoice)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer rows.Close()

	var items []billing.LineItem
	for rows.Next() {
		var (
			item          billing.LineItem
			breakdownJSON string
		)
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.StudentID, &breakdownJSON, &item.TotalAmount); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		if err := json.Unmarshal([]byte(breakdownJSON), &item.Breakdown); err != nil {
			return nil, fmt.Errorf("failed to decode breakdown of line item %s: %w", item.ID, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *queries) UpdateLineItem(ctx context.Context, item billing.LineItem) error {
	breakdownJSON, err := json.Marshal(item.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to encode breakdown: %w", err)
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE invoice_line_items SET breakdown_json = ?, total_amount = ?
		WHERE id = ? AND invoice_id = ?
	`, string(breakdownJSON), item.TotalAmount.String(), item.ID, item.InvoiceID)
	if err != nil {
		return fmt.Errorf("failed to update line item: %w", err)
	}
	return expectOneRow(res, billing.ErrNotFound)
}

func (r *queries) Installments(ctx context.Context, invoice billing.InvoiceID) ([]billing.Installment, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT invoice_id, sequence, due_date, amount
		FROM invoice_installments WHERE invoice_id = ?
		ORDER BY sequence
	`, invoice)
	if err != nil {
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}
	defer rows.Close()

	var installments []billing.Installment
	for rows.Next() {
		var (
			inst    billing.Installment
			dueDate string
		)
		if err := rows.Scan(&inst.InvoiceID, &inst.Sequence, &dueDate, &inst.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		if inst.DueDate, err = parseDate(dueDate); err != nil {
			return nil, fmt.Errorf("installment %d of invoice %s: %w", inst.Sequence, inst.InvoiceID, err)
		}
		installments = append(installments, inst)
	}
	return installments, rows.Err()
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `p.id, p.invoice_id, p.amount, p.payment_date, p.method, p.reference, p.recorded_by, p.created_at`

func (r *queries) Payments(ctx context.Context, invoice billing.InvoiceID) ([]billing.Payment, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+paymentColumns+" FROM payments p WHERE p.invoice_id = ? ORDER BY p.created_at, p.id",
		invoice)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []billing.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *queries) GetPayment(ctx context.Context, school billing.SchoolID, id billing.PaymentID) (*billing.Payment, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments p JOIN invoices i ON i.id = p.invoice_id
		WHERE i.school_id = ? AND p.id = ?
	`, school, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	p, err := scanPayment(rows)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPayment(rows *sql.Rows) (billing.Payment, error) {
	var (
		p               billing.Payment
		date, createdAt string
		reference, by   sql.NullString
	)
	err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &date, &p.Method, &reference, &by, &createdAt)
	if err != nil {
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}
	p.Reference = reference.String
	p.RecordedBy = by.String
	if p.PaymentDate, err = parseDate(date); err != nil {
		return p, fmt.Errorf("payment %s: %w", p.ID, err)
	}
	if p.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return p, fmt.Errorf("payment %s: %w", p.ID, err)
	}
	return p, nil
}

func (r *queries) InsertPayment(ctx context.Context, p billing.Payment) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO payments (id, invoice_id, amount, payment_date, method, reference, recorded_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.InvoiceID, p.Amount.String(), formatDate(p.PaymentDate), p.Method,
		nullString(p.Reference), nullString(p.RecordedBy), formatTimestamp(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (r *queries) DeletePayment(ctx context.Context, id billing.PaymentID) error {
	res, err := r.q.ExecContext(ctx, "DELETE FROM payments WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete payment: %w", err)
	}
	return expectOneRow(res, billing.ErrNotFound)
}

// =============================================================================
// SEEDING & CATALOG WRITES
// =============================================================================

// SaveTerm upserts a term. Saving an active term deactivates the school's others.
func (s *Store) SaveTerm(ctx context.Context, t billing.Term) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if t.Active {
		if _, err := tx.ExecContext(ctx,
			"UPDATE terms SET active = FALSE WHERE school_id = ? AND id <> ?", t.SchoolID, t.ID); err != nil {
			return fmt.Errorf("failed to deactivate terms: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO terms (id, school_id, academic_year_id, name, start_date, end_date, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(school_id, id) DO UPDATE SET
			academic_year_id = excluded.academic_year_id,
			name = excluded.name,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			active = excluded.active
	`, t.ID, t.SchoolID, t.AcademicYearID, t.Name, formatDate(t.StartDate), formatDate(t.EndDate), t.Active)
	if err != nil {
		return fmt.Errorf("failed to save term: %w", err)
	}
	return tx.Commit()
}

func (s *Store) SaveStudent(ctx context.Context, st billing.Student) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO students (id, school_id, guardian_id, grade_id, name, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			school_id = excluded.school_id,
			guardian_id = excluded.guardian_id,
			grade_id = excluded.grade_id,
			name = excluded.name,
			active = excluded.active
	`, st.ID, st.SchoolID, st.GuardianID, st.GradeID, st.Name, st.Active)
	if err != nil {
		return fmt.Errorf("failed to save student: %w", err)
	}
	return nil
}

// SavePreference replaces any existing preference for (student, term).
func (s *Store) SavePreference(ctx context.Context, p billing.FeePreference) error {
	mode := p.TransportMode
	if mode == "" {
		mode = billing.TransportNone
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fee_preferences
		(school_id, guardian_id, student_id, term_id, tuition_mode, transport_mode,
		 transport_route_id, include_food, include_sports, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(school_id, student_id, term_id) DO UPDATE SET
			guardian_id = excluded.guardian_id,
			tuition_mode = excluded.tuition_mode,
			transport_mode = excluded.transport_mode,
			transport_route_id = excluded.transport_route_id,
			include_food = excluded.include_food,
			include_sports = excluded.include_sports,
			notes = excluded.notes
	`,
		p.SchoolID, p.GuardianID, p.StudentID, p.TermID, p.TuitionMode, mode,
		nullString(string(p.TransportRouteID)), p.IncludeFood, p.IncludeSports, nullString(p.Notes),
	)
	if err != nil {
		return fmt.Errorf("failed to save fee preference: %w", err)
	}
	return nil
}

func (s *Store) SaveTuitionPrice(ctx context.Context, p billing.TuitionPrice) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tuition_prices (school_id, grade_id, year_id, full_day_amount, half_day_amount, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(school_id, grade_id, year_id) DO UPDATE SET
			full_day_amount = excluded.full_day_amount,
			half_day_amount = excluded.half_day_amount,
			active = excluded.active
	`, p.SchoolID, p.GradeID, p.YearID, p.FullDay.String(), p.HalfDay.String(), p.Active)
	if err != nil {
		return fmt.Errorf("failed to save tuition price: %w", err)
	}
	return nil
}

func (s *Store) SaveUniversalPrice(ctx context.Context, p billing.UniversalPrice) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO universal_prices (school_id, fee_type, year_id, amount, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(school_id, fee_type, year_id) DO UPDATE SET
			amount = excluded.amount,
			active = excluded.active
	`, p.SchoolID, p.FeeType, p.YearID, p.Amount.String(), p.Active)
	if err != nil {
		return fmt.Errorf("failed to save universal price: %w", err)
	}
	return nil
}

func (s *Store) SaveTransportPrice(ctx context.Context, p billing.TransportPrice) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transport_prices (school_id, route_id, name, one_way_amount, two_way_amount, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(school_id, route_id) DO UPDATE SET
			name = excluded.name,
			one_way_amount = excluded.one_way_amount,
			two_way_amount = excluded.two_way_amount,
			active = excluded.active
	`, p.SchoolID, p.RouteID, nullString(p.Name), p.OneWay.String(), p.TwoWay.String(), p.Active)
	if err != nil {
		return fmt.Errorf("failed to save transport price: %w", err)
	}
	return nil
}

// =============================================================================
// OVERDUE
// =============================================================================

// MarkOverdue flips pending/partial invoices with a positive balance whose
// due date is before asOf to overdue, across all schools.
func (s *Store) MarkOverdue(ctx context.Context, asOf time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE invoices SET status = ?, updated_at = ?
		WHERE status IN (?, ?) AND due_date < ? AND CAST(balance_due AS REAL) > 0
	`,
		billing.StatusOverdue, formatTimestamp(asOf),
		billing.StatusPending, billing.StatusPartial, formatDate(asOf),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark overdue invoices: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatDate(t time.Time) string { return t.Format(billing.DateLayout) }

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(billing.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", s, err)
	}
	return t, nil
}

func formatTimestamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func isGuardianTermConflict(err error) bool {
	return isUniqueConstraintError(err) && strings.Contains(err.Error(), "invoices.guardian_id")
}
