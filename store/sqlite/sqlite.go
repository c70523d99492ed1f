/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.TxStore (the engine's unit of work) and the CRUD for the
  reference data the engine reads: cases, specifications, the fee table and
  the advancement run log. In production the same patterns apply to
  PostgreSQL with minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  generic.TxStore:  WithTx opens a generic.Session over one *sql.Tx
  generic.FeeTable: Through the session
  factory.TxReferenceSink: Seeding applies a whole document in one *sql.Tx

KEY TABLES:
  specifications:      Installment cap per benefit specification
  cases:               Benefit files; start_date anchors installment math
  fee_rates:           Unit price per calendar year
  resolution_statuses: Closed enum (1 Active, 2 Suspended, 3 Finalized)
  item_kinds:          Closed enum (1 Retroactive, 2 Consecutive)
  resolutions:         Grants against a case
  resolution_items:    Lines of a resolution, cascade-deleted with it
  advancement_runs:    One row per advanced period (UNIQUE period)

INVARIANTS ENFORCED BY SCHEMA:
  - 0 <= progress <= installment_count, installment_count > 0
  - a period can be advanced once
  - items never outlive their resolution

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Writers are serialised by the mutex
  and by SQLite's single-writer lock. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/subsidy.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := subsidy.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/subsidy-engine/factory"
	"github.com/warp/subsidy-engine/generic"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database lives and dies with its connection
	// and SQLite has a single writer anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
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

// migrate creates the database schema and the enum reference rows.
func (s *Store) migrate() error {
	schema := `
	-- Specifications (cap may be NULL: the quota guard rejects such cases)
	CREATE TABLE IF NOT EXISTS specifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		installment_cap INTEGER,
		created_at TEXT NOT NULL
	);

	-- Cases (benefit files)
	CREATE TABLE IF NOT EXISTS cases (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		start_date TEXT NOT NULL,
		specification_id INTEGER NOT NULL REFERENCES specifications(id),
		rnt TEXT NOT NULL DEFAULT '',
		new_case BOOLEAN NOT NULL DEFAULT FALSE,
		notes TEXT NOT NULL DEFAULT '',
		patient_name TEXT NOT NULL DEFAULT '',
		patient_document TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cases_specification
		ON cases(specification_id);

	-- Fee table: one unit price per calendar year
	CREATE TABLE IF NOT EXISTS fee_rates (
		year INTEGER PRIMARY KEY,
		amount TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Closed enums
	CREATE TABLE IF NOT EXISTS resolution_statuses (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS item_kinds (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	);

	-- Resolutions
	CREATE TABLE IF NOT EXISTS resolutions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		case_id INTEGER NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
		date TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		status_id INTEGER NOT NULL REFERENCES resolution_statuses(id),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_resolutions_case
		ON resolutions(case_id);

	-- Resolution items
	CREATE TABLE IF NOT EXISTS resolution_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		resolution_id INTEGER NOT NULL REFERENCES resolutions(id) ON DELETE CASCADE,
		kind_id INTEGER NOT NULL REFERENCES item_kinds(id),
		price TEXT NOT NULL,
		installment_count INTEGER NOT NULL CHECK (installment_count > 0),
		progress INTEGER NOT NULL CHECK (progress >= 0 AND progress <= installment_count)
	);

	CREATE INDEX IF NOT EXISTS idx_items_resolution
		ON resolution_items(resolution_id);

	-- Hot path of the monthly job
	CREATE INDEX IF NOT EXISTS idx_items_advanceable
		ON resolution_items(kind_id, resolution_id) WHERE progress < installment_count;

	-- Advancement runs: a period is advanced once
	CREATE TABLE IF NOT EXISTS advancement_runs (
		id TEXT PRIMARY KEY,
		period TEXT NOT NULL UNIQUE,
		items_advanced INTEGER NOT NULL,
		resolutions_finalized INTEGER NOT NULL,
		executed_at TEXT NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	for _, st := range generic.ResolutionStatuses {
		if _, err := s.db.Exec("INSERT OR IGNORE INTO resolution_statuses (id, name) VALUES (?, ?)",
			st.ID(), st.String()); err != nil {
			return err
		}
	}
	for _, k := range generic.ItemKinds {
		if _, err := s.db.Exec("INSERT OR IGNORE INTO item_kinds (id, name) VALUES (?, ?)",
			k.ID(), k.String()); err != nil {
			return err
		}
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

var _ generic.TxStore = (*Store)(nil)

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(generic.Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", generic.ErrTransactionFailed, err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txSession{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", generic.ErrTransactionFailed, err)
	}
	return nil
}

var _ factory.TxReferenceSink = (*Store)(nil)

// WithReferenceTx applies reference data in one transaction so a rejected
// record leaves the store as it was.
func (s *Store) WithReferenceTx(ctx context.Context, fn func(factory.ReferenceSink) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", generic.ErrTransactionFailed, err)
	}
	defer sqlTx.Rollback()

	if err := fn(&referenceSession{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", generic.ErrTransactionFailed, err)
	}
	return nil
}

// referenceSession writes reference data through one transaction.
type referenceSession struct {
	q querier
}

func (rs *referenceSession) SaveSpecification(ctx context.Context, sp *generic.Specification) error {
	return saveSpecification(ctx, rs.q, sp)
}

func (rs *referenceSession) UpsertFeeRate(ctx context.Context, fee generic.FeeRate) error {
	return upsertFeeRate(ctx, rs.q, fee)
}

func (rs *referenceSession) SaveCase(ctx context.Context, c *generic.Case) error {
	return saveCase(ctx, rs.q, c)
}

// txSession implements generic.Session over one SQL transaction. Every read
// goes through the transaction so it sees the writes made before it.
type txSession struct {
	q querier
}

var _ generic.Session = (*txSession)(nil)

// -----------------------------------------------------------------------------
// Collaborator queries
// -----------------------------------------------------------------------------

func (ts *txSession) FeeForYear(ctx context.Context, year int) (decimal.Decimal, error) {
	return feeForYear(ctx, ts.q, year)
}

func (ts *txSession) CaseAnchor(ctx context.Context, caseID generic.CaseID) (generic.YearMonth, error) {
	var startDate string
	err := ts.q.QueryRowContext(ctx, "SELECT start_date FROM cases WHERE id = ?", caseID).Scan(&startDate)
	if err == sql.ErrNoRows {
		return generic.YearMonth{}, generic.ErrCaseNotFound
	}
	if err != nil {
		return generic.YearMonth{}, fmt.Errorf("failed to load case anchor: %w", err)
	}
	return generic.ParseYearMonth(startDate)
}

func (ts *txSession) SpecificationCap(ctx context.Context, caseID generic.CaseID) (int, error) {
	var limit sql.NullInt64
	err := ts.q.QueryRowContext(ctx, `
		SELECT s.installment_cap
		FROM cases c
		LEFT JOIN specifications s ON s.id = c.specification_id
		WHERE c.id = ?`, caseID).Scan(&limit)
	if err == sql.ErrNoRows {
		return 0, generic.ErrCaseNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load specification cap: %w", err)
	}
	if !limit.Valid {
		return 0, generic.ErrMissingSpecCap
	}
	return int(limit.Int64), nil
}

func (ts *txSession) InstallmentSum(ctx context.Context, caseID generic.CaseID, excluding generic.ResolutionID) (int, error) {
	var sum int
	err := ts.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(i.installment_count), 0)
		FROM resolution_items i
		JOIN resolutions r ON r.id = i.resolution_id
		WHERE r.case_id = ? AND r.id != ?`, caseID, excluding).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum installments: %w", err)
	}
	return sum, nil
}

func (ts *txSession) CountResolutions(ctx context.Context, caseID generic.CaseID) (int, error) {
	var n int
	err := ts.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM resolutions WHERE case_id = ?", caseID).Scan(&n)
	return n, err
}

// -----------------------------------------------------------------------------
// Resolutions
// -----------------------------------------------------------------------------

const resolutionColumns = "id, case_id, date, description, status_id"

func (ts *txSession) InsertResolution(ctx context.Context, r *generic.Resolution) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := ts.q.ExecContext(ctx, `
		INSERT INTO resolutions (case_id, date, description, status_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.CaseID, r.Date, r.Description, r.Status.ID(), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert resolution: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	r.ID = generic.ResolutionID(id)
	return nil
}

func (ts *txSession) UpdateResolution(ctx context.Context, r generic.Resolution) error {
	res, err := ts.q.ExecContext(ctx, `
		UPDATE resolutions SET date = ?, description = ?, status_id = ?, updated_at = ?
		WHERE id = ?`,
		r.Date, r.Description, r.Status.ID(), time.Now().UTC().Format(time.RFC3339), r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update resolution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.ErrResolutionNotFound
	}
	return nil
}

func (ts *txSession) GetResolution(ctx context.Context, id generic.ResolutionID) (*generic.Resolution, error) {
	row := ts.q.QueryRowContext(ctx, "SELECT "+resolutionColumns+" FROM resolutions WHERE id = ?", id)
	r, err := scanResolution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (ts *txSession) ListResolutions(ctx context.Context, caseID generic.CaseID) ([]generic.Resolution, error) {
	rows, err := ts.q.QueryContext(ctx,
		"SELECT "+resolutionColumns+" FROM resolutions WHERE case_id = ? ORDER BY id", caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []generic.Resolution
	for rows.Next() {
		r, err := scanResolution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (ts *txSession) DeleteResolution(ctx context.Context, id generic.ResolutionID) (bool, error) {
	if _, err := ts.q.ExecContext(ctx, "DELETE FROM resolution_items WHERE resolution_id = ?", id); err != nil {
		return false, fmt.Errorf("failed to delete items: %w", err)
	}
	res, err := ts.q.ExecContext(ctx, "DELETE FROM resolutions WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete resolution: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (ts *txSession) SetResolutionStatus(ctx context.Context, id generic.ResolutionID, status generic.ResolutionStatus) (bool, error) {
	res, err := ts.q.ExecContext(ctx, `
		UPDATE resolutions SET status_id = ?, updated_at = ?
		WHERE id = ? AND status_id != ?`,
		status.ID(), time.Now().UTC().Format(time.RFC3339), id, status.ID(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to set resolution status: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// -----------------------------------------------------------------------------
// Items
// -----------------------------------------------------------------------------

const itemColumns = "id, resolution_id, kind_id, price, installment_count, progress"

func (ts *txSession) ListItems(ctx context.Context, resolutionID generic.ResolutionID) ([]generic.Item, error) {
	return queryItems(ctx, ts.q,
		"SELECT "+itemColumns+" FROM resolution_items WHERE resolution_id = ? ORDER BY id", resolutionID)
}

func (ts *txSession) InsertItem(ctx context.Context, it *generic.Item) error {
	res, err := ts.q.ExecContext(ctx, `
		INSERT INTO resolution_items (resolution_id, kind_id, price, installment_count, progress)
		VALUES (?, ?, ?, ?, ?)`,
		it.ResolutionID, it.Kind.ID(), it.Price.StringFixed(generic.MoneyPlaces), it.Count, it.Progress,
	)
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	it.ID = generic.ItemID(id)
	return nil
}

func (ts *txSession) UpdateItem(ctx context.Context, it generic.Item) (bool, error) {
	res, err := ts.q.ExecContext(ctx, `
		UPDATE resolution_items SET kind_id = ?, price = ?, installment_count = ?, progress = ?
		WHERE id = ? AND resolution_id = ?`,
		it.Kind.ID(), it.Price.StringFixed(generic.MoneyPlaces), it.Count, it.Progress,
		it.ID, it.ResolutionID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update item: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (ts *txSession) DeleteItemsExcept(ctx context.Context, resolutionID generic.ResolutionID, keep []generic.ItemID) (int, error) {
	query := "DELETE FROM resolution_items WHERE resolution_id = ?"
	args := []any{resolutionID}
	if len(keep) > 0 {
		query += " AND id NOT IN (" + strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",") + ")"
		for _, id := range keep {
			args = append(args, id)
		}
	}

	res, err := ts.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphan items: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// -----------------------------------------------------------------------------
// Monthly advancement
// -----------------------------------------------------------------------------

func (ts *txSession) ListAdvanceableItems(ctx context.Context) ([]generic.Item, error) {
	return queryItems(ctx, ts.q, `
		SELECT i.id, i.resolution_id, i.kind_id, i.price, i.installment_count, i.progress
		FROM resolution_items i
		JOIN resolutions r ON r.id = i.resolution_id
		WHERE i.kind_id = ? AND i.progress < i.installment_count AND r.status_id != ?
		ORDER BY i.resolution_id, i.id`,
		generic.KindConsecutive.ID(), generic.StatusSuspended.ID())
}

func (ts *txSession) SetItemProgress(ctx context.Context, id generic.ItemID, progress int) error {
	res, err := ts.q.ExecContext(ctx, "UPDATE resolution_items SET progress = ? WHERE id = ?", progress, id)
	if err != nil {
		return fmt.Errorf("failed to advance item %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.ErrItemNotFound
	}
	return nil
}

func (ts *txSession) RecordAdvancementRun(ctx context.Context, run generic.AdvancementRun) error {
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO advancement_runs (id, period, items_advanced, resolutions_finalized, executed_at)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Period.String(), run.ItemsAdvanced, run.ResolutionsFinalized, run.ExecutedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", generic.ErrPeriodAlreadyAdvanced, run.Period)
		}
		return fmt.Errorf("failed to record advancement run: %w", err)
	}
	return nil
}

// =============================================================================
// FEE TABLE
// =============================================================================

func feeForYear(ctx context.Context, q querier, year int) (decimal.Decimal, error) {
	var amount string
	err := q.QueryRowContext(ctx, "SELECT amount FROM fee_rates WHERE year = ?", year).Scan(&amount)
	if err == sql.ErrNoRows {
		return decimal.Zero, &generic.MissingFeeRateError{Year: year}
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load fee rate: %w", err)
	}
	return parseMoney(amount, "fee rate %d", year)
}

// UpsertFeeRate sets the unit price for a year.
func (s *Store) UpsertFeeRate(ctx context.Context, fee generic.FeeRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertFeeRate(ctx, s.db, fee)
}

func upsertFeeRate(ctx context.Context, q querier, fee generic.FeeRate) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO fee_rates (year, amount, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(year) DO UPDATE SET
			amount = excluded.amount,
			updated_at = excluded.updated_at`,
		fee.Year, generic.RoundMoney(fee.Amount).StringFixed(generic.MoneyPlaces),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// FeeForYear reads the fee table outside of a unit of work.
func (s *Store) FeeForYear(ctx context.Context, year int) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return feeForYear(ctx, s.db, year)
}

// ListFeeRates returns the fee table ordered by year.
func (s *Store) ListFeeRates(ctx context.Context) ([]generic.FeeRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT year, amount FROM fee_rates ORDER BY year")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fees []generic.FeeRate
	for rows.Next() {
		var f generic.FeeRate
		var amount string
		if err := rows.Scan(&f.Year, &amount); err != nil {
			return nil, err
		}
		if f.Amount, err = parseMoney(amount, "fee rate %d", f.Year); err != nil {
			return nil, err
		}
		fees = append(fees, f)
	}
	return fees, rows.Err()
}

// DeleteFeeRate removes a year from the fee table. Returns false if absent.
func (s *Store) DeleteFeeRate(ctx context.Context, year int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM fee_rates WHERE year = ?", year)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// =============================================================================
// SPECIFICATION STORE
// =============================================================================

// SaveSpecification inserts a specification, or replaces it when ID is set.
func (s *Store) SaveSpecification(ctx context.Context, sp *generic.Specification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveSpecification(ctx, s.db, sp)
}

func saveSpecification(ctx context.Context, q querier, sp *generic.Specification) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if sp.ID == 0 {
		res, err := q.ExecContext(ctx,
			"INSERT INTO specifications (name, installment_cap, created_at) VALUES (?, ?, ?)",
			sp.Name, nullInt(sp.Cap), now)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		sp.ID = generic.SpecificationID(id)
		return nil
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO specifications (id, name, installment_cap, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			installment_cap = excluded.installment_cap`,
		sp.ID, sp.Name, nullInt(sp.Cap), now)
	return err
}

// GetSpecification retrieves a specification by ID.
func (s *Store) GetSpecification(ctx context.Context, id generic.SpecificationID) (*generic.Specification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sp generic.Specification
	var limit sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, installment_cap FROM specifications WHERE id = ?", id,
	).Scan(&sp.ID, &sp.Name, &limit)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sp.Cap = intPtr(limit)
	return &sp, nil
}

// ListSpecifications returns all specifications.
func (s *Store) ListSpecifications(ctx context.Context) ([]generic.Specification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, installment_cap FROM specifications ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var specs []generic.Specification
	for rows.Next() {
		var sp generic.Specification
		var limit sql.NullInt64
		if err := rows.Scan(&sp.ID, &sp.Name, &limit); err != nil {
			return nil, err
		}
		sp.Cap = intPtr(limit)
		specs = append(specs, sp)
	}
	return specs, rows.Err()
}

// =============================================================================
// CASE STORE
// =============================================================================

const caseColumns = "id, start_date, specification_id, rnt, new_case, notes, patient_name, patient_document"

// SaveCase inserts a case, or replaces it when ID is set (seeding).
// The start month is derived from StartDate. Replacing a case is subject to
// the same anchor lock as UpdateCase.
func (s *Store) SaveCase(ctx context.Context, c *generic.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", generic.ErrTransactionFailed, err)
	}
	defer sqlTx.Rollback()

	if err := saveCase(ctx, sqlTx, c); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", generic.ErrTransactionFailed, err)
	}
	return nil
}

func saveCase(ctx context.Context, q querier, c *generic.Case) error {
	start, err := generic.ParseYearMonth(c.StartDate)
	if err != nil {
		return err
	}
	if err := specificationExists(ctx, q, c.SpecificationID); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if c.ID == 0 {
		res, err := q.ExecContext(ctx, `
			INSERT INTO cases (start_date, specification_id, rnt, new_case, notes, patient_name, patient_document, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.StartDate, c.SpecificationID, c.RNT, c.NewCase, c.Notes, c.PatientName, c.PatientDocument, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert case: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		c.ID = generic.CaseID(id)
		c.Start = start
		return nil
	}

	existing, err := getCase(ctx, q, c.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		if err := checkAnchorLock(ctx, q, existing, start); err != nil {
			return err
		}
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO cases (id, start_date, specification_id, rnt, new_case, notes, patient_name, patient_document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			start_date = excluded.start_date,
			specification_id = excluded.specification_id,
			rnt = excluded.rnt,
			new_case = excluded.new_case,
			notes = excluded.notes,
			patient_name = excluded.patient_name,
			patient_document = excluded.patient_document,
			updated_at = excluded.updated_at`,
		c.ID, c.StartDate, c.SpecificationID, c.RNT, c.NewCase, c.Notes, c.PatientName, c.PatientDocument, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save case: %w", err)
	}
	c.Start = start
	return nil
}

// UpdateCase replaces a case's fields. Changing the start month of a case
// that already has Consecutive items fails with ErrCaseAnchorLocked: their
// unit prices were computed against the old anchor.
func (s *Store) UpdateCase(ctx context.Context, c *generic.Case) error {
	start, err := generic.ParseYearMonth(c.StartDate)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", generic.ErrTransactionFailed, err)
	}
	defer sqlTx.Rollback()

	existing, err := getCase(ctx, sqlTx, c.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return generic.ErrCaseNotFound
	}
	if err := checkAnchorLock(ctx, sqlTx, existing, start); err != nil {
		return err
	}

	if err := specificationExists(ctx, sqlTx, c.SpecificationID); err != nil {
		return err
	}

	_, err = sqlTx.ExecContext(ctx, `
		UPDATE cases SET start_date = ?, specification_id = ?, rnt = ?, new_case = ?,
			notes = ?, patient_name = ?, patient_document = ?, updated_at = ?
		WHERE id = ?`,
		c.StartDate, c.SpecificationID, c.RNT, c.NewCase, c.Notes, c.PatientName, c.PatientDocument,
		time.Now().UTC().Format(time.RFC3339), c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update case: %w", err)
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", generic.ErrTransactionFailed, err)
	}
	c.Start = start
	return nil
}

// checkAnchorLock refuses to move the start month of a case that already
// has Consecutive items.
func checkAnchorLock(ctx context.Context, q querier, existing *generic.Case, start generic.YearMonth) error {
	if existing.Start.Equal(start) {
		return nil
	}
	var scheduled int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM resolution_items i
		JOIN resolutions r ON r.id = i.resolution_id
		WHERE r.case_id = ? AND i.kind_id = ?`,
		existing.ID, generic.KindConsecutive.ID()).Scan(&scheduled)
	if err != nil {
		return err
	}
	if scheduled > 0 {
		return fmt.Errorf("%w: case %d has %d consecutive items", generic.ErrCaseAnchorLocked, existing.ID, scheduled)
	}
	return nil
}

// GetCase retrieves a case by ID.
func (s *Store) GetCase(ctx context.Context, id generic.CaseID) (*generic.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCase(ctx, s.db, id)
}

// ListCases returns all cases.
func (s *Store) ListCases(ctx context.Context) ([]generic.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+caseColumns+" FROM cases ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []generic.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

func getCase(ctx context.Context, q querier, id generic.CaseID) (*generic.Case, error) {
	c, err := scanCase(q.QueryRowContext(ctx, "SELECT "+caseColumns+" FROM cases WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func specificationExists(ctx context.Context, q querier, id generic.SpecificationID) error {
	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM specifications WHERE id = ?", id).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", generic.ErrSpecificationNotFound, id)
	}
	return nil
}

// =============================================================================
// ADVANCEMENT RUNS
// =============================================================================

// ListAdvancementRuns returns the run log, most recent period first.
func (s *Store) ListAdvancementRuns(ctx context.Context) ([]generic.AdvancementRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, period, items_advanced, resolutions_finalized, executed_at
		FROM advancement_runs ORDER BY period DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []generic.AdvancementRun
	for rows.Next() {
		var r generic.AdvancementRun
		var period string
		if err := rows.Scan(&r.ID, &period, &r.ItemsAdvanced, &r.ResolutionsFinalized, &r.ExecutedAt); err != nil {
			return nil, err
		}
		if r.Period, err = generic.ParseYearMonth(period); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo). Enum tables are kept.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"resolution_items", "resolutions", "advancement_runs", "cases", "specifications", "fee_rates"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

type scanner interface {
	Scan(dest ...any) error
}

func scanResolution(row scanner) (generic.Resolution, error) {
	var r generic.Resolution
	var statusID int
	if err := row.Scan(&r.ID, &r.CaseID, &r.Date, &r.Description, &statusID); err != nil {
		return generic.Resolution{}, err
	}
	status, err := generic.ParseResolutionStatus(statusID)
	if err != nil {
		return generic.Resolution{}, err
	}
	r.Status = status
	return r, nil
}

func queryItems(ctx context.Context, q querier, query string, args ...any) ([]generic.Item, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []generic.Item
	for rows.Next() {
		var it generic.Item
		var kindID int
		var price string
		if err := rows.Scan(&it.ID, &it.ResolutionID, &kindID, &price, &it.Count, &it.Progress); err != nil {
			return nil, err
		}
		if it.Kind, err = generic.ParseItemKind(kindID); err != nil {
			return nil, err
		}
		if it.Price, err = parseMoney(price, "item %d price", it.ID); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanCase(row scanner) (generic.Case, error) {
	var c generic.Case
	if err := row.Scan(&c.ID, &c.StartDate, &c.SpecificationID, &c.RNT, &c.NewCase,
		&c.Notes, &c.PatientName, &c.PatientDocument); err != nil {
		return generic.Case{}, err
	}
	start, err := generic.ParseYearMonth(c.StartDate)
	if err != nil {
		return generic.Case{}, err
	}
	c.Start = start
	return c, nil
}

// parseMoney reads a stored amount. A corrupt value is an error, never zero.
func parseMoney(s, what string, args ...any) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid stored amount for %s: %w", fmt.Sprintf(what, args...), err)
	}
	return d, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
