package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/Thejas-AM/consuma-api/internal/core/domain"
	"github.com/Thejas-AM/consuma-api/internal/core/ports"
	"github.com/Thejas-AM/consuma-api/internal/storage/dialect"
)

// Store is a SQL implementation of ports.RequestStore that supports
// SQLite and PostgreSQL.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
	now     func() time.Time
}

var _ ports.RequestStore = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres
	DSN    string // Data source name / connection string
}

// New creates a new SQL store with the specified configuration.
func New(ctx context.Context, cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if n := d.MaxOpenConns(); n > 0 {
		db.SetMaxOpenConns(n)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Run dialect-specific initialization (e.g., PRAGMA for SQLite)
	for _, stmt := range d.PragmaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d, now: time.Now}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a new SQLite store.
func NewSQLite(ctx context.Context, dbPath string) (*Store, error) {
	return New(ctx, Config{Driver: "sqlite", DSN: dbPath})
}

// Dialect returns the dialect being used
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

func (s *Store) initSchema(ctx context.Context) error {
	ts := s.dialect.TimestampType()
	text := s.dialect.TextType()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS requests (
			seq ` + s.dialect.AutoIncrementClause() + `,
			id ` + text + ` NOT NULL UNIQUE,
			mode ` + text + ` NOT NULL,
			input_data ` + text + ` NOT NULL,
			output_data ` + text + `,
			status ` + text + ` NOT NULL,
			error ` + text + `,
			created_at ` + ts + ` NOT NULL,
			completed_at ` + ts + `,
			callback_url ` + text + `,
			callback_status ` + text + `,
			callback_attempts INTEGER NOT NULL DEFAULT 0,
			callback_last_error ` + text + `,
			callback_sent_at ` + ts + `
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_mode ON requests(mode)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

const requestColumns = `id, mode, input_data, output_data, status, error, created_at, completed_at,
	callback_url, callback_status, callback_attempts, callback_last_error, callback_sent_at`

type requestRow struct {
	ID                string         `db:"id"`
	Mode              string         `db:"mode"`
	InputData         string         `db:"input_data"`
	OutputData        sql.NullString `db:"output_data"`
	Status            string         `db:"status"`
	Error             sql.NullString `db:"error"`
	CreatedAt         time.Time      `db:"created_at"`
	CompletedAt       sql.NullTime   `db:"completed_at"`
	CallbackURL       sql.NullString `db:"callback_url"`
	CallbackStatus    sql.NullString `db:"callback_status"`
	CallbackAttempts  int            `db:"callback_attempts"`
	CallbackLastError sql.NullString `db:"callback_last_error"`
	CallbackSentAt    sql.NullTime   `db:"callback_sent_at"`
}

func (r *requestRow) toDomain() (*domain.Request, error) {
	mode, err := domain.ParseMode(r.Mode)
	if err != nil {
		return nil, err
	}
	status, err := domain.ParseStatus(r.Status)
	if err != nil {
		return nil, err
	}

	req := &domain.Request{
		ID:          r.ID,
		Mode:        mode,
		Input:       json.RawMessage(r.InputData),
		Status:      status,
		Error:       nullString(r.Error),
		CreatedAt:   r.CreatedAt.UTC(),
		CompletedAt: nullTime(r.CompletedAt),
		CallbackURL: nullString(r.CallbackURL),
	}
	if r.OutputData.Valid {
		req.Output = json.RawMessage(r.OutputData.String)
	}
	if r.CallbackStatus.Valid {
		cs, err := domain.ParseCallbackStatus(r.CallbackStatus.String)
		if err != nil {
			return nil, err
		}
		req.Callback = domain.CallbackState{
			Status:    cs,
			Attempts:  r.CallbackAttempts,
			LastError: nullString(r.CallbackLastError),
			SentAt:    nullTime(r.CallbackSentAt),
		}
	}
	return req, nil
}

func (s *Store) Create(ctx context.Context, id string, mode domain.Mode, input json.RawMessage, callbackURL string) (*domain.Request, error) {
	var url, cbStatus any
	if callbackURL != "" {
		url = callbackURL
		cbStatus = string(domain.CallbackPending)
	}

	query := s.dialect.Rebind(`INSERT INTO requests
		(id, mode, input_data, status, created_at, callback_url, callback_status, callback_attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT (id) DO NOTHING`)

	res, err := s.db.ExecContext(ctx, query,
		id, string(mode), string(input), string(domain.StatusPending), s.now().UTC(), url, cbStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("request %s: %w", id, domain.ErrAlreadyExists)
	}

	return s.Get(ctx, id)
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Request, error) {
	query := s.dialect.Rebind(`SELECT ` + requestColumns + ` FROM requests WHERE id = ?`)

	var row requestRow
	err := s.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return row.toDomain()
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.Status, output json.RawMessage, errMsg string) (*domain.Request, error) {
	from := predecessors(status)
	if len(from) == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("request %s -> %s: %w", id, status, domain.ErrInvalidTransition)
	}

	sets := []string{"status = ?"}
	args := []any{string(status)}
	if len(output) > 0 {
		sets = append(sets, "output_data = ?")
		args = append(args, string(output))
	}
	if errMsg != "" {
		sets = append(sets, "error = ?")
		args = append(args, errMsg)
	}
	if status.IsTerminal() {
		sets = append(sets, "completed_at = ?")
		args = append(args, s.now().UTC())
	}
	args = append(args, id, from)

	query, args, err := sqlx.In(
		`UPDATE requests SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status IN (?)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to build status update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update request status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("request %s %s -> %s: %w", id, current.Status, status, domain.ErrInvalidTransition)
	}

	return s.Get(ctx, id)
}

func (s *Store) UpdateCallbackStatus(ctx context.Context, id string, u domain.CallbackUpdate) (*domain.Request, error) {
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("request %s: %w", id, err)
	}

	var sentAt any
	if u.SentAt != nil {
		sentAt = u.SentAt.UTC()
	}
	var lastErr any
	if u.LastError != nil {
		lastErr = *u.LastError
	}

	query := s.dialect.Rebind(`UPDATE requests
		SET callback_status = ?, callback_attempts = ?, callback_last_error = ?, callback_sent_at = ?
		WHERE id = ? AND callback_status = ? AND callback_attempts <= ?`)

	res, err := s.db.ExecContext(ctx, query,
		string(u.Status), u.Attempts, lastErr, sentAt, id, string(domain.CallbackPending), u.Attempts)
	if err != nil {
		return nil, fmt.Errorf("failed to update callback status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		switch {
		case !current.HasCallback():
			return nil, fmt.Errorf("request %s has no callback target: %w", id, domain.ErrInvalidTransition)
		case current.Callback.Status.IsTerminal():
			return nil, fmt.Errorf("request %s callback already %s: %w", id, current.Callback.Status, domain.ErrInvalidTransition)
		default:
			return nil, fmt.Errorf("request %s callback attempts %d below recorded %d: %w",
				id, u.Attempts, current.Callback.Attempts, domain.ErrInvalidTransition)
		}
	}

	return s.Get(ctx, id)
}

func (s *Store) List(ctx context.Context, opts ports.ListOptions) ([]domain.RequestSummary, int, error) {
	opts = opts.Normalize()

	where := ""
	var args []any
	if opts.Mode != "" {
		where = " WHERE mode = ?"
		args = append(args, string(opts.Mode))
	}

	var total int
	countQuery := s.dialect.Rebind(`SELECT COUNT(*) FROM requests` + where)
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count requests: %w", err)
	}

	query := s.dialect.Rebind(`SELECT ` + requestColumns + ` FROM requests` + where +
		` ORDER BY seq DESC LIMIT ? OFFSET ?`)
	args = append(args, opts.Limit, opts.Offset)

	var rows []requestRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list requests: %w", err)
	}

	out := make([]domain.RequestSummary, 0, len(rows))
	for i := range rows {
		req, err := rows[i].toDomain()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, req.Summary())
	}
	return out, total, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var allStatuses = []domain.Status{
	domain.StatusPending,
	domain.StatusProcessing,
	domain.StatusCompleted,
	domain.StatusFailed,
}

// predecessors returns the stored statuses from which to is reachable.
func predecessors(to domain.Status) []string {
	var out []string
	for _, s := range allStatuses {
		if domain.CanTransition(s, to) {
			out = append(out, string(s))
		}
	}
	return out
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
