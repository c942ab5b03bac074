package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical-ai/commerce-rag/internal/domain"
)

// Dialects understood by SQLStore.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SQLOptions configures an SQL connection.
type SQLOptions struct {
	Dialect         string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	JournalMode     string
	// HistoryLimit bounds how many recent interactions a snapshot carries.
	HistoryLimit int
}

// SQLStore persists profiles in SQLite or Postgres.
type SQLStore struct {
	db           *sql.DB
	dialect      string
	historyLimit int
}

// OpenSQL opens the database, applies pool settings and migrates the
// schema.
func OpenSQL(ctx context.Context, opts SQLOptions) (*SQLStore, error) {
	driver := ""
	switch opts.Dialect {
	case DialectSQLite:
		driver = "sqlite3"
	case DialectPostgres:
		driver = "postgres"
	default:
		return nil, domain.ConfigError("unsupported profile database dialect "+opts.Dialect, nil)
	}
	if opts.DSN == "" {
		return nil, domain.ConfigError("profile database DSN is required", nil)
	}

	db, err := sql.Open(driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if opts.Dialect == DialectSQLite {
		// An in-memory database exists per connection.
		if opts.DSN == ":memory:" || opts.MaxOpenConns <= 0 {
			db.SetMaxOpenConns(1)
		} else {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if opts.Dialect == DialectSQLite && opts.JournalMode != "" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode="+opts.JournalMode); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set journal mode: %w", err)
		}
	}

	s := NewSQLStore(db, opts.Dialect, opts.HistoryLimit)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database. Call Migrate before first use.
func NewSQLStore(db *sql.DB, dialect string, historyLimit int) *SQLStore {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &SQLStore{db: db, dialect: dialect, historyLimit: historyLimit}
}

// Migrate creates the profile tables when missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	tsType := "TIMESTAMP"
	if s.dialect == DialectPostgres {
		idColumn = "BIGSERIAL PRIMARY KEY"
		tsType = "TIMESTAMPTZ"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id TEXT PRIMARY KEY,
			preferred_categories TEXT NOT NULL DEFAULT '[]',
			preferred_brands TEXT NOT NULL DEFAULT '[]',
			max_price DOUBLE PRECISION,
			updated_at ` + tsType + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_interactions (
			id ` + idColumn + `,
			user_id TEXT NOT NULL,
			product_id TEXT NOT NULL,
			action TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			brand TEXT NOT NULL DEFAULT '',
			price DOUBLE PRECISION NOT NULL DEFAULT 0,
			occurred_at ` + tsType + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_interactions_user ON user_interactions (user_id, occurred_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate profile schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, userID string) (*domain.UserProfile, error) {
	return s.get(ctx, s.db, userID)
}

func (s *SQLStore) get(ctx context.Context, db DB, userID string) (*domain.UserProfile, error) {
	query := s.rebind(`
		SELECT preferred_categories, preferred_brands, max_price
		FROM user_profiles WHERE user_id = ?
	`)
	var cats, brands string
	var maxPrice sql.NullFloat64
	err := db.QueryRowContext(ctx, query, userID).Scan(&cats, &brands, &maxPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	p := &domain.UserProfile{UserID: userID}
	if err := json.Unmarshal([]byte(cats), &p.PreferredCategories); err != nil {
		return nil, fmt.Errorf("decode preferred categories: %w", err)
	}
	if err := json.Unmarshal([]byte(brands), &p.PreferredBrands); err != nil {
		return nil, fmt.Errorf("decode preferred brands: %w", err)
	}
	if maxPrice.Valid {
		v := maxPrice.Float64
		p.MaxPrice = &v
	}

	history, err := s.history(ctx, db, userID)
	if err != nil {
		return nil, err
	}
	p.History = history
	return p, nil
}

// history returns the most recent interactions, oldest first.
func (s *SQLStore) history(ctx context.Context, db DB, userID string) ([]domain.Interaction, error) {
	query := s.rebind(`
		SELECT product_id, action, category, brand, price, occurred_at
		FROM user_interactions WHERE user_id = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`)
	rows, err := db.QueryContext(ctx, query, userID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var out []domain.Interaction
	for rows.Next() {
		var in domain.Interaction
		var action string
		if err := rows.Scan(&in.ProductID, &action, &in.Category, &in.Brand, &in.Price, &in.Timestamp); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		in.Action = domain.Action(action)
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLStore) AppendInteraction(ctx context.Context, userID string, in domain.Interaction) (*domain.UserProfile, error) {
	if err := validateInteraction(userID, &in); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := s.rebind(`
		INSERT INTO user_interactions (user_id, product_id, action, category, brand, price, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if _, err := tx.ExecContext(ctx, insert,
		userID, in.ProductID, string(in.Action), in.Category, in.Brand, in.Price, in.Timestamp.UTC(),
	); err != nil {
		return nil, fmt.Errorf("insert interaction: %w", err)
	}

	p, err := s.get(ctx, tx, userID)
	if errors.Is(err, ErrNotFound) {
		p = &domain.UserProfile{UserID: userID}
	} else if err != nil {
		return nil, err
	}

	// History was loaded with the new row already in it.
	hist := p.History
	p.ApplyInteraction(in)
	p.History = hist

	cats, _ := json.Marshal(nonNil(p.PreferredCategories))
	brands, _ := json.Marshal(nonNil(p.PreferredBrands))
	var maxPrice interface{}
	if p.MaxPrice != nil {
		maxPrice = *p.MaxPrice
	}

	upsert := s.rebind(`
		INSERT INTO user_profiles (user_id, preferred_categories, preferred_brands, max_price, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			preferred_categories = excluded.preferred_categories,
			preferred_brands = excluded.preferred_brands,
			max_price = excluded.max_price,
			updated_at = excluded.updated_at
	`)
	if _, err := tx.ExecContext(ctx, upsert, userID, string(cats), string(brands), maxPrice, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("upsert profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return p, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders as $N for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ Store = (*SQLStore)(nil)
