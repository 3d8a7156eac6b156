package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/Mindburn-Labs/timeline/pkg/history"
)

// Dialect is the SQL flavor of a database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDSN returns the dialect and the driver data source of dsn.
// postgres:// and postgresql:// URLs select Postgres; anything else is a
// SQLite path, optionally prefixed with sqlite://.
func ParseDSN(dsn string) (Dialect, string) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DialectPostgres, dsn
	}
	return DialectSQLite, strings.TrimPrefix(dsn, "sqlite://")
}

func (d Dialect) placeholders(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		if d == DialectPostgres {
			fmt.Fprintf(&b, "$%d", i)
		} else {
			b.WriteString("?")
		}
	}
	return b.String()
}

const schema = `
CREATE TABLE IF NOT EXISTS entity_history (
	run_id TEXT NOT NULL,
	entity_id BIGINT NOT NULL,
	domain TEXT NOT NULL,
	name TEXT NOT NULL,
	current_domain TEXT NOT NULL,
	current_name TEXT NOT NULL,
	registration TEXT,
	groups_historical TEXT NOT NULL,
	blocks_historical TEXT NOT NULL,
	block_expiration TEXT,
	start_at TEXT,
	end_at TEXT,
	caused_by TEXT NOT NULL,
	caused_by_actor_id BIGINT,
	inferred_from TEXT NOT NULL,
	source_id BIGINT NOT NULL,
	groups TEXT NOT NULL,
	blocks TEXT NOT NULL,
	created_by_self BOOLEAN NOT NULL,
	created_by_system BOOLEAN NOT NULL,
	created_by_peer BOOLEAN NOT NULL,
	anonymous BOOLEAN NOT NULL,
	bot_by_name BOOLEAN NOT NULL
);
CREATE TABLE IF NOT EXISTS unmatched_events (
	run_id TEXT NOT NULL,
	event_time TEXT NOT NULL,
	event_type TEXT NOT NULL,
	domain TEXT NOT NULL,
	old_name TEXT NOT NULL,
	new_name TEXT NOT NULL,
	actor_id BIGINT,
	source_id BIGINT NOT NULL
);
`

var stateColumns = []string{
	"run_id", "entity_id", "domain", "name", "current_domain", "current_name",
	"registration", "groups_historical", "blocks_historical", "block_expiration",
	"start_at", "end_at", "caused_by", "caused_by_actor_id", "inferred_from", "source_id",
	"groups", "blocks", "created_by_self", "created_by_system", "created_by_peer",
	"anonymous", "bot_by_name",
}

var eventColumns = []string{
	"run_id", "event_time", "event_type", "domain", "old_name", "new_name", "actor_id", "source_id",
}

// SQLStore writes output to entity_history and unmatched_events. It
// supports both Postgres and SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	runID   string
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Open connects to dsn and creates the tables.
func Open(ctx context.Context, dsn string) (*SQLStore, error) {
	dialect, source := ParseDSN(dsn)
	db, err := sql.Open(string(dialect), source)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// Every connection to an in-memory database is a new database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s: %w", dialect, err)
	}
	s := NewSQLStore(db, dialect)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// WithRunID tags every written row with id.
func (s *SQLStore) WithRunID(id string) *SQLStore {
	s.runID = id
	return s
}

// DB returns the underlying database.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Init creates the output tables if they do not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) insert(table string, columns []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), s.dialect.placeholders(len(columns)))
}

// WriteStates inserts states in a single transaction.
func (s *SQLStore) WriteStates(ctx context.Context, states []history.State) error {
	if len(states) == 0 {
		return nil
	}
	query := s.insert("entity_history", stateColumns)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for i, st := range states {
			if _, err := tx.ExecContext(ctx, query, s.stateArgs(st)...); err != nil {
				return fmt.Errorf("insert state %d (entity %d): %w", i, st.EntityID, err)
			}
		}
		return nil
	})
}

// WriteUnmatched inserts unmatched events in a single transaction.
func (s *SQLStore) WriteUnmatched(ctx context.Context, events []history.Event) error {
	if len(events) == 0 {
		return nil
	}
	query := s.insert("unmatched_events", eventColumns)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for i, e := range events {
			_, err := tx.ExecContext(ctx, query,
				s.runID,
				formatTime(e.Timestamp),
				e.Type.String(),
				e.Domain(),
				e.OldKey.Name,
				e.NewKey.Name,
				nullInt(e.ActorID),
				e.SourceID,
			)
			if err != nil {
				return fmt.Errorf("insert unmatched event %d: %w", i, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLStore) stateArgs(st history.State) []any {
	return []any{
		s.runID,
		st.EntityID,
		st.Key.Domain,
		st.Key.Name,
		st.CurrentKey.Domain,
		st.CurrentKey.Name,
		nullTime(st.Registration),
		jsonList(st.GroupsHistorical),
		jsonList(st.BlocksHistorical),
		nullTime(st.BlockExpiration),
		nullTime(st.Start),
		nullTime(st.End),
		st.CausedBy.String(),
		nullInt(st.CausedByActorID),
		string(st.InferredFrom),
		st.SourceID,
		jsonList(st.Groups),
		jsonList(st.Blocks),
		st.CreatedBySelf,
		st.CreatedBySystem,
		st.CreatedByPeer,
		st.Anonymous,
		st.BotByName,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func jsonList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(values)
	return string(b)
}
