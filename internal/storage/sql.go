package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/haasonsaas/worldrt/pkg/models"
)

// SQLDriver selects the concrete database/sql driver a SQLEventStore binds
// to, matching the STORAGE_TYPE configuration option.
type SQLDriver string

const (
	DriverSQLite   SQLDriver = "sqlite"
	DriverPostgres SQLDriver = "postgres"
)

// SQLEventStore is a SQL-backed EventStore, selectable between SQLite
// (mattn/go-sqlite3, for single-node/file deployments) and Postgres
// (lib/pq, for shared deployments) by STORAGE_TYPE. Schema is a single
// append-only table keyed by (world_id, chat_id); GetEventsByWorldAndChat
// reads back in append order via an auto-increment/serial ordinal.
//
// Grounded on a precedent in internal/storage/cockroach.go pattern of a
// single *sql.DB wrapped by small, explicit query methods (no ORM).
type SQLEventStore struct {
	db     *sql.DB
	driver SQLDriver
}

// OpenSQLEventStore opens (and migrates) a SQL-backed event store. dsn is a
// SQLite file path when driver is DriverSQLite, or a libpq connection
// string when driver is DriverPostgres.
func OpenSQLEventStore(driver SQLDriver, dsn string) (*SQLEventStore, error) {
	var driverName string
	switch driver {
	case DriverSQLite:
		driverName = "sqlite3"
	case DriverPostgres:
		driverName = "postgres"
	default:
		return nil, fmt.Errorf("storage: unknown sql driver %q", driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", driver, err)
	}

	s := &SQLEventStore{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLEventStore) migrate() error {
	var stmt string
	switch s.driver {
	case DriverSQLite:
		stmt = `CREATE TABLE IF NOT EXISTS world_events (
			ordinal INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			type TEXT NOT NULL,
			world_id TEXT NOT NULL,
			chat_id TEXT,
			timestamp DATETIME NOT NULL,
			payload TEXT NOT NULL,
			meta TEXT
		)`
	case DriverPostgres:
		stmt = `CREATE TABLE IF NOT EXISTS world_events (
			ordinal BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL,
			type TEXT NOT NULL,
			world_id TEXT NOT NULL,
			chat_id TEXT,
			timestamp TIMESTAMPTZ NOT NULL,
			payload JSONB NOT NULL,
			meta JSONB
		)`
	}
	_, err := s.db.Exec(stmt)
	return err
}

// Close releases the underlying database handle.
func (s *SQLEventStore) Close() error { return s.db.Close() }

func (s *SQLEventStore) AppendEvent(ctx context.Context, e models.StoredEvent) error {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("storage: marshal payload: %w", err)
	}
	var metaJSON []byte
	if e.Meta != nil {
		metaJSON, err = json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("storage: marshal meta: %w", err)
		}
	}

	query := s.rebind(`INSERT INTO world_events (id, type, world_id, chat_id, timestamp, payload, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query, e.ID, string(e.Type), e.WorldID, nullableChatID(e.ChatID), e.Timestamp, string(payloadJSON), nullableBytes(metaJSON))
	if err != nil {
		return fmt.Errorf("storage: append event: %w", err)
	}
	return nil
}

func (s *SQLEventStore) GetEventsByWorldAndChat(ctx context.Context, worldID string, chatID *string) ([]models.StoredEvent, error) {
	var query string
	var args []any
	if chatID == nil {
		query = s.rebind(`SELECT id, type, world_id, chat_id, timestamp, payload, meta FROM world_events
			WHERE world_id = ? AND chat_id IS NULL ORDER BY ordinal ASC`)
		args = []any{worldID}
	} else {
		query = s.rebind(`SELECT id, type, world_id, chat_id, timestamp, payload, meta FROM world_events
			WHERE world_id = ? AND chat_id = ? ORDER BY ordinal ASC`)
		args = []any{worldID, *chatID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query events: %w", err)
	}
	defer rows.Close()

	var out []models.StoredEvent
	for rows.Next() {
		var (
			id, typ, wID   string
			chat           sql.NullString
			ts             time.Time
			payloadJSON    string
			metaJSON       sql.NullString
		)
		if err := rows.Scan(&id, &typ, &wID, &chat, &ts, &payloadJSON, &metaJSON); err != nil {
			return nil, fmt.Errorf("storage: scan event: %w", err)
		}
		var payload any
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("%w: event %s payload", ErrCorrupted, id)
		}
		var meta *models.EventMeta
		if metaJSON.Valid && metaJSON.String != "" {
			meta = &models.EventMeta{}
			if err := json.Unmarshal([]byte(metaJSON.String), meta); err != nil {
				return nil, fmt.Errorf("%w: event %s meta", ErrCorrupted, id)
			}
		}
		ev := models.StoredEvent{
			ID:        id,
			Type:      models.StoredEventType(typ),
			WorldID:   wID,
			Timestamp: ts,
			Payload:   payload,
			Meta:      meta,
		}
		if chat.Valid {
			c := chat.String
			ev.ChatID = &c
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// rebind rewrites "?" placeholders to "$1", "$2", ... for Postgres.
func (s *SQLEventStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, []byte(fmt.Sprintf("$%d", n))...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

func nullableChatID(id *string) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

var _ EventStore = (*SQLEventStore)(nil)
