package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	selectDocument = `SELECT body FROM documents WHERE name = ?`
	upsertDocument = `INSERT INTO documents (name, body, updated_at) VALUES (?, ?, ?)
ON CONFLICT (name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`
)

type sqlStore struct {
	db     *sqlx.DB
	driver string
}

// NewSQLStore keeps documents in the documents table created by the embedded migrations.
// It works with both the postgres and sqlite drivers; placeholders are rebound per driver.
func NewSQLStore(db *sqlx.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("docstore: nil db")
	}
	return wrap(&sqlStore{db: db, driver: db.DriverName()}), nil
}

func (s *sqlStore) get(ctx context.Context, name string) ([]byte, error) {
	var body string
	err := s.db.GetContext(ctx, &body, s.db.Rebind(selectDocument), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: select %s: %w", name, err)
	}
	return []byte(body), nil
}

func (s *sqlStore) put(ctx context.Context, name string, body []byte) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(upsertDocument), name, string(body), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("docstore: upsert %s: %w", name, err)
	}
	return nil
}

func (s *sqlStore) close() error {
	return s.db.Close()
}

func (s *sqlStore) backend() string { return s.driver }
