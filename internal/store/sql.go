package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	// Drivers registered for the two supported DSN schemes.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	kherrors "github.com/keyhaven/keyhaven/internal/errors"
)

// SQLIndexStore persists index documents in a relational table. Known
// top-level fields get their own indexed columns; everything else lives
// in the JSON document and is filtered in memory.
type SQLIndexStore struct {
	db     *sql.DB
	driver string
}

const sqlIndexTable = "keyhaven_index"

// sqlIndexedFields are top-level document fields with dedicated columns.
var sqlIndexedFields = map[string]string{
	"keyHash": "key_hash",
}

// OpenSQLIndexStore opens a connection for the given driver ("postgres"
// or "mysql") and ensures the schema exists.
func OpenSQLIndexStore(ctx context.Context, driver, dsn string) (*SQLIndexStore, error) {
	if driver != "postgres" && driver != "mysql" {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &kherrors.StoreError{Backend: driver, Op: "open", Err: err}
	}
	s := &SQLIndexStore{db: db, driver: driver}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLIndexStore wraps an existing database handle, used in tests.
func NewSQLIndexStore(db *sql.DB, driver string) *SQLIndexStore {
	return &SQLIndexStore{db: db, driver: driver}
}

func (s *SQLIndexStore) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		collection VARCHAR(64) NOT NULL,
		id VARCHAR(255) NOT NULL,
		key_hash VARCHAR(128),
		doc TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	)`, sqlIndexTable)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return &kherrors.StoreError{Backend: s.driver, Op: "migrate", Err: err}
	}
	return nil
}

// rebind translates $N placeholders to the driver's style.
func (s *SQLIndexStore) rebind(query string) string {
	if s.driver == "postgres" {
		return query
	}
	for i := 9; i >= 1; i-- {
		query = strings.ReplaceAll(query, fmt.Sprintf("$%d", i), "?")
	}
	return query
}

func (s *SQLIndexStore) Put(ctx context.Context, collection, id string, doc []byte) error {
	keyHash := topLevelString(doc, "keyHash")

	var query string
	if s.driver == "postgres" {
		query = fmt.Sprintf(`INSERT INTO %s (collection, id, key_hash, doc) VALUES ($1, $2, $3, $4)
			ON CONFLICT (collection, id) DO UPDATE SET key_hash = $3, doc = $4`, sqlIndexTable)
	} else {
		query = fmt.Sprintf(`INSERT INTO %s (collection, id, key_hash, doc) VALUES ($1, $2, $3, $4)
			ON DUPLICATE KEY UPDATE key_hash = VALUES(key_hash), doc = VALUES(doc)`, sqlIndexTable)
	}

	if _, err := s.db.ExecContext(ctx, s.rebind(query), collection, id, keyHash, string(doc)); err != nil {
		return &kherrors.StoreError{Backend: s.driver, Op: "put", Key: id, Err: err}
	}
	return nil
}

func (s *SQLIndexStore) Get(ctx context.Context, collection, id string) ([]byte, error) {
	query := s.rebind(fmt.Sprintf(`SELECT doc FROM %s WHERE collection = $1 AND id = $2`, sqlIndexTable))

	var doc string
	err := s.db.QueryRowContext(ctx, query, collection, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s/%s", kherrors.ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, &kherrors.StoreError{Backend: s.driver, Op: "get", Key: id, Err: err}
	}
	return []byte(doc), nil
}

func (s *SQLIndexStore) Query(ctx context.Context, collection, field, value string) ([][]byte, error) {
	if column, ok := sqlIndexedFields[field]; ok {
		query := s.rebind(fmt.Sprintf(`SELECT doc FROM %s WHERE collection = $1 AND %s = $2`, sqlIndexTable, column))
		return s.collect(ctx, query, collection, value)
	}

	// Unindexed fields fall back to scanning the collection.
	docs, err := s.GetAll(ctx, collection)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for _, doc := range docs {
		if docFieldEquals(doc, field, value) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *SQLIndexStore) GetAll(ctx context.Context, collection string) ([][]byte, error) {
	query := s.rebind(fmt.Sprintf(`SELECT doc FROM %s WHERE collection = $1`, sqlIndexTable))
	return s.collect(ctx, query, collection)
}

func (s *SQLIndexStore) collect(ctx context.Context, query string, args ...interface{}) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &kherrors.StoreError{Backend: s.driver, Op: "query", Err: err}
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, &kherrors.StoreError{Backend: s.driver, Op: "query", Err: err}
		}
		out = append(out, []byte(doc))
	}
	if err := rows.Err(); err != nil {
		return nil, &kherrors.StoreError{Backend: s.driver, Op: "query", Err: err}
	}
	return out, nil
}

func (s *SQLIndexStore) Delete(ctx context.Context, collection, id string) error {
	query := s.rebind(fmt.Sprintf(`DELETE FROM %s WHERE collection = $1 AND id = $2`, sqlIndexTable))
	if _, err := s.db.ExecContext(ctx, query, collection, id); err != nil {
		return &kherrors.StoreError{Backend: s.driver, Op: "delete", Key: id, Err: err}
	}
	return nil
}

func (s *SQLIndexStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *SQLIndexStore) Close() error {
	return s.db.Close()
}

func topLevelString(doc []byte, field string) string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(doc, &m); err != nil {
		return ""
	}
	var str string
	if err := json.Unmarshal(m[field], &str); err != nil {
		return ""
	}
	return str
}
