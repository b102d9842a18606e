package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"

	"github.com/kalambet/jhm/internal/record"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrStorageUnavailable is returned when the database cannot be opened at all.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrWriteFailed is returned when a single write transaction aborts.
	ErrWriteFailed = errors.New("write failed")
	// ErrUnknownCollection is returned for collection names outside the schema.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrUnknownIndex is returned for index names not declared on a collection.
	ErrUnknownIndex = errors.New("unknown index")
)

// indexes maps collection -> index name -> JSON path. Each entry has a
// matching expression index created by migrations/002_indexes.sql, and
// queries must use the identical json_extract expression to hit it.
var indexes = map[string]map[string]string{
	record.Jobs: {
		"company":     "$.company",
		"status":      "$.status",
		"dateApplied": "$.dateApplied",
		"createdAt":   "$.createdAt",
	},
	record.Resumes: {
		"name":      "$.name",
		"createdAt": "$.createdAt",
		"updatedAt": "$.updatedAt",
	},
	record.Letters: {
		"jobId":     "$.jobId",
		"createdAt": "$.createdAt",
	},
}

// Opener opens the underlying database handle for a DSN.
type Opener func(ctx context.Context, dsn string) (*sql.DB, error)

// Option configures a Store.
type Option func(*Store)

// WithOpener replaces the function used to open the database.
func WithOpener(o Opener) Option {
	return func(s *Store) { s.opener = o }
}

// WithLogger sets the logger used for warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is the transactional object store: five JSON document collections
// in SQLite with secondary expression indexes.
type Store struct {
	dataDir string
	opener  Opener
	logger  *slog.Logger

	group singleflight.Group

	mu sync.RWMutex
	db *sql.DB

	// one write lock per collection; writes to a collection serialize in
	// submission order while other collections are unaffected.
	writeLocks map[string]*sync.Mutex
}

// New returns an unopened Store rooted at dataDir. Pass ":memory:" for an
// in-memory database (used by tests). The database is opened lazily by
// Open or by the first operation.
func New(dataDir string, opts ...Option) *Store {
	s := &Store{
		dataDir:    dataDir,
		opener:     openSQLite,
		logger:     slog.Default(),
		writeLocks: make(map[string]*sync.Mutex, len(record.Collections)),
	}
	for _, c := range record.Collections {
		s.writeLocks[c] = &sync.Mutex{}
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open creates a Store in dataDir and opens it immediately.
func Open(dataDir string, opts ...Option) (*Store, error) {
	s := New(dataDir, opts...)
	if err := s.Open(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Open opens the database and brings the schema to the current version.
// It is idempotent; concurrent callers share one in-flight open. When ctx
// ends first the caller stops waiting but the open continues for the others.
func (s *Store) Open(ctx context.Context) error {
	if s.handle() != nil {
		return nil
	}

	ch := s.group.DoChan("open", func() (any, error) {
		if db := s.handle(); db != nil {
			return db, nil
		}
		db, err := s.openDB(context.WithoutCancel(ctx))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		s.mu.Lock()
		s.db = db
		s.mu.Unlock()
		return db, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, ctx.Err())
	}
}

// Close closes the underlying database connection. A later operation
// reopens it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) handle() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

func (s *Store) conn(ctx context.Context) (*sql.DB, error) {
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	db := s.handle()
	if db == nil {
		return nil, fmt.Errorf("%w: store closed", ErrStorageUnavailable)
	}
	return db, nil
}

func (s *Store) openDB(ctx context.Context) (*sql.DB, error) {
	var dsn string
	if s.dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(s.dataDir, "jhm.db")
	}

	db, err := s.opener(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

func openSQLite(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	return db, nil
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied schema versions in ascending order.
func (s *Store) AppliedMigrations(ctx context.Context) ([]int, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// SchemaVersion returns the highest applied schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	versions, err := s.AppliedMigrations(ctx)
	if err != nil {
		return 0, err
	}
	if len(versions) == 0 {
		return 0, nil
	}
	return versions[len(versions)-1], nil
}

// --- Generic operations ---

func checkCollection(collection string) error {
	if !record.IsCollection(collection) {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	return nil
}

// Name identifies this backend in logs and status output.
func (s *Store) Name() string { return "object-store" }

// Get returns the record stored under key, or nil when there is none.
func (s *Store) Get(ctx context.Context, collection, key string) (record.Record, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var data string
	err = db.QueryRowContext(ctx, fmt.Sprintf("SELECT data FROM %s WHERE pk = ?", collection), key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", collection, key, err)
	}
	rec, err := record.Decode([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("decoding %s/%s: %w", collection, key, err)
	}
	return rec, nil
}

// GetAll returns every record in a collection in insertion order. The
// result is never nil.
func (s *Store) GetAll(ctx context.Context, collection string) ([]record.Record, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	return s.query(ctx, collection, fmt.Sprintf("SELECT data FROM %s ORDER BY rowid ASC", collection))
}

// GetByIndex returns the records whose indexed field equals value.
func (s *Store) GetByIndex(ctx context.Context, collection, index string, value any) ([]record.Record, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	path, ok := indexes[collection][index]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownIndex, index, collection)
	}
	q := fmt.Sprintf("SELECT data FROM %s WHERE json_extract(data, '%s') = ? ORDER BY rowid ASC", collection, path)
	return s.query(ctx, collection, q, value)
}

func (s *Store) query(ctx context.Context, collection, q string, args ...any) ([]record.Record, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}
	defer rows.Close()

	results := []record.Record{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		rec, err := record.Decode([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("decoding %s row: %w", collection, err)
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// Put upserts rec by its primary key and returns the key.
func (s *Store) Put(ctx context.Context, collection string, rec record.Record) (string, error) {
	if err := checkCollection(collection); err != nil {
		return "", err
	}
	if err := record.Validate(collection, rec); err != nil {
		return "", err
	}
	key := rec.Key(collection)
	if key == "" {
		return "", fmt.Errorf("%w: %s record has no %s", record.ErrRecordInvalid, collection, record.KeyPath(collection))
	}
	if _, err := json.Marshal(rec); err != nil {
		return "", fmt.Errorf("%w: %v", record.ErrRecordInvalid, err)
	}

	err := s.write(ctx, collection, func(tx *sql.Tx) error {
		// createdAt belongs to the first write; the stored value wins.
		var created sql.NullString
		err := tx.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT json_extract(data, '$.createdAt') FROM %s WHERE pk = ?`, collection), key,
		).Scan(&created)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if created.Valid && created.String != "" {
			rec["createdAt"] = created.String
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s (pk, data) VALUES (?, ?)
			ON CONFLICT(pk) DO UPDATE SET data = excluded.data`, collection),
			key, string(data),
		)
		return err
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// Delete removes one record. Deleting a missing key succeeds.
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	if err := checkCollection(collection); err != nil {
		return err
	}
	return s.write(ctx, collection, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE pk = ?", collection), key)
		return err
	})
}

// Clear removes every record in a collection.
func (s *Store) Clear(ctx context.Context, collection string) error {
	if err := checkCollection(collection); err != nil {
		return err
	}
	return s.write(ctx, collection, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", collection))
		return err
	})
}

// Count returns the number of records in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	if err := checkCollection(collection); err != nil {
		return 0, err
	}
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", collection)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", collection, err)
	}
	return n, nil
}

// write runs fn in a transaction scoped to one collection. Any failure after
// the store is open is reported as ErrWriteFailed.
func (s *Store) write(ctx context.Context, collection string, fn func(tx *sql.Tx) error) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	lock := s.writeLocks[collection]
	lock.Lock()
	defer lock.Unlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: beginning transaction: %v", ErrWriteFailed, collection, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, collection, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %s: committing: %v", ErrWriteFailed, collection, err)
	}
	return nil
}
