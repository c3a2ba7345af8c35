package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	s3err "github.com/boxdrive/boxdrive/internal/errors"
	"github.com/boxdrive/boxdrive/internal/listing"
	"github.com/boxdrive/boxdrive/internal/store"
)

// sqliteTimeFormat is the ISO 8601 format used for all timestamps in SQLite.
const sqliteTimeFormat = "2006-01-02T15:04:05.000Z"

// SQLiteStore is the SQLite-backed ObjectStore. Payloads and metadata live
// in a single database file, giving durable, ACID single-node storage.
// Ordered key enumeration comes from the primary key index; page production
// is delegated to the listing engine.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dsn and initializes the
// schema.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite database: %w", err)
	}
	return s, nil
}

// initDB applies PRAGMAs and creates the schema. Idempotent via IF NOT EXISTS.
func (s *SQLiteStore) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS buckets (
			name       TEXT PRIMARY KEY,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS objects (
			bucket        TEXT NOT NULL,
			key           TEXT NOT NULL,
			data          BLOB NOT NULL,
			size          INTEGER NOT NULL,
			etag          TEXT NOT NULL,
			content_type  TEXT NOT NULL DEFAULT 'application/octet-stream',
			last_modified TEXT NOT NULL,

			PRIMARY KEY (bucket, key),
			FOREIGN KEY (bucket) REFERENCES buckets(name)
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// bucketExists reports whether the named bucket has a row.
func (s *SQLiteStore) bucketExists(ctx context.Context, bucket string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM buckets WHERE name = ?`, bucket).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking bucket %q: %w", bucket, err)
	}
	return true, nil
}

func (s *SQLiteStore) requireBucket(ctx context.Context, bucket string) error {
	ok, err := s.bucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if !ok {
		return s3err.ErrNoSuchBucket
	}
	return nil
}

// ListBuckets returns all buckets ordered by name.
func (s *SQLiteStore) ListBuckets(ctx context.Context) ([]store.BucketInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, created_at FROM buckets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying buckets: %w", err)
	}
	defer rows.Close()

	var infos []store.BucketInfo
	for rows.Next() {
		var name, createdAt string
		if err := rows.Scan(&name, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning bucket row: %w", err)
		}
		created, err := time.Parse(sqliteTimeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for bucket %q: %w", name, err)
		}
		infos = append(infos, store.BucketInfo{Name: name, CreatedAt: created})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bucket rows: %w", err)
	}
	return infos, nil
}

// CreateBucket inserts a bucket row.
func (s *SQLiteStore) CreateBucket(ctx context.Context, bucket string) error {
	exists, err := s.bucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return s3err.ErrBucketAlreadyExists
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO buckets (name, created_at) VALUES (?, ?)`,
		bucket, time.Now().UTC().Format(sqliteTimeFormat),
	)
	if err != nil {
		// A concurrent create may have won the race on the primary key.
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return s3err.ErrBucketAlreadyExists
		}
		return fmt.Errorf("inserting bucket %q: %w", bucket, err)
	}
	return nil
}

// HeadBucket returns the metadata for the named bucket.
func (s *SQLiteStore) HeadBucket(ctx context.Context, bucket string) (*store.BucketInfo, error) {
	var createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT created_at FROM buckets WHERE name = ?`, bucket).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s3err.ErrNoSuchBucket
	}
	if err != nil {
		return nil, fmt.Errorf("querying bucket %q: %w", bucket, err)
	}
	created, err := time.Parse(sqliteTimeFormat, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at for bucket %q: %w", bucket, err)
	}
	return &store.BucketInfo{Name: bucket, CreatedAt: created}, nil
}

// DeleteBucket removes the bucket row if no objects reference it.
func (s *SQLiteStore) DeleteBucket(ctx context.Context, bucket string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM buckets WHERE name = ?`, bucket).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return s3err.ErrNoSuchBucket
	}
	if err != nil {
		return fmt.Errorf("checking bucket %q: %w", bucket, err)
	}

	err = tx.QueryRowContext(ctx, `SELECT 1 FROM objects WHERE bucket = ? LIMIT 1`, bucket).Scan(&one)
	if err == nil {
		return s3err.ErrBucketNotEmpty
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("checking bucket contents: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM buckets WHERE name = ?`, bucket); err != nil {
		return fmt.Errorf("deleting bucket %q: %w", bucket, err)
	}
	return tx.Commit()
}

// PutObject upserts the object row and returns its ETag.
func (s *SQLiteStore) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	if err := s.requireBucket(ctx, bucket); err != nil {
		return "", err
	}

	if contentType == "" {
		contentType = store.DefaultContentType
	}
	etag := computeETag(data)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO objects (bucket, key, data, size, etag, content_type, last_modified)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (bucket, key) DO UPDATE SET
			data = excluded.data,
			size = excluded.size,
			etag = excluded.etag,
			content_type = excluded.content_type,
			last_modified = excluded.last_modified`,
		bucket, key, data, int64(len(data)), etag, contentType,
		time.Now().UTC().Format(sqliteTimeFormat),
	)
	if err != nil {
		return "", fmt.Errorf("upserting object %q/%q: %w", bucket, key, err)
	}
	return etag, nil
}

// GetObject returns the payload and metadata of an object.
func (s *SQLiteStore) GetObject(ctx context.Context, bucket, key string) (*store.Object, error) {
	if err := s.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}

	var (
		data         []byte
		size         int64
		etag         string
		contentType  string
		lastModified string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, size, etag, content_type, last_modified FROM objects WHERE bucket = ? AND key = ?`,
		bucket, key,
	).Scan(&data, &size, &etag, &contentType, &lastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s3err.ErrNoSuchKey
	}
	if err != nil {
		return nil, fmt.Errorf("querying object %q/%q: %w", bucket, key, err)
	}

	modified, err := time.Parse(sqliteTimeFormat, lastModified)
	if err != nil {
		return nil, fmt.Errorf("parsing last_modified for %q/%q: %w", bucket, key, err)
	}
	return &store.Object{
		Info: store.ObjectInfo{
			Key:          key,
			Size:         size,
			ETag:         etag,
			ContentType:  contentType,
			LastModified: modified,
		},
		Data: data,
	}, nil
}

// HeadObject returns the metadata of an object without loading its payload.
func (s *SQLiteStore) HeadObject(ctx context.Context, bucket, key string) (*store.ObjectInfo, error) {
	if err := s.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}

	var (
		size         int64
		etag         string
		contentType  string
		lastModified string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT size, etag, content_type, last_modified FROM objects WHERE bucket = ? AND key = ?`,
		bucket, key,
	).Scan(&size, &etag, &contentType, &lastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s3err.ErrNoSuchKey
	}
	if err != nil {
		return nil, fmt.Errorf("querying object %q/%q: %w", bucket, key, err)
	}

	modified, err := time.Parse(sqliteTimeFormat, lastModified)
	if err != nil {
		return nil, fmt.Errorf("parsing last_modified for %q/%q: %w", bucket, key, err)
	}
	return &store.ObjectInfo{
		Key:          key,
		Size:         size,
		ETag:         etag,
		ContentType:  contentType,
		LastModified: modified,
	}, nil
}

// DeleteObject removes an object row. Deleting an absent key is not an error.
func (s *SQLiteStore) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := s.requireBucket(ctx, bucket); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE bucket = ? AND key = ?`, bucket, key)
	if err != nil {
		return fmt.Errorf("deleting object %q/%q: %w", bucket, key, err)
	}
	return nil
}

// ListObjects produces one v1 page from an ordered metadata query.
func (s *SQLiteStore) ListObjects(ctx context.Context, bucket string, opts store.ListOptions) (*store.Page, error) {
	infos, err := s.snapshot(ctx, bucket, opts.Prefix)
	if err != nil {
		return nil, err
	}
	return listing.List(infos, opts)
}

// ListObjectsV2 produces one v2 page from an ordered metadata query.
func (s *SQLiteStore) ListObjectsV2(ctx context.Context, bucket string, opts store.ListOptionsV2) (*store.Page, error) {
	infos, err := s.snapshot(ctx, bucket, opts.Prefix)
	if err != nil {
		return nil, err
	}
	return listing.ListV2(infos, opts)
}

// snapshot queries the bucket's object metadata in key order, prefix-filtered
// in SQL so the index does the narrowing. Payloads are never loaded.
func (s *SQLiteStore) snapshot(ctx context.Context, bucket, prefix string) ([]store.ObjectInfo, error) {
	if err := s.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}

	query := `SELECT key, size, etag, content_type, last_modified FROM objects WHERE bucket = ?`
	args := []interface{}{bucket}
	if prefix != "" {
		query += ` AND key LIKE ? || '%' ESCAPE '\'`
		args = append(args, escapeLikePattern(prefix))
	}
	query += ` ORDER BY key`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying objects in %q: %w", bucket, err)
	}
	defer rows.Close()

	var infos []store.ObjectInfo
	for rows.Next() {
		var (
			key          string
			size         int64
			etag         string
			contentType  string
			lastModified string
		)
		if err := rows.Scan(&key, &size, &etag, &contentType, &lastModified); err != nil {
			return nil, fmt.Errorf("scanning object row: %w", err)
		}
		modified, err := time.Parse(sqliteTimeFormat, lastModified)
		if err != nil {
			return nil, fmt.Errorf("parsing last_modified for %q/%q: %w", bucket, key, err)
		}
		infos = append(infos, store.ObjectInfo{
			Key:          key,
			Size:         size,
			ETag:         etag,
			ContentType:  contentType,
			LastModified: modified,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating object rows: %w", err)
	}
	return infos, nil
}

// HealthCheck verifies the database connection.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// escapeLikePattern escapes special LIKE characters (%, _) using backslash.
// The caller must append ESCAPE '\' to the LIKE clause.
func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

var _ store.ObjectStore = (*SQLiteStore)(nil)
