package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"spool/internal/identity"
)

// Store manages download record persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore initializes or connects to the download database at dbPath and
// applies migrations.
func OpenStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure state directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Put inserts or replaces a record keyed by its global key.
func (s *Store) Put(ctx context.Context, record Record) error {
	if !record.Key.Valid() {
		return fmt.Errorf("put record: invalid key %q", record.Key)
	}
	if !record.Status.Valid() || record.Status == StatusPartial {
		return fmt.Errorf("put record %s: unsupported status %q", record.Key, record.Status)
	}

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO download_records (
            global_key, transfer_id, status, progress_percent, downloaded_bytes, total_bytes,
            current_file_label, thumb_path, source_url, target_path,
            parent_key, grandparent_key, metadata_json, error_message, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(global_key) DO UPDATE SET
            transfer_id = excluded.transfer_id,
            status = excluded.status,
            progress_percent = excluded.progress_percent,
            downloaded_bytes = excluded.downloaded_bytes,
            total_bytes = excluded.total_bytes,
            current_file_label = excluded.current_file_label,
            thumb_path = excluded.thumb_path,
            source_url = excluded.source_url,
            target_path = excluded.target_path,
            parent_key = excluded.parent_key,
            grandparent_key = excluded.grandparent_key,
            metadata_json = excluded.metadata_json,
            error_message = excluded.error_message,
            updated_at = excluded.updated_at`,
		record.Key.String(),
		record.TransferID,
		record.Status,
		record.ProgressPercent,
		record.DownloadedBytes,
		record.TotalBytes,
		nullableString(record.CurrentFileLabel),
		nullableString(record.ThumbPath),
		nullableString(record.SourceURL),
		nullableString(record.TargetPath),
		nullableKey(record.ParentKey),
		nullableKey(record.GrandparentKey),
		nullableString(record.MetadataJSON),
		nullableString(record.ErrorMessage),
		record.CreatedAt.Format(time.RFC3339Nano),
		record.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", record.Key, err)
	}
	return nil
}

// Get fetches a record by global key. Returns (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, key identity.GlobalKey) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM download_records WHERE global_key = ?`, key.String())
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get record %s: %w", key, err)
	}
	return record, nil
}

// All returns every persisted record ordered by creation time.
func (s *Store) All(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM download_records ORDER BY created_at, global_key`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// Delete removes a record. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key identity.GlobalKey) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM download_records WHERE global_key = ?`, key.String()); err != nil {
		return fmt.Errorf("delete record %s: %w", key, err)
	}
	return nil
}

// RequeueInterrupted moves every record left in Downloading by a prior process
// lifetime back to Queued. Returns the number of records touched.
func (s *Store) RequeueInterrupted(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE download_records SET status = ?, updated_at = ? WHERE status = ?`,
		StatusQueued,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusDownloading,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue interrupted: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue rows affected: %w", err)
	}
	return int(affected), nil
}

const recordColumns = "global_key, transfer_id, status, progress_percent, downloaded_bytes, total_bytes, " +
	"current_file_label, thumb_path, source_url, target_path, parent_key, grandparent_key, " +
	"metadata_json, error_message, created_at, updated_at"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		record         Record
		key            string
		status         string
		fileLabel      sql.NullString
		thumbPath      sql.NullString
		sourceURL      sql.NullString
		targetPath     sql.NullString
		parentKey      sql.NullString
		grandparentKey sql.NullString
		metadataJSON   sql.NullString
		errorMessage   sql.NullString
		createdAt      string
		updatedAt      string
	)

	if err := scanner.Scan(
		&key,
		&record.TransferID,
		&status,
		&record.ProgressPercent,
		&record.DownloadedBytes,
		&record.TotalBytes,
		&fileLabel,
		&thumbPath,
		&sourceURL,
		&targetPath,
		&parentKey,
		&grandparentKey,
		&metadataJSON,
		&errorMessage,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	record.Key = identity.GlobalKey(key)
	parsed, ok := ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("record %s has unknown status %q", key, status)
	}
	record.Status = parsed
	record.CurrentFileLabel = fileLabel.String
	record.ThumbPath = thumbPath.String
	record.SourceURL = sourceURL.String
	record.TargetPath = targetPath.String
	record.MetadataJSON = metadataJSON.String
	record.ErrorMessage = errorMessage.String
	record.ParentKey = optionalKey(parentKey)
	record.GrandparentKey = optionalKey(grandparentKey)

	var err error
	if record.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("record %s created_at: %w", key, err)
	}
	if record.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("record %s updated_at: %w", key, err)
	}
	return &record, nil
}

func parseTimestamp(value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func optionalKey(value sql.NullString) *identity.GlobalKey {
	if !value.Valid || value.String == "" {
		return nil
	}
	key := identity.GlobalKey(value.String)
	if !key.Valid() {
		return nil
	}
	return &key
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableKey(key *identity.GlobalKey) any {
	if key == nil {
		return nil
	}
	return key.String()
}
