package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Mindburn-Labs/warden/pkg/manifest"
)

// PostgresRegistry implements Registry with SQL persistence, one row
// per (tenant, extension).
type PostgresRegistry struct {
	db *sql.DB
}

func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

// OpenPostgres opens a connection pool for the given DSN.
func OpenPostgres(dsn string) (*sql.DB, error) {
	return sql.Open("postgres", dsn)
}

const pgRegistrySchema = `
CREATE TABLE IF NOT EXISTS extension_records (
	tenant_id TEXT NOT NULL,
	extension_id TEXT NOT NULL,
	version TEXT NOT NULL,
	status TEXT NOT NULL,
	bundle_hash TEXT NOT NULL,
	manifest_json JSONB NOT NULL,
	granted_json JSONB NOT NULL,
	installed_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, extension_id)
);

CREATE INDEX IF NOT EXISTS idx_extension_records_status
	ON extension_records (tenant_id, status);
`

// Init creates the schema if it does not exist.
func (r *PostgresRegistry) Init(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, pgRegistrySchema)
	return err
}

func (r *PostgresRegistry) Put(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	manifestJSON, err := json.Marshal(rec.Manifest)
	if err != nil {
		return fmt.Errorf("registry: marshal manifest: %w", err)
	}
	grantedJSON, err := json.Marshal(sortedPermissions(rec.Granted))
	if err != nil {
		return fmt.Errorf("registry: marshal grants: %w", err)
	}

	now := time.Now().UTC()
	installedAt := rec.InstalledAt
	if installedAt.IsZero() {
		installedAt = now
	}

	// An existing row keeps its installed_at; everything else is replaced.
	query := `
		INSERT INTO extension_records
			(tenant_id, extension_id, version, status, bundle_hash, manifest_json, granted_json, installed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, extension_id) DO UPDATE SET
			version = EXCLUDED.version,
			status = EXCLUDED.status,
			bundle_hash = EXCLUDED.bundle_hash,
			manifest_json = EXCLUDED.manifest_json,
			granted_json = EXCLUDED.granted_json,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		rec.TenantID, rec.Manifest.ID, rec.Manifest.Version, rec.Status, rec.BundleHash,
		manifestJSON, grantedJSON, installedAt, now)
	if err != nil {
		return fmt.Errorf("registry: persist record: %w", err)
	}
	return nil
}

const pgRecordColumns = `tenant_id, status, bundle_hash, manifest_json, granted_json, installed_at, updated_at`

func (r *PostgresRegistry) Get(ctx context.Context, tenantID, extensionID string) (Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+pgRecordColumns+` FROM extension_records WHERE tenant_id = $1 AND extension_id = $2`,
		tenantID, extensionID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("registry: load record: %w", err)
	}
	return rec, nil
}

func (r *PostgresRegistry) List(ctx context.Context, tenantID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+pgRecordColumns+` FROM extension_records WHERE tenant_id = $1 ORDER BY extension_id`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("registry: list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("registry: scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: list records: %w", err)
	}
	return out, nil
}

func (r *PostgresRegistry) SetStatus(ctx context.Context, tenantID, extensionID, status string) error {
	if status == "" {
		return fmt.Errorf("registry: status is required")
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE extension_records SET status = $3, updated_at = $4 WHERE tenant_id = $1 AND extension_id = $2`,
		tenantID, extensionID, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("registry: update status: %w", err)
	}
	return requireRow(res)
}

func (r *PostgresRegistry) Delete(ctx context.Context, tenantID, extensionID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM extension_records WHERE tenant_id = $1 AND extension_id = $2`,
		tenantID, extensionID)
	if err != nil {
		return fmt.Errorf("registry: delete record: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("registry: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner is the shared subset of *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		rec          Record
		manifestJSON []byte
		grantedJSON  []byte
	)
	if err := s.Scan(&rec.TenantID, &rec.Status, &rec.BundleHash,
		&manifestJSON, &grantedJSON, &rec.InstalledAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal(manifestJSON, &rec.Manifest); err != nil {
		return Record{}, fmt.Errorf("decode manifest: %w", err)
	}
	if len(grantedJSON) > 0 {
		var granted []manifest.Permission
		if err := json.Unmarshal(grantedJSON, &granted); err != nil {
			return Record{}, fmt.Errorf("decode grants: %w", err)
		}
		rec.Granted = granted
	}
	return rec, nil
}
