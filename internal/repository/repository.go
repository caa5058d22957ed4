// Package repository provides the SQL-backed model artifact registry.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/ethscore/internal/domain"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrAlreadyExists = errors.New("record already exists")
)

// SQLRepository implements domain.ArtifactRepository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration and applies migrations.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return newWithDB(db, cfg)
}

func newWithDB(db *sql.DB, cfg domain.RepositoryConfig) (*SQLRepository, error) {
	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := migrate(context.Background(), db, cfg.Driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// SaveArtifact stores a new artifact version. Versions are immutable:
// saving an existing (name, version) pair returns ErrAlreadyExists.
func (r *SQLRepository) SaveArtifact(ctx context.Context, a *domain.Artifact) error {
	switch {
	case a == nil:
		return fmt.Errorf("%w: artifact is required", ErrInvalidInput)
	case a.Name == "" || a.Version == "":
		return fmt.Errorf("%w: name and version are required", ErrInvalidInput)
	case a.Format == "":
		return fmt.Errorf("%w: format is required", ErrInvalidInput)
	case len(a.Payload) == 0:
		return fmt.Errorf("%w: payload is empty", ErrInvalidInput)
	}

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		r.rebind(`SELECT COUNT(*) FROM model_artifacts WHERE name = ? AND version = ?`),
		a.Name, a.Version,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s@%s", ErrAlreadyExists, a.Name, a.Version)
	}

	query := `
		INSERT INTO model_artifacts (name, version, format, payload, sha256, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	if _, err := tx.ExecContext(ctx, r.rebind(query),
		a.Name, a.Version, a.Format, string(a.Payload), a.SHA256, a.CreatedAt,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// GetArtifact retrieves a specific artifact version.
func (r *SQLRepository) GetArtifact(ctx context.Context, name, version string) (*domain.Artifact, error) {
	query := `
		SELECT name, version, format, payload, sha256, created_at
		FROM model_artifacts
		WHERE name = ? AND version = ?
	`
	return r.scanOne(r.db.QueryRowContext(ctx, r.rebind(query), name, version))
}

// LatestArtifact retrieves the most recently created version.
func (r *SQLRepository) LatestArtifact(ctx context.Context, name string) (*domain.Artifact, error) {
	query := `
		SELECT name, version, format, payload, sha256, created_at
		FROM model_artifacts
		WHERE name = ?
		ORDER BY created_at DESC, version DESC
		LIMIT 1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, r.rebind(query), name))
}

// ListArtifacts lists versions newest first. Payloads are not loaded.
// An empty name lists every artifact.
func (r *SQLRepository) ListArtifacts(ctx context.Context, name string) ([]*domain.Artifact, error) {
	query := `
		SELECT name, version, format, sha256, created_at
		FROM model_artifacts
		WHERE (? = '' OR name = ?)
		ORDER BY name, created_at DESC, version DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), name, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []*domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		if err := rows.Scan(&a.Name, &a.Version, &a.Format, &a.SHA256, &a.CreatedAt); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, &a)
	}

	return artifacts, rows.Err()
}

func (r *SQLRepository) scanOne(row *sql.Row) (*domain.Artifact, error) {
	var a domain.Artifact
	var payload string

	err := row.Scan(&a.Name, &a.Version, &a.Format, &payload, &a.SHA256, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.Payload = []byte(payload)
	return &a, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
