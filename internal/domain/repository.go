package domain

import (
	"context"
	"time"
)

// ArtifactRepository persists versioned model artifacts.
type ArtifactRepository interface {
	// SaveArtifact stores a new artifact version.
	SaveArtifact(ctx context.Context, artifact *Artifact) error

	// GetArtifact retrieves a specific artifact version.
	GetArtifact(ctx context.Context, name, version string) (*Artifact, error)

	// LatestArtifact retrieves the most recently created version of an artifact.
	LatestArtifact(ctx context.Context, name string) (*Artifact, error)

	// ListArtifacts lists versions of an artifact without payloads, newest first.
	ListArtifacts(ctx context.Context, name string) ([]*Artifact, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
