// Package artifact resolves the configured storage location of the
// classifier into a serialized model artifact.
package artifact

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/opensource-finance/ethscore/internal/domain"
	"github.com/opensource-finance/ethscore/internal/model"
)

// New creates the artifact store selected by cfg.Model.Source.
// repo is only required for the sql source.
func New(cfg *domain.Config, repo domain.ArtifactRepository) (domain.ArtifactStore, error) {
	switch cfg.Model.Source {
	case domain.SourceFile, "":
		return NewFileStore(cfg.Model), nil

	case domain.SourceSQL:
		if repo == nil {
			return nil, fmt.Errorf("sql artifact source requires a repository")
		}
		return NewSQLStore(repo, cfg.Model.Name, cfg.Model.Version), nil

	case domain.SourceRedis:
		return NewRedisStore(cfg.Redis, cfg.Model.RedisKey)

	default:
		return nil, fmt.Errorf("unsupported model source: %s", cfg.Model.Source)
	}
}

// LoadModel fetches an artifact and deserializes it into a model handle.
func LoadModel(ctx context.Context, store domain.ArtifactStore) (domain.Model, error) {
	a, err := store.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch model artifact: %w", err)
	}

	m, err := model.Load(a)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s@%s: %w", a.Name, a.Version, err)
	}
	return m, nil
}

// FileStore reads an artifact from the local filesystem.
type FileStore struct {
	path    string
	name    string
	version string
	format  string
}

// NewFileStore creates a file-backed store.
func NewFileStore(cfg domain.ModelConfig) *FileStore {
	return &FileStore{
		path:    cfg.Path,
		name:    cfg.Name,
		version: cfg.Version,
		format:  cfg.Format,
	}
}

// Fetch reads the file. When no version is configured the file's
// modification time is used.
func (s *FileStore) Fetch(ctx context.Context) (*domain.Artifact, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("model artifact %s: %w", s.path, err)
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("model artifact %s: %w", s.path, err)
	}

	version := s.version
	if version == "" {
		version = info.ModTime().UTC().Format(time.RFC3339)
	}

	return &domain.Artifact{
		Name:      s.name,
		Version:   version,
		Format:    s.format,
		Payload:   payload,
		SHA256:    model.Digest(payload),
		CreatedAt: info.ModTime().UTC(),
	}, nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

// SQLStore reads an artifact from the registry.
type SQLStore struct {
	repo    domain.ArtifactRepository
	name    string
	version string
}

// NewSQLStore creates a registry-backed store. An empty version
// resolves to the latest registered version.
func NewSQLStore(repo domain.ArtifactRepository, name, version string) *SQLStore {
	return &SQLStore{repo: repo, name: name, version: version}
}

// Fetch retrieves the pinned or latest version.
func (s *SQLStore) Fetch(ctx context.Context) (*domain.Artifact, error) {
	var (
		a   *domain.Artifact
		err error
	)
	if s.version == "" {
		a, err = s.repo.LatestArtifact(ctx, s.name)
	} else {
		a, err = s.repo.GetArtifact(ctx, s.name, s.version)
	}
	if err != nil {
		return nil, fmt.Errorf("artifact %s@%s: %w", s.name, orLatest(s.version), err)
	}

	if digest := model.Digest(a.Payload); a.SHA256 != "" && a.SHA256 != digest {
		return nil, fmt.Errorf("artifact %s@%s: checksum mismatch (stored %s, computed %s)",
			a.Name, a.Version, a.SHA256, digest)
	}
	return a, nil
}

// Close is a no-op; the repository is owned by the caller.
func (s *SQLStore) Close() error { return nil }

func orLatest(version string) string {
	if version == "" {
		return "latest"
	}
	return version
}
