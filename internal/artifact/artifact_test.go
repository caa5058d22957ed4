package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/ethscore/internal/domain"
	"github.com/opensource-finance/ethscore/internal/model"
	"github.com/opensource-finance/ethscore/internal/repository"
)

const celArtifact = `{"expression": "has_activity == 1.0 && total_tx_sent > 20.0 ? 0.9 : 0.1"}`

func writeArtifact(t *testing.T, payload string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trained_model.json")
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))
	return path
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Fetch", func(t *testing.T) {
		path := writeArtifact(t, celArtifact)
		store := NewFileStore(domain.ModelConfig{Path: path, Name: "rules", Version: "v7"})

		a, err := store.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, "rules", a.Name)
		assert.Equal(t, "v7", a.Version)
		assert.Equal(t, celArtifact, string(a.Payload))
		assert.Equal(t, model.Digest([]byte(celArtifact)), a.SHA256)
		assert.NoError(t, store.Close())
	})

	t.Run("VersionFromModTime", func(t *testing.T) {
		path := writeArtifact(t, celArtifact)
		mtime := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
		require.NoError(t, os.Chtimes(path, mtime, mtime))

		a, err := NewFileStore(domain.ModelConfig{Path: path}).Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, "2026-02-03T04:05:06Z", a.Version)
	})

	t.Run("MissingFile", func(t *testing.T) {
		store := NewFileStore(domain.ModelConfig{Path: filepath.Join(t.TempDir(), "absent.json")})
		_, err := store.Fetch(ctx)
		assert.True(t, errors.Is(err, os.ErrNotExist), "expected not-exist error, got %v", err)
	})
}

func TestSQLStore(t *testing.T) {
	ctx := context.Background()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "registry.db"),
	})
	require.NoError(t, err)
	defer repo.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range []string{"v1", "v2"} {
		require.NoError(t, repo.SaveArtifact(ctx, &domain.Artifact{
			Name:      "rules",
			Version:   v,
			Format:    domain.FormatCEL,
			Payload:   []byte(celArtifact),
			SHA256:    model.Digest([]byte(celArtifact)),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	t.Run("Latest", func(t *testing.T) {
		a, err := NewSQLStore(repo, "rules", "").Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, "v2", a.Version)
	})

	t.Run("Pinned", func(t *testing.T) {
		a, err := NewSQLStore(repo, "rules", "v1").Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, "v1", a.Version)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := NewSQLStore(repo, "rules", "v9").Fetch(ctx)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("ChecksumMismatch", func(t *testing.T) {
		require.NoError(t, repo.SaveArtifact(ctx, &domain.Artifact{
			Name:    "tampered",
			Version: "v1",
			Format:  domain.FormatCEL,
			Payload: []byte(celArtifact),
			SHA256:  "0000",
		}))

		_, err := NewSQLStore(repo, "tampered", "v1").Fetch(ctx)
		assert.ErrorContains(t, err, "checksum mismatch")
	})

	t.Run("LoadModel", func(t *testing.T) {
		m, err := LoadModel(ctx, NewSQLStore(repo, "rules", ""))
		require.NoError(t, err)

		info := m.Info()
		assert.Equal(t, "rules", info.Name)
		assert.Equal(t, "v2", info.Version)
		assert.Equal(t, domain.FormatCEL, info.Format)
	})
}

func TestNew(t *testing.T) {
	t.Run("File", func(t *testing.T) {
		cfg := domain.DefaultConfig()
		store, err := New(cfg, nil)
		require.NoError(t, err)
		assert.IsType(t, &FileStore{}, store)
	})

	t.Run("SQLRequiresRepository", func(t *testing.T) {
		cfg := domain.DefaultConfig()
		cfg.Model.Source = domain.SourceSQL
		_, err := New(cfg, nil)
		assert.Error(t, err)
	})

	t.Run("Unsupported", func(t *testing.T) {
		cfg := domain.DefaultConfig()
		cfg.Model.Source = "s3"
		_, err := New(cfg, nil)
		assert.Error(t, err)
	})
}

func TestLoadModelFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("FetchError", func(t *testing.T) {
		store := NewFileStore(domain.ModelConfig{Path: filepath.Join(t.TempDir(), "absent.json")})
		_, err := LoadModel(ctx, store)
		assert.ErrorContains(t, err, "failed to fetch model artifact")
	})

	t.Run("UnsupportedPayload", func(t *testing.T) {
		store := NewFileStore(domain.ModelConfig{Path: writeArtifact(t, `{"coef": [1, 2, 3]}`)})
		_, err := LoadModel(ctx, store)
		assert.ErrorIs(t, err, model.ErrUnsupportedFormat)
	})
}
