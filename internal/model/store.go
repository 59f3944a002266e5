package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/opensource-finance/fraudscore/internal/domain"
)

// Store fetches serialized artifacts by identifier.
type Store interface {
	Fetch(ctx context.Context, id string) ([]byte, error)
	Close() error
}

// NewStore creates an artifact store based on configuration.
func NewStore(cfg domain.ModelConfig) (Store, error) {
	switch cfg.Store {
	case "file", "":
		return NewFileStore(cfg.Dir, cfg.Path), nil

	case "redis":
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported model store: %s", cfg.Store)
	}
}

// Load fetches, decodes and validates the artifact. Any failure is an
// *domain.ArtifactLoadError.
func Load(ctx context.Context, store Store, id string) (*Artifact, error) {
	start := time.Now()

	data, err := store.Fetch(ctx, id)
	if err != nil {
		return nil, &domain.ArtifactLoadError{ID: id, Err: err}
	}

	artifact, err := Parse(data)
	if err != nil {
		return nil, &domain.ArtifactLoadError{ID: id, Err: err}
	}
	if artifact.id == "" {
		artifact.id = id
	}

	slog.Info("model artifact loaded",
		"model_id", artifact.id,
		"features", artifact.NumFeatures(),
		"trees", artifact.NumTrees(),
		"decision", artifact.DecisionPolicy(),
		"load_ms", time.Since(start).Milliseconds(),
	)
	return artifact, nil
}

// FileStore reads artifacts from disk, either a fixed path or <dir>/<id>.json.
type FileStore struct {
	dir  string
	path string
}

// NewFileStore creates a file store. A non-empty path ignores the identifier.
func NewFileStore(dir, path string) *FileStore {
	if dir == "" {
		dir = "./model"
	}
	return &FileStore{dir: dir, path: path}
}

// Fetch reads the artifact file.
func (s *FileStore) Fetch(ctx context.Context, id string) ([]byte, error) {
	path := s.path
	if path == "" {
		if id == "" {
			return nil, errors.New("model id is required")
		}
		path = filepath.Join(s.dir, id+".json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// Close is a no-op for files.
func (s *FileStore) Close() error { return nil }
