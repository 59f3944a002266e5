package model

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/fraudscore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreByID(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stumps.json"), []byte(stumpArtifact), 0o644))

	a, err := Load(context.Background(), NewFileStore(dir, ""), "stumps")
	require.NoError(t, err)
	assert.Equal(t, "stumps", a.ID())
	assert.Equal(t, 2, a.NumTrees())
}

func TestFileStorePathWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.json")
	require.NoError(t, os.WriteFile(path, []byte(stumpArtifact), 0o644))

	a, err := Load(context.Background(), NewFileStore("/does/not/exist", path), "ignored")
	require.NoError(t, err)
	assert.Equal(t, "stumps", a.ID())
}

func TestLoadFillsMissingID(t *testing.T) {
	dir := t.TempDir()
	doc := []byte(`{"feature_names": ["x"], "ensemble": {"trees": [{"nodes": [{"left": -1, "right": -1, "value": 0.3, "cover": 1}]}]}}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tiny.json"), doc, 0o644))

	a, err := Load(context.Background(), NewFileStore(dir, ""), "tiny")
	require.NoError(t, err)
	assert.Equal(t, "tiny", a.ID())
	assert.InDelta(t, 0.3, a.ExpectedValue(), 1e-12)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"feature_names": `), 0o644))

	for _, id := range []string{"missing", "broken"} {
		t.Run(id, func(t *testing.T) {
			_, err := Load(context.Background(), NewFileStore(dir, ""), id)
			require.Error(t, err)

			var loadErr *domain.ArtifactLoadError
			require.True(t, errors.As(err, &loadErr))
			assert.Equal(t, id, loadErr.ID)
		})
	}
}

func TestNewStore(t *testing.T) {
	store, err := NewStore(domain.ModelConfig{Store: "file", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)
	assert.NoError(t, store.Close())

	_, err = NewStore(domain.ModelConfig{Store: "s3"})
	assert.Error(t, err)
}

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "fraudscore:model:fraud-model", Key("fraud-model"))
}
