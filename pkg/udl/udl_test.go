package udl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowstore/pkg/engine"
)

func TestRegisterAndBuild(t *testing.T) {
	Register("uppercase-test", func(config map[string]any) (engine.Handler, error) {
		return engine.HandlerFunc(func(a engine.Action, workerID int, emit engine.Emit) {}), nil
	})

	h, err := Build("uppercase-test", nil)
	require.NoError(t, err)
	assert.NotNil(t, h)
}

func TestBuildUnknownKindFails(t *testing.T) {
	_, err := Build("no-such-kind", nil)
	assert.Error(t, err)
}

func TestLoadManifestAndBuildAll(t *testing.T) {
	Register("echo-test", func(config map[string]any) (engine.Handler, error) {
		return engine.HandlerFunc(func(a engine.Action, workerID int, emit engine.Emit) {}), nil
	})

	dir := t.TempDir()
	path := filepath.Join(dir, "udl.yaml")
	content := "udls:\n  - id: echo-1\n    kind: echo-test\n    config:\n      greeting: hi\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, m.UDLs, 1)
	assert.Equal(t, "echo-1", m.UDLs[0].ID)

	handlers, err := BuildAll(m)
	require.NoError(t, err)
	assert.Contains(t, handlers, "echo-1")
}
