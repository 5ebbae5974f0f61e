package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowstore.conf")
	content := `# comment
data_dir = /var/lib/flowstore

engine.num_stateful_workers_multicast = 8
affinity.multicast_stateful.0 = 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/flowstore", cfg.DataDir)
	assert.Equal(t, 8, cfg.NumStatefulWorkersMulticast)
	assert.Equal(t, 4, cfg.NumStatelessWorkersMulticast)
	assert.Equal(t, 3, cfg.CPUAffinity["multicast_stateful.0"])
}

func TestLoadCascadeOptionNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowstore.conf")
	content := `CASCADE/num_stateless_workers_for_multicast_ocdp = 6
CASCADE/num_stateful_workers_for_p2p_ocdp = 2
CASCADE/cpu_cores = 0, 1, 2, 3
CASCADE/worker_cpu_affinity = 0:2, 1:3
CASCADE/timestamp_tag_enabler = 1001,2002
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.NumStatelessWorkersMulticast)
	assert.Equal(t, 2, cfg.NumStatefulWorkersP2P)
	assert.Equal(t, []int{0, 1, 2, 3}, cfg.CPUCores)
	assert.Equal(t, map[int]int{0: 2, 1: 3}, cfg.WorkerCPUAffinity)
	assert.Equal(t, []uint64{1001, 2002}, cfg.TimestampTagEnabler)
}

func TestLoadRejectsMalformedAffinityPair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowstore.conf")
	require.NoError(t, os.WriteFile(path, []byte("CASCADE/worker_cpu_affinity = 0-2\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowstore.conf")
	require.NoError(t, os.WriteFile(path, []byte("bogus = 1\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowstore.conf")
	require.NoError(t, os.WriteFile(path, []byte("not-a-kv-line\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
