package dfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGraph(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dfgs.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadParsesVerticesAndDestinations(t *testing.T) {
	path := writeGraph(t, `{
		"vertices": [
			{
				"pathname": "/pool/a/",
				"udl_list": [
					{
						"udl_id": "upper-1",
						"shard_dispatcher": "one",
						"execution_environment": "thread",
						"statefulness": "stateful",
						"hook": "ordered_put",
						"destinations": {"/pool/b/": false, "/pool/c/": true}
					}
				]
			}
		]
	}`)

	g, err := Load(path)
	require.NoError(t, err)
	require.Len(t, g.Vertices, 1)
	v := g.Vertices[0]
	assert.Equal(t, "/pool/a/", v.Pathname)
	require.Len(t, v.UDLs, 1)
	assert.Equal(t, "upper-1", v.UDLs[0].UDLID)
	assert.False(t, v.UDLs[0].Destinations["/pool/b/"])
	assert.True(t, v.UDLs[0].Destinations["/pool/c/"])
}

func TestLoadRejectsUnsupportedExecutionEnvironment(t *testing.T) {
	path := writeGraph(t, `{
		"vertices": [
			{"pathname": "/pool/a/", "udl_list": [{"udl_id": "x", "execution_environment": "container"}]}
		]
	}`)

	_, err := Load(path)
	assert.Error(t, err)
}
