// Package dfg loads the data-flow graph (dfgs.json): the vertices that
// bind a pool pathname to the UDLs that should see its mutations, and the
// downstream pathnames (destinations) each UDL may write to.
package dfg

import (
	"encoding/json"
	"fmt"
	"os"
)

// VertexUDL is one UDL attached to a vertex, with its per-vertex
// dispatch configuration (glossary: "vertices {pathname, udl list,
// per-udl {shard dispatcher, execution environment, statefulness, hook,
// config, destinations}}").
type VertexUDL struct {
	UDLID string `json:"udl_id"`

	// ShardDispatcher is "one" or "all".
	ShardDispatcher string `json:"shard_dispatcher"`

	// ExecutionEnvironment selects where a UDL runs. Only in-process
	// "thread" execution exists (engine workers are goroutines); any
	// other value is rejected at load time rather than silently
	// downgraded.
	ExecutionEnvironment string `json:"execution_environment"`

	// Statefulness is "stateful", "stateless", or "singlethreaded".
	Statefulness string `json:"statefulness"`

	// Hook is "ordered_put", "trigger_put", or "both".
	Hook string `json:"hook"`

	Config json.RawMessage `json:"config"`

	// Destinations maps a downstream pathname to true (trigger_put) or
	// false (put) — the edges of the graph.
	Destinations map[string]bool `json:"destinations"`
}

// Vertex binds a pool pathname to the UDLs that run on its mutations.
type Vertex struct {
	Pathname string      `json:"pathname"`
	UDLs     []VertexUDL `json:"udl_list"`
}

// Graph is the top-level dfgs.json shape.
type Graph struct {
	Vertices []Vertex `json:"vertices"`
}

// Load reads and parses a dfgs.json file.
func Load(path string) (*Graph, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dfg: read %s: %w", path, err)
	}
	var g Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("dfg: parse %s: %w", path, err)
	}
	for _, v := range g.Vertices {
		for _, u := range v.UDLs {
			if u.ExecutionEnvironment != "" && u.ExecutionEnvironment != "thread" {
				return nil, fmt.Errorf("dfg: vertex %q udl %q: execution_environment %q is not implemented by this runtime (only \"thread\")", v.Pathname, u.UDLID, u.ExecutionEnvironment)
			}
		}
	}
	return &g, nil
}
