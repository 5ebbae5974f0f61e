// Package config loads the flat key=value tunables cmd/flowstore-server
// reads at startup: worker-pool sizes, queue depth, CPU topology, data
// paths, and bind addresses. The CASCADE/-prefixed names are the
// recognized deployment options; the engine.num_* names are flat aliases
// of the CASCADE worker-count options for hand-written single-node config
// files, engine.action_buffer_size sets the queue depth, and
// affinity.<pool>.<worker> entries fill the separate CPUAffinity map.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the parsed set of tunables, with defaults matching
// engine.DefaultResourceDescriptor and a single-node loopback deployment.
type Config struct {
	DataDir string

	NumStatefulWorkersMulticast  int
	NumStatelessWorkersMulticast int
	NumStatefulWorkersP2P        int
	NumStatelessWorkersP2P       int
	ActionBufferSize             int

	RaftBindAddr string
	RPCBindAddr  string

	// CPUCores lists the cores available to the worker pools, from
	// "CASCADE/cpu_cores" (comma-separated core numbers).
	CPUCores []int

	// WorkerCPUAffinity maps a worker index to a CPU core, from
	// "CASCADE/worker_cpu_affinity" entries of the form
	// "<worker>:<core>[,<worker>:<core>...]".
	WorkerCPUAffinity map[int]int

	// TimestampTagEnabler lists the numeric event tags whose timestamps
	// are recorded, from "CASCADE/timestamp_tag_enabler".
	TimestampTagEnabler []uint64

	// CPUAffinity maps "<pool>.<worker>" to a CPU core, parsed from
	// entries of the form "affinity.<pool>.<worker>=<core>".
	CPUAffinity map[string]int
}

// Default returns the single-node defaults.
func Default() Config {
	return Config{
		DataDir:                      "./data",
		NumStatefulWorkersMulticast:  4,
		NumStatelessWorkersMulticast: 4,
		NumStatefulWorkersP2P:        4,
		NumStatelessWorkersP2P:       4,
		ActionBufferSize:             8192,
		RaftBindAddr:                 "127.0.0.1:7400",
		RPCBindAddr:                  "127.0.0.1:7401",
		WorkerCPUAffinity:            make(map[int]int),
		CPUAffinity:                  make(map[string]int),
	}
}

// Load reads path, a flat file of "key = value" lines (blank lines and
// lines starting with # are ignored), applying recognized keys on top of
// Default().
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return cfg, fmt.Errorf("config: %s:%d: expected key=value, got %q", path, lineNo, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if err := cfg.set(key, value); err != nil {
			return cfg, fmt.Errorf("config: %s:%d: %w", path, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) set(key, value string) error {
	switch {
	case key == "data_dir":
		c.DataDir = value
	case key == "raft_bind_addr":
		c.RaftBindAddr = value
	case key == "rpc_bind_addr":
		c.RPCBindAddr = value
	case key == "CASCADE/num_stateful_workers_for_multicast_ocdp",
		key == "engine.num_stateful_workers_multicast":
		return c.setInt(&c.NumStatefulWorkersMulticast, value)
	case key == "CASCADE/num_stateless_workers_for_multicast_ocdp",
		key == "engine.num_stateless_workers_multicast":
		return c.setInt(&c.NumStatelessWorkersMulticast, value)
	case key == "CASCADE/num_stateful_workers_for_p2p_ocdp",
		key == "engine.num_stateful_workers_p2p":
		return c.setInt(&c.NumStatefulWorkersP2P, value)
	case key == "CASCADE/num_stateless_workers_for_p2p_ocdp",
		key == "engine.num_stateless_workers_p2p":
		return c.setInt(&c.NumStatelessWorkersP2P, value)
	case key == "engine.action_buffer_size":
		return c.setInt(&c.ActionBufferSize, value)
	case key == "CASCADE/cpu_cores":
		cores, err := splitInts(value)
		if err != nil {
			return fmt.Errorf("cpu_cores %q: %w", value, err)
		}
		c.CPUCores = cores
	case key == "CASCADE/worker_cpu_affinity":
		affinity, err := splitPairs(value)
		if err != nil {
			return fmt.Errorf("worker_cpu_affinity %q: %w", value, err)
		}
		c.WorkerCPUAffinity = affinity
	case key == "CASCADE/timestamp_tag_enabler":
		tags, err := splitInts(value)
		if err != nil {
			return fmt.Errorf("timestamp_tag_enabler %q: %w", value, err)
		}
		c.TimestampTagEnabler = c.TimestampTagEnabler[:0]
		for _, t := range tags {
			c.TimestampTagEnabler = append(c.TimestampTagEnabler, uint64(t))
		}
	case strings.HasPrefix(key, "affinity."):
		core, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("affinity value %q: %w", value, err)
		}
		c.CPUAffinity[strings.TrimPrefix(key, "affinity.")] = core
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

func (c *Config) setInt(dst *int, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("value %q: %w", value, err)
	}
	*dst = n
	return nil
}

func splitInts(value string) ([]int, error) {
	if value == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(value, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func splitPairs(value string) (map[int]int, error) {
	out := make(map[int]int)
	if value == "" {
		return out, nil
	}
	for _, part := range strings.Split(value, ",") {
		worker, core, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("expected <worker>:<core>, got %q", part)
		}
		w, err := strconv.Atoi(worker)
		if err != nil {
			return nil, err
		}
		c, err := strconv.Atoi(core)
		if err != nil {
			return nil, err
		}
		out[w] = c
	}
	return out, nil
}
