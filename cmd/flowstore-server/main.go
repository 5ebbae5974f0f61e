// Command flowstore-server runs one replica of a FlowStore deployment:
// one shard of each store variant, the execution engine, the critical
// data-path dispatcher, the persistence observer, the object-pool
// directory, and the RPC transport that lets a remote client facade
// reach them.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"

	"github.com/flowmesh/flowstore/pkg/client"
	"github.com/flowmesh/flowstore/pkg/config"
	"github.com/flowmesh/flowstore/pkg/dfg"
	"github.com/flowmesh/flowstore/pkg/dispatch"
	"github.com/flowmesh/flowstore/pkg/engine"
	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/groupruntime/loopback"
	"github.com/flowmesh/flowstore/pkg/log"
	"github.com/flowmesh/flowstore/pkg/metrics"
	"github.com/flowmesh/flowstore/pkg/persistence"
	"github.com/flowmesh/flowstore/pkg/poolmeta"
	"github.com/flowmesh/flowstore/pkg/rpcapi"
	"github.com/flowmesh/flowstore/pkg/store"
	"github.com/flowmesh/flowstore/pkg/udl"
)

// Subgroup type indices this single-process deployment hosts one shard
// of each of. Each store variant is its own subgroup, so each gets its
// own ordered-delivery sequence and version space. Type 0, subgroup 0
// is reserved for the object-pool directory.
const (
	typeDirectory uint32 = iota
	typeVolatile
	typePersistent
	typeSignature
	typeTrigger
)

var (
	configPath   string
	dfgPath      string
	manifestPath string
	metricsAddr  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flowstore-server",
	Short: "Run one replica of a FlowStore deployment",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a flowstore config file (key=value); defaults applied if empty")
	rootCmd.PersistentFlags().StringVar(&dfgPath, "dfg", "dfgs.json", "path to the data-flow graph")
	rootCmd.PersistentFlags().StringVar(&manifestPath, "udl-manifest", "udls.yaml", "path to the UDL plugin manifest")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:9402", "address to serve /metrics and /healthz on")
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Init(log.Config{Level: log.InfoLevel})

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("flowstore-server: data dir: %w", err)
	}

	rt := loopback.New(1)

	eng := engine.New(engine.ResourceDescriptor{
		CPUCores:                     cfg.CPUCores,
		WorkerCPUAffinity:            cfg.WorkerCPUAffinity,
		NumStatefulWorkersMulticast:  cfg.NumStatefulWorkersMulticast,
		NumStatelessWorkersMulticast: cfg.NumStatelessWorkersMulticast,
		NumStatefulWorkersP2P:        cfg.NumStatefulWorkersP2P,
		NumStatelessWorkersP2P:       cfg.NumStatelessWorkersP2P,
		ActionBufferSize:             cfg.ActionBufferSize,
	})
	defer eng.Shutdown()

	obs := persistence.New(rt, []uint32{typeDirectory, typeVolatile, typePersistent, typeSignature, typeTrigger})
	obs.Start()
	defer obs.Stop()

	poolsDB, err := bolt.Open(filepath.Join(cfg.DataDir, "pools.db"), 0o600, nil)
	if err != nil {
		return fmt.Errorf("flowstore-server: open pools db: %w", err)
	}
	defer poolsDB.Close()
	dirShard := groupruntime.ShardID{SubgroupIndex: typeDirectory, ShardIndex: 0}
	dir, err := poolmeta.Open(dirShard, rt, poolsDB)
	if err != nil {
		return fmt.Errorf("flowstore-server: open directory: %w", err)
	}
	poolCache := poolmeta.NewCache(dir)

	facade := client.New(rt, poolCache).WithDirectory(dir)

	graph, err := dfg.Load(dfgPath)
	if err != nil {
		return fmt.Errorf("flowstore-server: load dfg: %w", err)
	}
	manifest, err := udl.LoadManifest(manifestPath)
	if err != nil {
		return fmt.Errorf("flowstore-server: load udl manifest: %w", err)
	}
	handlers, err := udl.BuildAll(manifest)
	if err != nil {
		return fmt.Errorf("flowstore-server: build udls: %w", err)
	}
	router := client.NewRouter(facade)
	disp, err := dispatch.New(graph, handlers, eng, rt, router)
	if err != nil {
		return fmt.Errorf("flowstore-server: build dispatcher: %w", err)
	}

	volatileShard := groupruntime.ShardID{SubgroupIndex: typeVolatile, ShardIndex: 0}
	persistentShard := groupruntime.ShardID{SubgroupIndex: typePersistent, ShardIndex: 0}
	signatureShard := groupruntime.ShardID{SubgroupIndex: typeSignature, ShardIndex: 0}
	triggerShard := groupruntime.ShardID{SubgroupIndex: typeTrigger, ShardIndex: 0}

	persistentDB, err := bolt.Open(filepath.Join(cfg.DataDir, "persistent.db"), 0o600, nil)
	if err != nil {
		return fmt.Errorf("flowstore-server: open persistent db: %w", err)
	}
	defer persistentDB.Close()
	signatureDB, err := bolt.Open(filepath.Join(cfg.DataDir, "signature.db"), 0o600, nil)
	if err != nil {
		return fmt.Errorf("flowstore-server: open signature db: %w", err)
	}
	defer signatureDB.Close()

	volatileStore := store.NewVolatile(volatileShard, rt, disp)
	persistentStore, err := store.NewPersistent(persistentShard, rt, disp, persistentDB)
	if err != nil {
		return fmt.Errorf("flowstore-server: new persistent store: %w", err)
	}
	signatureStore, err := store.NewSignature(signatureShard, rt, disp, signatureDB)
	if err != nil {
		return fmt.Errorf("flowstore-server: new signature store: %w", err)
	}
	triggerStore := store.NewTriggerNoStore(triggerShard, rt, disp)

	locator := client.NewLocalLocator(rt)
	locator.Register(volatileShard, volatileStore)
	locator.Register(persistentShard, persistentStore)
	locator.Register(signatureShard, signatureStore)
	locator.Register(triggerShard, triggerStore)
	facade.RegisterLocator(typeVolatile, locator)
	facade.RegisterLocator(typePersistent, locator)
	facade.RegisterLocator(typeSignature, locator)
	facade.RegisterLocator(typeTrigger, locator)

	resolve := func(typeIndex uint32, sh groupruntime.ShardID) (store.CascadeStore, bool) {
		switch {
		case typeIndex == typeVolatile && sh == volatileShard:
			return volatileStore, true
		case typeIndex == typePersistent && sh == persistentShard:
			return persistentStore, true
		case typeIndex == typeSignature && sh == signatureShard:
			return signatureStore, true
		case typeIndex == typeTrigger && sh == triggerShard:
			return triggerStore, true
		default:
			return nil, false
		}
	}
	rpcServer := rpcapi.NewServer(resolve, dir)
	lis, err := net.Listen("tcp", cfg.RPCBindAddr)
	if err != nil {
		return fmt.Errorf("flowstore-server: listen %s: %w", cfg.RPCBindAddr, err)
	}
	go func() {
		log.Logger.Info().Str("addr", cfg.RPCBindAddr).Msg("rpcapi listening")
		if err := rpcServer.GRPCServer().Serve(lis); err != nil {
			log.Logger.Error().Err(err).Msg("rpcapi server stopped")
		}
	}()
	defer rpcServer.GRPCServer().GracefulStop()

	collector := metrics.NewCollector(eng, []metrics.VersionLogSource{
		{Variant: "persistent", Shard: persistentShard, Log: persistentStore.Log()},
		{Variant: "signature", Shard: signatureShard, Log: signatureStore.Log()},
	}, nil)
	collector.Start()
	defer collector.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", metrics.HealthHandler())
	mux.Handle("/readyz", metrics.ReadyHandler())
	mux.Handle("/livez", metrics.LivenessHandler())
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		log.Logger.Info().Str("addr", metricsAddr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	defer metricsSrv.Close()

	metrics.SetSubsystem("runtime", true, "loopback runtime has no leader election")
	metrics.SetSubsystem("engine", true, "")
	metrics.SetSubsystem("rpcapi", true, "")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Logger.Info().Msg("shutting down")
	return nil
}
