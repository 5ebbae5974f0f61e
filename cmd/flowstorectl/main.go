// Command flowstorectl is a thin CLI client for exercising a running
// FlowStore deployment's RPC transport (pkg/rpcapi): put, get, remove,
// and list operations against a single shard.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/object"
	"github.com/flowmesh/flowstore/pkg/rpcapi"
)

var (
	addr           string
	subgroupType   uint32
	subgroupIndex  uint32
	shardIndexFlag uint32
	timeout        time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flowstorectl",
	Short: "flowstorectl talks to a FlowStore shard over its RPC transport",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:7401", "address of a flowstore-server's rpcapi listener")
	rootCmd.PersistentFlags().Uint32Var(&subgroupType, "type", 0, "subgroup type index of the target store")
	rootCmd.PersistentFlags().Uint32Var(&subgroupIndex, "subgroup", 0, "subgroup index of the target shard")
	rootCmd.PersistentFlags().Uint32Var(&shardIndexFlag, "shard", 0, "shard index within the subgroup")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")

	rootCmd.AddCommand(putCmd, getCmd, removeCmd, listCmd)
}

func dialClient() (*rpcapi.Client, func(), error) {
	conn, err := rpcapi.Dial(addr)
	if err != nil {
		return nil, nil, err
	}
	shard := groupruntime.ShardID{SubgroupIndex: subgroupIndex, ShardIndex: shardIndexFlag}
	c := rpcapi.NewClient(conn, subgroupType, shard)
	return c, func() { _ = conn.Close() }, nil
}

var putCmd = &cobra.Command{
	Use:   "put <key> <value>",
	Short: "Write a value at key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, closeFn, err := dialClient()
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		res, err := c.Put(ctx, args[0], []byte(args[1]))
		if err != nil {
			return err
		}
		fmt.Printf("version=%d timestamp_us=%d\n", res.Version, res.TimestampUs)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read the latest (or a specific) version at key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, _ := cmd.Flags().GetInt64("version")
		exact, _ := cmd.Flags().GetBool("exact")

		c, closeFn, err := dialClient()
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		obj, err := c.Get(ctx, args[0], object.Version(version), true, exact)
		if err != nil {
			return err
		}
		fmt.Printf("version=%d timestamp_us=%d blob=%q\n", obj.Version, obj.TimestampUs, string(obj.Blob))
		return nil
	},
}

func init() {
	getCmd.Flags().Int64("version", -2, "version to read; -2 means latest")
	getCmd.Flags().Bool("exact", false, "require an exact version match")
}

var removeCmd = &cobra.Command{
	Use:   "remove <key>",
	Short: "Tombstone key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, closeFn, err := dialClient()
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		res, err := c.Remove(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("version=%d timestamp_us=%d\n", res.Version, res.TimestampUs)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list [prefix]",
	Short: "List keys matching prefix (default: every key)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}

		c, closeFn, err := dialClient()
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		keys, err := c.ListKeys(ctx, prefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	},
}
