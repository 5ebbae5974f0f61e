package rpcapi

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/object"
	"github.com/flowmesh/flowstore/pkg/poolmeta"
	"github.com/flowmesh/flowstore/pkg/store"
)

// Dial opens a plaintext connection to addr, forcing every call on it
// through the JSON codec. This transport is an in-cluster boundary;
// authn/mTLS termination belongs to the deployment layer in front of it.
func Dial(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
}

func dial(addr string) (*grpc.ClientConn, error) { return Dial(addr) }

// Client implements store.CascadeStore over one grpc.ClientConn, pinned
// to one (subgroup type, shard) — the wire-transport implementation of
// the interface every store variant satisfies locally.
type Client struct {
	conn *grpc.ClientConn
	sel  ShardSelector
}

// NewClient wraps conn for the given (typeIndex, shard).
func NewClient(conn *grpc.ClientConn, typeIndex uint32, shard groupruntime.ShardID) *Client {
	return &Client{conn: conn, sel: ShardSelector{
		SubgroupTypeIndex: typeIndex,
		SubgroupIndex:     shard.SubgroupIndex,
		ShardIndex:        shard.ShardIndex,
	}}
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	return c.conn.Invoke(ctx, "/flowstore.CascadeStore/"+method, req, resp)
}

func (c *Client) Put(ctx context.Context, key object.Key, blob []byte) (store.WriteResult, error) {
	var resp WriteResponse
	if err := c.invoke(ctx, "Put", &PutRequest{Shard: c.sel, Key: key, Blob: blob}, &resp); err != nil {
		return store.WriteResult{}, err
	}
	return store.WriteResult{Version: resp.Version, TimestampUs: resp.TimestampUs}, nil
}

func (c *Client) PutAndForget(ctx context.Context, key object.Key, blob []byte) error {
	var resp Empty
	return c.invoke(ctx, "PutAndForget", &PutRequest{Shard: c.sel, Key: key, Blob: blob}, &resp)
}

func (c *Client) Remove(ctx context.Context, key object.Key) (store.WriteResult, error) {
	var resp WriteResponse
	if err := c.invoke(ctx, "Remove", &RemoveRequest{Shard: c.sel, Key: key}, &resp); err != nil {
		return store.WriteResult{}, err
	}
	return store.WriteResult{Version: resp.Version, TimestampUs: resp.TimestampUs}, nil
}

func (c *Client) TriggerPut(ctx context.Context, key object.Key, blob []byte) error {
	var resp Empty
	return c.invoke(ctx, "TriggerPut", &TriggerPutRequest{Shard: c.sel, Key: key, Blob: blob}, &resp)
}

func (c *Client) Get(ctx context.Context, key object.Key, version object.Version, stable, exact bool) (object.Object, error) {
	var resp GetResponse
	err := c.invoke(ctx, "Get", &GetRequest{Shard: c.sel, Key: key, Version: version, Stable: stable, Exact: exact}, &resp)
	return resp.Object, err
}

func (c *Client) MultiGet(ctx context.Context, key object.Key) (object.Object, error) {
	var resp GetResponse
	err := c.invoke(ctx, "MultiGet", &MultiGetRequest{Shard: c.sel, Key: key}, &resp)
	return resp.Object, err
}

func (c *Client) GetByTime(ctx context.Context, key object.Key, hlcUs int64, stable bool) (object.Object, error) {
	var resp GetResponse
	err := c.invoke(ctx, "GetByTime", &GetByTimeRequest{Shard: c.sel, Key: key, HlcUs: hlcUs, Stable: stable}, &resp)
	return resp.Object, err
}

func (c *Client) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var resp ListKeysResponse
	err := c.invoke(ctx, "ListKeys", &ListKeysRequest{Shard: c.sel, Prefix: prefix}, &resp)
	return resp.Keys, err
}

func (c *Client) MultiListKeys(ctx context.Context, prefix string) ([]string, error) {
	var resp ListKeysResponse
	err := c.invoke(ctx, "MultiListKeys", &ListKeysRequest{Shard: c.sel, Prefix: prefix}, &resp)
	return resp.Keys, err
}

func (c *Client) GetSize(ctx context.Context, key object.Key) (int, error) {
	var resp GetSizeResponse
	err := c.invoke(ctx, "GetSize", &GetSizeRequest{Shard: c.sel, Key: key}, &resp)
	return resp.Size, err
}

func (c *Client) MultiGetSize(ctx context.Context, key object.Key) (int, error) {
	var resp GetSizeResponse
	err := c.invoke(ctx, "MultiGetSize", &GetSizeRequest{Shard: c.sel, Key: key}, &resp)
	return resp.Size, err
}

var _ store.CascadeStore = (*Client)(nil)

// AddressBook resolves a member id to its dialable RPC address, for a
// given (subgroup type, shard) — cmd/flowstore-server populates one from
// cluster configuration or the object-pool directory's own bootstrap
// metadata.
type AddressBook interface {
	Members(typeIndex uint32, shard groupruntime.ShardID) []uint64
	MemberAddr(typeIndex uint32, shard groupruntime.ShardID, memberID uint64) (string, bool)
}

// RemoteLocator implements pkg/client's StoreLocator over rpcapi,
// dialing (and caching) one *grpc.ClientConn per member address.
type RemoteLocator struct {
	book AddressBook

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewRemoteLocator builds a locator resolving member addresses through book.
func NewRemoteLocator(book AddressBook) *RemoteLocator {
	return &RemoteLocator{book: book, conns: make(map[string]*grpc.ClientConn)}
}

func (r *RemoteLocator) connFor(addr string) (*grpc.ClientConn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[addr]; ok {
		return conn, nil
	}
	conn, err := dial(addr)
	if err != nil {
		return nil, fmt.Errorf("rpcapi: dial %s: %w", addr, err)
	}
	r.conns[addr] = conn
	return conn, nil
}

// Stores implements client.StoreLocator.
func (r *RemoteLocator) Stores(ctx context.Context, typeIndex uint32, shard groupruntime.ShardID) (map[uint64]store.CascadeStore, error) {
	out := make(map[uint64]store.CascadeStore)
	for _, id := range r.book.Members(typeIndex, shard) {
		addr, ok := r.book.MemberAddr(typeIndex, shard, id)
		if !ok {
			continue
		}
		conn, err := r.connFor(addr)
		if err != nil {
			return nil, err
		}
		out[id] = NewClient(conn, typeIndex, shard)
	}
	return out, nil
}

// DirectoryClient implements pkg/client's PoolDirectory over rpcapi.
type DirectoryClient struct {
	conn *grpc.ClientConn
}

// NewDirectoryClient wraps conn for Directory service calls.
func NewDirectoryClient(conn *grpc.ClientConn) *DirectoryClient {
	return &DirectoryClient{conn: conn}
}

func (d *DirectoryClient) invoke(ctx context.Context, method string, req, resp any) error {
	return d.conn.Invoke(ctx, "/flowstore.Directory/"+method, req, resp)
}

func (d *DirectoryClient) CreateObjectPool(ctx context.Context, m poolmeta.Metadata) (poolmeta.Metadata, error) {
	var resp ObjectPoolResponse
	err := d.invoke(ctx, "CreateObjectPool", &CreateObjectPoolRequest{Metadata: m}, &resp)
	return resp.Metadata, err
}

func (d *DirectoryClient) RemoveObjectPool(ctx context.Context, pathname string) (poolmeta.Metadata, error) {
	var resp ObjectPoolResponse
	err := d.invoke(ctx, "RemoveObjectPool", &RemoveObjectPoolRequest{Pathname: pathname}, &resp)
	return resp.Metadata, err
}

func (d *DirectoryClient) FindObjectPool(ctx context.Context, pathname string) (poolmeta.Metadata, bool, error) {
	var resp FindObjectPoolResponse
	err := d.invoke(ctx, "FindObjectPool", &FindObjectPoolRequest{Pathname: pathname}, &resp)
	return resp.Metadata, resp.Found, err
}
