package rpcapi

import (
	"github.com/flowmesh/flowstore/pkg/object"
	"github.com/flowmesh/flowstore/pkg/poolmeta"
)

// ShardSelector names the (subgroup type, subgroup, shard) triple every
// CascadeStore RPC targets, since the wire service is stateless across
// calls — the server resolves a concrete store.CascadeStore from it on
// every request via ShardResolver.
type ShardSelector struct {
	SubgroupTypeIndex uint32 `json:"subgroup_type_index"`
	SubgroupIndex     uint32 `json:"subgroup_index"`
	ShardIndex        uint32 `json:"shard_index"`
}

type PutRequest struct {
	Shard ShardSelector `json:"shard"`
	Key   object.Key    `json:"key"`
	Blob  []byte        `json:"blob"`
}

type WriteResponse struct {
	Version     object.Version `json:"version"`
	TimestampUs int64          `json:"timestamp_us"`
}

type RemoveRequest struct {
	Shard ShardSelector `json:"shard"`
	Key   object.Key    `json:"key"`
}

type TriggerPutRequest struct {
	Shard ShardSelector `json:"shard"`
	Key   object.Key    `json:"key"`
	Blob  []byte        `json:"blob"`
}

type GetRequest struct {
	Shard   ShardSelector  `json:"shard"`
	Key     object.Key     `json:"key"`
	Version object.Version `json:"version"`
	Stable  bool           `json:"stable"`
	Exact   bool           `json:"exact"`
}

type GetResponse struct {
	Object object.Object `json:"object"`
}

type MultiGetRequest struct {
	Shard ShardSelector `json:"shard"`
	Key   object.Key    `json:"key"`
}

type GetByTimeRequest struct {
	Shard  ShardSelector `json:"shard"`
	Key    object.Key    `json:"key"`
	HlcUs  int64         `json:"hlc_us"`
	Stable bool          `json:"stable"`
}

type ListKeysRequest struct {
	Shard  ShardSelector `json:"shard"`
	Prefix string        `json:"prefix"`
}

type ListKeysResponse struct {
	Keys []string `json:"keys"`
}

type GetSizeRequest struct {
	Shard ShardSelector `json:"shard"`
	Key   object.Key    `json:"key"`
}

type GetSizeResponse struct {
	Size int `json:"size"`
}

type Empty struct{}

// --- object-pool directory wire messages ---

type CreateObjectPoolRequest struct {
	Metadata poolmeta.Metadata `json:"metadata"`
}

type ObjectPoolResponse struct {
	Metadata poolmeta.Metadata `json:"metadata"`
}

type RemoveObjectPoolRequest struct {
	Pathname string `json:"pathname"`
}

type FindObjectPoolRequest struct {
	Pathname string `json:"pathname"`
}

type FindObjectPoolResponse struct {
	Metadata poolmeta.Metadata `json:"metadata"`
	Found    bool              `json:"found"`
}
