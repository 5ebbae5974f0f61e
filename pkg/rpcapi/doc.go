/*
Package rpcapi is the point-to-point RPC transport: the wire
implementation of pkg/client's StoreLocator and PoolDirectory
boundaries, so a FlowStore deployment can run as more than one process.

This module carries no .proto files or generated stubs. Rather than add
a codegen step, rpcapi registers a grpc.ServiceDesc by hand
(grpc.Server.RegisterService's actual public entry point; code
generation is a convenience layer on top of it, not a requirement) and
carries ordinary JSON-tagged Go structs as request/response types under
a force-JSON grpc.Codec — the hand-rolled-ServiceDesc-plus-custom-codec
extension point grpc-go documents for services that don't put protobuf
on the wire.

# Services

CascadeStore exposes the store variants' client-facing operations
(Put/PutAndForget/Remove/TriggerPut/Get/MultiGet/GetByTime/ListKeys/
MultiListKeys/GetSize/MultiGetSize) against one pinned (subgroup type,
shard); Server resolves the incoming (type, shard) pair to a concrete
store.CascadeStore via a ShardResolver callback the hosting process
supplies at construction time.

Directory exposes CreateObjectPool/RemoveObjectPool/FindObjectPool
against the process hosting the object-pool metadata shard.

# Client side

Client implements store.CascadeStore over one *grpc.ClientConn pinned to
one (type, shard); RemoteLocator implements pkg/client's StoreLocator by
dialing (and caching) one *grpc.ClientConn per member address an
AddressBook reports for a shard, and wrapping it in a Client per call. DirectoryClient implements pkg/client's
PoolDirectory the same way.

Every request-handling method observes its count and duration into
metrics.RPCRequestsTotal/RPCRequestDuration (pkg/metrics).
*/
package rpcapi
