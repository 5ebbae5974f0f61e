/*
Package client implements the client facade: the single entry point
application code uses to reach a FlowStore deployment without knowing
which replica of which shard currently holds a key.

# Object-pool-aware routing

Most callers never name a (subgroup type, subgroup index, shard index)
directly. Facade.Put/Get/Remove/... take only a key; the facade resolves
the key's object pool through a poolmeta.Cache, picks a
replica from that shard's member list per a MemberPolicy, and dispatches
through whichever store.CascadeStore a StoreLocator hands back for that
(type, shard, member) triple.

	f := client.New(runtime, poolCache)
	f.RegisterLocator(persistentTypeIndex, locator)
	result, err := f.Put(ctx, "/pool/a/x", []byte("hello"))

# Member selection

Facade.Shard pins an operation to an explicit shard, bypassing pool
resolution, for callers that already know where a key lives (the
object-pool directory's own bootstrap, admin tooling, tests). Both forms
accept Option values (WithPolicy, WithUserMember, WithMaxRetries) to
override the default FirstMember policy and retry bound per call.

# Transport boundary

StoreLocator is this package's only dependency on a real network
transport. LocalLocator implements it in-process for single-node
deployment and tests; pkg/rpcapi's client stub implements it over gRPC
for a multi-process deployment. Either way, a *transport* error
(flowerr.ErrTransport) from a picked store resets that shard's member
selection and the call is tried again, up to the retry bound in total
attempts; any other error kind propagates immediately.

# Notifications

Subscribe/SubscribeToAll/SubscribeSignature register handlers keyed by
(subgroup type, subgroup index, object-pool pathname), with an
empty-string pathname reserved as the per-subgroup catch-all; data and
signature notifications are tracked in separate registries. Notify/
NotifySignature are the delivery side an in-process (loopback)
deployment drives — this package only owns registration and in-process
fan-out, and pkg/rpcapi carries no notification RPC, so no wire
transport delivers a notification from a remote replica.
*/
package client
