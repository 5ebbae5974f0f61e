package rpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/flowmesh/flowstore/pkg/flowerr"
	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/metrics"
	"github.com/flowmesh/flowstore/pkg/poolmeta"
	"github.com/flowmesh/flowstore/pkg/store"
)

// ShardResolver resolves one RPC's ShardSelector to the concrete
// store.CascadeStore hosted locally for it, or ok=false if this process
// doesn't host that (type, shard) — the server-side analogue of
// pkg/client's StoreLocator.
type ShardResolver func(typeIndex uint32, shard groupruntime.ShardID) (store.CascadeStore, bool)

// PoolDirectory is the subset of poolmeta.Directory the Directory service
// forwards to.
type PoolDirectory interface {
	CreateObjectPool(ctx context.Context, m poolmeta.Metadata) (poolmeta.Metadata, error)
	RemoveObjectPool(ctx context.Context, pathname string) (poolmeta.Metadata, error)
	FindObjectPool(ctx context.Context, pathname string) (poolmeta.Metadata, bool, error)
}

// Server hosts the CascadeStore and Directory RPC services for every
// shard this process locally serves.
type Server struct {
	resolve ShardResolver
	dir     PoolDirectory
	grpc    *grpc.Server
}

// NewServer builds an rpcapi server. dir may be nil for a process that
// hosts no object-pool directory shard.
func NewServer(resolve ShardResolver, dir PoolDirectory) *Server {
	s := &Server{resolve: resolve, dir: dir}
	s.grpc = grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	s.grpc.RegisterService(&cascadeStoreServiceDesc, s)
	s.grpc.RegisterService(&directoryServiceDesc, s)
	return s
}

// GRPCServer returns the underlying *grpc.Server, for cmd/flowstore-server
// to Serve on a listener.
func (s *Server) GRPCServer() *grpc.Server { return s.grpc }

func (ss ShardSelector) shard() groupruntime.ShardID {
	return groupruntime.ShardID{SubgroupIndex: ss.SubgroupIndex, ShardIndex: ss.ShardIndex}
}

func (s *Server) resolveOrFail(sel ShardSelector) (store.CascadeStore, error) {
	st, ok := s.resolve(sel.SubgroupTypeIndex, sel.shard())
	if !ok {
		return nil, status.Errorf(codes.Unavailable, "rpcapi: shard %+v not hosted on this replica", sel.shard())
	}
	return st, nil
}

// toStatus maps a flowerr.Kind onto the nearest gRPC status code.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch flowerr.Of(err) {
	case flowerr.KindNotFound:
		code = codes.NotFound
	case flowerr.KindInvalidValue, flowerr.KindInvalidVersion:
		code = codes.InvalidArgument
	case flowerr.KindFutureVersion:
		code = codes.FailedPrecondition
	case flowerr.KindPolicyError:
		code = codes.PermissionDenied
	case flowerr.KindTransport:
		code = codes.Unavailable
	case flowerr.KindFatal:
		code = codes.Internal
	default:
		code = codes.Unknown
	}
	return status.Error(code, err.Error())
}

func instrument(method string) func(err *error) {
	timer := metrics.NewTimer()
	return func(err *error) {
		status := "ok"
		if *err != nil {
			status = "error"
		}
		metrics.RPCRequestsTotal.WithLabelValues(method, status).Inc()
		timer.ObserveDurationVec(metrics.RPCRequestDuration, method)
	}
}

func (s *Server) Put(ctx context.Context, req *PutRequest) (resp *WriteResponse, err error) {
	defer instrument("Put")(&err)
	st, err := s.resolveOrFail(req.Shard)
	if err != nil {
		return nil, err
	}
	res, err := st.Put(ctx, req.Key, req.Blob)
	if err != nil {
		return nil, toStatus(err)
	}
	return &WriteResponse{Version: res.Version, TimestampUs: res.TimestampUs}, nil
}

func (s *Server) PutAndForget(ctx context.Context, req *PutRequest) (resp *Empty, err error) {
	defer instrument("PutAndForget")(&err)
	st, err := s.resolveOrFail(req.Shard)
	if err != nil {
		return nil, err
	}
	if err := st.PutAndForget(ctx, req.Key, req.Blob); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Server) Remove(ctx context.Context, req *RemoveRequest) (resp *WriteResponse, err error) {
	defer instrument("Remove")(&err)
	st, err := s.resolveOrFail(req.Shard)
	if err != nil {
		return nil, err
	}
	res, err := st.Remove(ctx, req.Key)
	if err != nil {
		return nil, toStatus(err)
	}
	return &WriteResponse{Version: res.Version, TimestampUs: res.TimestampUs}, nil
}

func (s *Server) TriggerPut(ctx context.Context, req *TriggerPutRequest) (resp *Empty, err error) {
	defer instrument("TriggerPut")(&err)
	st, err := s.resolveOrFail(req.Shard)
	if err != nil {
		return nil, err
	}
	if err := st.TriggerPut(ctx, req.Key, req.Blob); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Server) Get(ctx context.Context, req *GetRequest) (resp *GetResponse, err error) {
	defer instrument("Get")(&err)
	st, err := s.resolveOrFail(req.Shard)
	if err != nil {
		return nil, err
	}
	o, err := st.Get(ctx, req.Key, req.Version, req.Stable, req.Exact)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetResponse{Object: o}, nil
}

func (s *Server) MultiGet(ctx context.Context, req *MultiGetRequest) (resp *GetResponse, err error) {
	defer instrument("MultiGet")(&err)
	st, err := s.resolveOrFail(req.Shard)
	if err != nil {
		return nil, err
	}
	o, err := st.MultiGet(ctx, req.Key)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetResponse{Object: o}, nil
}

func (s *Server) GetByTime(ctx context.Context, req *GetByTimeRequest) (resp *GetResponse, err error) {
	defer instrument("GetByTime")(&err)
	st, err := s.resolveOrFail(req.Shard)
	if err != nil {
		return nil, err
	}
	o, err := st.GetByTime(ctx, req.Key, req.HlcUs, req.Stable)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetResponse{Object: o}, nil
}

func (s *Server) ListKeys(ctx context.Context, req *ListKeysRequest) (resp *ListKeysResponse, err error) {
	defer instrument("ListKeys")(&err)
	st, err := s.resolveOrFail(req.Shard)
	if err != nil {
		return nil, err
	}
	keys, err := st.ListKeys(ctx, req.Prefix)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListKeysResponse{Keys: keys}, nil
}

func (s *Server) MultiListKeys(ctx context.Context, req *ListKeysRequest) (resp *ListKeysResponse, err error) {
	defer instrument("MultiListKeys")(&err)
	st, err := s.resolveOrFail(req.Shard)
	if err != nil {
		return nil, err
	}
	keys, err := st.MultiListKeys(ctx, req.Prefix)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListKeysResponse{Keys: keys}, nil
}

func (s *Server) GetSize(ctx context.Context, req *GetSizeRequest) (resp *GetSizeResponse, err error) {
	defer instrument("GetSize")(&err)
	st, err := s.resolveOrFail(req.Shard)
	if err != nil {
		return nil, err
	}
	n, err := st.GetSize(ctx, req.Key)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetSizeResponse{Size: n}, nil
}

func (s *Server) MultiGetSize(ctx context.Context, req *GetSizeRequest) (resp *GetSizeResponse, err error) {
	defer instrument("MultiGetSize")(&err)
	st, err := s.resolveOrFail(req.Shard)
	if err != nil {
		return nil, err
	}
	n, err := st.MultiGetSize(ctx, req.Key)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetSizeResponse{Size: n}, nil
}

// --- Directory service handlers ---

func (s *Server) CreateObjectPool(ctx context.Context, req *CreateObjectPoolRequest) (resp *ObjectPoolResponse, err error) {
	defer instrument("CreateObjectPool")(&err)
	if s.dir == nil {
		return nil, status.Error(codes.Unimplemented, "rpcapi: no object-pool directory hosted on this replica")
	}
	m, err := s.dir.CreateObjectPool(ctx, req.Metadata)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ObjectPoolResponse{Metadata: m}, nil
}

func (s *Server) RemoveObjectPool(ctx context.Context, req *RemoveObjectPoolRequest) (resp *ObjectPoolResponse, err error) {
	defer instrument("RemoveObjectPool")(&err)
	if s.dir == nil {
		return nil, status.Error(codes.Unimplemented, "rpcapi: no object-pool directory hosted on this replica")
	}
	m, err := s.dir.RemoveObjectPool(ctx, req.Pathname)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ObjectPoolResponse{Metadata: m}, nil
}

func (s *Server) FindObjectPool(ctx context.Context, req *FindObjectPoolRequest) (resp *FindObjectPoolResponse, err error) {
	defer instrument("FindObjectPool")(&err)
	if s.dir == nil {
		return nil, status.Error(codes.Unimplemented, "rpcapi: no object-pool directory hosted on this replica")
	}
	m, found, err := s.dir.FindObjectPool(ctx, req.Pathname)
	if err != nil {
		return nil, toStatus(err)
	}
	return &FindObjectPoolResponse{Metadata: m, Found: found}, nil
}
