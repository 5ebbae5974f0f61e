package rpcapi

import (
	"context"

	"google.golang.org/grpc"
)

// handler adapts one Server method into a grpc.MethodDesc's methodHandler
// shape by hand — the part a .proto-driven *_grpc.pb.go would normally
// generate. newReq must return a fresh pointer dec can unmarshal into.
func handler[Req any, Resp any](newReq func() *Req, call func(*Server, context.Context, *Req) (*Resp, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		req := newReq()
		if err := dec(req); err != nil {
			return nil, err
		}
		s := srv.(*Server)
		if interceptor == nil {
			return call(s, ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: s}
		return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(s, ctx, req.(*Req))
		})
	}
}

var cascadeStoreServiceDesc = grpc.ServiceDesc{
	ServiceName: "flowstore.CascadeStore",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Put", Handler: handler(func() *PutRequest { return &PutRequest{} }, (*Server).Put)},
		{MethodName: "PutAndForget", Handler: handler(func() *PutRequest { return &PutRequest{} }, (*Server).PutAndForget)},
		{MethodName: "Remove", Handler: handler(func() *RemoveRequest { return &RemoveRequest{} }, (*Server).Remove)},
		{MethodName: "TriggerPut", Handler: handler(func() *TriggerPutRequest { return &TriggerPutRequest{} }, (*Server).TriggerPut)},
		{MethodName: "Get", Handler: handler(func() *GetRequest { return &GetRequest{} }, (*Server).Get)},
		{MethodName: "MultiGet", Handler: handler(func() *MultiGetRequest { return &MultiGetRequest{} }, (*Server).MultiGet)},
		{MethodName: "GetByTime", Handler: handler(func() *GetByTimeRequest { return &GetByTimeRequest{} }, (*Server).GetByTime)},
		{MethodName: "ListKeys", Handler: handler(func() *ListKeysRequest { return &ListKeysRequest{} }, (*Server).ListKeys)},
		{MethodName: "MultiListKeys", Handler: handler(func() *ListKeysRequest { return &ListKeysRequest{} }, (*Server).MultiListKeys)},
		{MethodName: "GetSize", Handler: handler(func() *GetSizeRequest { return &GetSizeRequest{} }, (*Server).GetSize)},
		{MethodName: "MultiGetSize", Handler: handler(func() *GetSizeRequest { return &GetSizeRequest{} }, (*Server).MultiGetSize)},
	},
	Metadata: "pkg/rpcapi/cascadestore.proto (no .proto file — see doc.go)",
}

var directoryServiceDesc = grpc.ServiceDesc{
	ServiceName: "flowstore.Directory",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateObjectPool", Handler: handler(func() *CreateObjectPoolRequest { return &CreateObjectPoolRequest{} }, (*Server).CreateObjectPool)},
		{MethodName: "RemoveObjectPool", Handler: handler(func() *RemoveObjectPoolRequest { return &RemoveObjectPoolRequest{} }, (*Server).RemoveObjectPool)},
		{MethodName: "FindObjectPool", Handler: handler(func() *FindObjectPoolRequest { return &FindObjectPoolRequest{} }, (*Server).FindObjectPool)},
	},
	Metadata: "pkg/rpcapi/directory.proto (no .proto file — see doc.go)",
}
