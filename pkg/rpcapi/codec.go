package rpcapi

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is negotiated as the gRPC content-subtype: requests are sent
// as application/grpc+json instead of the default +proto.
const codecName = "json"

// jsonCodec is a grpc encoding.Codec that marshals request/response values
// as JSON instead of protobuf, so rpcapi's hand-registered ServiceDesc can
// carry plain Go structs (object.Object, poolmeta.Metadata, ...) without a
// .proto schema or generated marshalers.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
