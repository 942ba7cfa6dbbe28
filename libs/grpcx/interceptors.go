package grpcx

import (
	"context"

	"github.com/md-rashed-zaman/dentbook/libs/httpx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// RequestIDMetadataKey carries the HTTP request id on outgoing calls.
const RequestIDMetadataKey = "x-request-id"

// UnaryClientRequestIDInterceptor copies the inbound HTTP request id into outgoing metadata.
func UnaryClientRequestIDInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if id := httpx.RequestIDFromContext(ctx); id != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, RequestIDMetadataKey, id)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// IncomingRequestID returns the request id sent by a client using UnaryClientRequestIDInterceptor.
func IncomingRequestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(RequestIDMetadataKey); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
