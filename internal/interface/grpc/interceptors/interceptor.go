package interceptors

import (
	middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"google.golang.org/grpc"
)

// UnaryInterceptor returns the chain of unary interceptors of the coordinator
// gRPC server. Panic recovery comes first so that it covers the whole chain.
func UnaryInterceptor(readiness *ReadinessService) grpc.ServerOption {
	return grpc.UnaryInterceptor(middleware.ChainUnaryServer(
		unaryPanicRecoveryInterceptor(),
		unaryLogger,
		unaryReadinessHandler(readiness),
		errorConverter,
	))
}

// StreamInterceptor returns the chain of stream interceptors of the
// coordinator gRPC server.
func StreamInterceptor(readiness *ReadinessService) grpc.ServerOption {
	return grpc.StreamInterceptor(middleware.ChainStreamServer(
		streamPanicRecoveryInterceptor(),
		streamLogger,
		streamReadinessHandler(readiness),
	))
}
