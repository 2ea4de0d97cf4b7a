package interceptors

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/arkade-os/cjd/internal/interface/grpc/handlers"
	arkerrors "github.com/arkade-os/cjd/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	// CoordinatorServiceName is the name under which the health service
	// reports the readiness of the coordinator.
	CoordinatorServiceName = "cjd.v1.CoordinatorService"

	healthServiceMethodPrefix = "/grpc.health.v1.Health/"
	roundsPathPrefix          = "/v1/rounds"

	serviceNotReadyMsg = "coordinator not ready: rounds are not being served yet"
)

// ReadinessService tracks whether the arena is running. It keeps the health
// service in sync and rejects participant calls until then.
type ReadinessService struct {
	health     *health.Server
	appStarted atomic.Bool
}

func NewReadinessService(healthSvc *health.Server) *ReadinessService {
	r := &ReadinessService{health: healthSvc}
	r.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return r
}

func (r *ReadinessService) MarkAppServiceStarted() {
	r.appStarted.Store(true)
	r.setStatus(healthpb.HealthCheckResponse_SERVING)
}

func (r *ReadinessService) MarkAppServiceStopped() {
	r.appStarted.Store(false)
	r.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
}

func (r *ReadinessService) IsReady() bool {
	return r == nil || r.appStarted.Load()
}

// Check returns an error if the given gRPC method can't be served yet.
// The health service is always reachable.
func (r *ReadinessService) Check(_ context.Context, fullMethod string) arkerrors.Error {
	if r == nil || strings.HasPrefix(fullMethod, healthServiceMethodPrefix) {
		return nil
	}
	if !r.IsReady() {
		return arkerrors.SERVICE_NOT_READY.New(serviceNotReadyMsg)
	}
	return nil
}

func (r *ReadinessService) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	if r.health == nil {
		return
	}
	r.health.SetServingStatus("", status)
	r.health.SetServingStatus(CoordinatorServiceName, status)
}

func unaryReadinessHandler(readiness *ReadinessService) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context, req any,
		info *grpc.UnaryServerInfo, handler grpc.UnaryHandler,
	) (any, error) {
		if err := readiness.Check(ctx, info.FullMethod); err != nil {
			return nil, gRPCError{err}
		}

		return handler(ctx, req)
	}
}

func streamReadinessHandler(readiness *ReadinessService) grpc.StreamServerInterceptor {
	return func(
		srv any, stream grpc.ServerStream,
		info *grpc.StreamServerInfo, handler grpc.StreamHandler,
	) error {
		if err := readiness.Check(stream.Context(), info.FullMethod); err != nil {
			return gRPCError{err}
		}

		return handler(srv, stream)
	}
}

// HTTPReadinessHandler rejects calls to the round routes with
// SERVICE_NOT_READY until the arena is running.
func HTTPReadinessHandler(readiness *ReadinessService, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, roundsPathPrefix) && !readiness.IsReady() {
			handlers.WriteError(w, arkerrors.SERVICE_NOT_READY.New(serviceNotReadyMsg))
			return
		}
		next.ServeHTTP(w, r)
	})
}
