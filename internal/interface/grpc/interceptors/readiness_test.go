package interceptors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	arkerrors "github.com/arkade-os/cjd/pkg/errors"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestUnaryReadinessHandler(t *testing.T) {
	t.Run("passes when app is started", func(t *testing.T) {
		readiness := NewReadinessService(health.NewServer())
		readiness.MarkAppServiceStarted()
		interceptor := unaryReadinessHandler(readiness)

		called := false
		_, err := interceptor(
			context.Background(),
			nil,
			&grpc.UnaryServerInfo{FullMethod: "/grpc.reflection.v1.ServerReflection/Info"},
			func(ctx context.Context, req any) (any, error) {
				called = true
				return "ok", nil
			},
		)
		require.NoError(t, err)
		require.True(t, called)
	})

	t.Run("blocks until app is started", func(t *testing.T) {
		interceptor := unaryReadinessHandler(NewReadinessService(health.NewServer()))

		called := false
		_, err := interceptor(
			context.Background(),
			nil,
			&grpc.UnaryServerInfo{FullMethod: "/grpc.reflection.v1.ServerReflection/Info"},
			func(ctx context.Context, req any) (any, error) {
				called = true
				return nil, nil
			},
		)
		st, ok := status.FromError(err)
		require.True(t, ok)
		require.Equal(t, codes.Unavailable, st.Code())
		require.False(t, called)
	})

	t.Run("health is always served", func(t *testing.T) {
		interceptor := unaryReadinessHandler(NewReadinessService(health.NewServer()))

		called := false
		_, err := interceptor(
			context.Background(),
			nil,
			&grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"},
			func(ctx context.Context, req any) (any, error) {
				called = true
				return nil, nil
			},
		)
		require.NoError(t, err)
		require.True(t, called)
	})
}

func TestStreamReadinessHandler(t *testing.T) {
	readiness := NewReadinessService(health.NewServer())
	interceptor := streamReadinessHandler(readiness)
	info := &grpc.StreamServerInfo{FullMethod: "/grpc.reflection.v1.ServerReflection/Info"}

	called := false
	handler := func(srv any, ss grpc.ServerStream) error {
		called = true
		return nil
	}

	err := interceptor(nil, &testServerStream{ctx: context.Background()}, info, handler)
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.Unavailable, st.Code())
	require.False(t, called)

	readiness.MarkAppServiceStarted()
	err = interceptor(nil, &testServerStream{ctx: context.Background()}, info, handler)
	require.NoError(t, err)
	require.True(t, called)
}

func TestReadinessHealthStatus(t *testing.T) {
	healthSvc := health.NewServer()
	readiness := NewReadinessService(healthSvc)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := healthSvc.Check(
			context.Background(),
			&healthpb.HealthCheckRequest{Service: CoordinatorServiceName},
		)
		require.NoError(t, err)
		return resp.GetStatus()
	}

	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
	readiness.MarkAppServiceStarted()
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check())
	readiness.MarkAppServiceStopped()
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
}

func TestHTTPReadinessHandler(t *testing.T) {
	readiness := NewReadinessService(nil)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := HTTPReadinessHandler(readiness, next)

	fixtures := []struct {
		description    string
		path           string
		started        bool
		expectedStatus int
	}{
		{"rounds rejected before start", "/v1/rounds", false, http.StatusServiceUnavailable},
		{"admin served before start", "/v1/admin/offenders", false, http.StatusNoContent},
		{"rounds served after start", "/v1/rounds", true, http.StatusNoContent},
	}
	for _, f := range fixtures {
		t.Run(f.description, func(t *testing.T) {
			if f.started {
				readiness.MarkAppServiceStarted()
			} else {
				readiness.MarkAppServiceStopped()
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, f.path, nil))
			require.Equal(t, f.expectedStatus, rec.Code)

			if f.expectedStatus == http.StatusServiceUnavailable {
				var body map[string]any
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				require.Equal(t, arkerrors.SERVICE_NOT_READY.Name, body["name"])
			}
		})
	}
}

func TestHTTPPanicRecoveryHandler(t *testing.T) {
	handler := HTTPPanicRecoveryHandler(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/rounds", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type testServerStream struct {
	ctx context.Context
}

func (s *testServerStream) SetHeader(_ metadata.MD) error { return nil }

func (s *testServerStream) SendHeader(_ metadata.MD) error { return nil }

func (s *testServerStream) SetTrailer(_ metadata.MD) {}

func (s *testServerStream) Context() context.Context { return s.ctx }

func (s *testServerStream) SendMsg(any) error { return nil }

func (s *testServerStream) RecvMsg(any) error { return nil }
