package grpcservice

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"sync/atomic"
	"time"

	"github.com/arkade-os/cjd/internal/config"
	interfaces "github.com/arkade-os/cjd/internal/interface"
	"github.com/arkade-os/cjd/internal/interface/grpc/handlers"
	"github.com/arkade-os/cjd/internal/interface/grpc/interceptors"
	"github.com/arkade-os/cjd/internal/telemetry"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	grpchealth "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	tlsKeyFile  = "key.pem"
	tlsCertFile = "cert.pem"
	tlsFolder   = "tls"

	readHeaderTimeout = 10 * time.Second
)

type service struct {
	version       string
	config        Config
	appConfig     *config.Config
	server        *http.Server
	adminServer   *http.Server
	grpcServer    *grpc.Server
	adminGrpcSrvr *grpc.Server
	readinessSvc  *interceptors.ReadinessService
	appSvcStarted atomic.Bool
	otelShutdown  func(context.Context) error
}

func NewService(
	version string, svcConfig Config, appConfig *config.Config,
) (interfaces.Service, error) {
	if err := svcConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service config: %s", err)
	}
	if err := appConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid app config: %s", err)
	}

	return &service{
		version:   version,
		config:    svcConfig,
		appConfig: appConfig,
	}, nil
}

func (s *service) Start() error {
	if err := s.start(); err != nil {
		return err
	}
	log.Infof("started listening at %s", s.config.address())
	log.Infof("started admin listening at %s", s.config.adminAddress())

	return s.startAppServices()
}

func (s *service) Stop() {
	s.stop()
	if s.otelShutdown != nil {
		if err := s.otelShutdown(context.Background()); err != nil {
			log.Errorf("failed to shutdown otel: %s", err)
		}
	}
	log.Info("shutdown service")
}

func (s *service) start() error {
	tlsConfig, err := s.config.tlsConfig()
	if err != nil {
		return err
	}

	if err := s.newServer(tlsConfig, s.config.EnablePprof); err != nil {
		return err
	}

	if s.config.insecure() {
		// nolint:all
		go s.server.ListenAndServe()
	} else {
		// nolint:all
		go s.server.ListenAndServeTLS("", "")
	}

	if s.adminServer != nil {
		if s.config.insecure() {
			// nolint:all
			go s.adminServer.ListenAndServe()
		} else {
			// nolint:all
			go s.adminServer.ListenAndServeTLS("", "")
		}
	}

	return nil
}

func (s *service) stop() {
	if s.appSvcStarted.CompareAndSwap(true, false) {
		if s.readinessSvc != nil {
			s.readinessSvc.MarkAppServiceStopped()
		}
		appSvc, _ := s.appConfig.AppService()
		if appSvc != nil {
			appSvc.Stop()
		}
	}

	// Hard-close HTTP listeners/conns first to avoid mixed HTTP/gRPC window.
	if s.server != nil {
		_ = s.server.Close()
	}
	if s.adminServer != nil {
		_ = s.adminServer.Close()
	}

	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.adminGrpcSrvr != nil {
		s.adminGrpcSrvr.Stop()
	}
}

func (s *service) startAppServices() error {
	if !s.appSvcStarted.CompareAndSwap(false, true) {
		return nil
	}

	appSvc, err := s.appConfig.AppService()
	if err != nil {
		s.appSvcStarted.Store(false)
		return fmt.Errorf("failed to create app service: %w", err)
	}
	if err := appSvc.Start(); err != nil {
		s.appSvcStarted.Store(false)
		return fmt.Errorf("failed to start app service: %w", err)
	}
	log.Info("started app service")

	if s.readinessSvc != nil {
		s.readinessSvc.MarkAppServiceStarted()
	}

	log.Infof("coordinator %s is now ready", s.version)
	return nil
}

func (s *service) newServer(tlsConfig *tls.Config, withPprof bool) error {
	ctx := context.Background()
	if s.appConfig.OtelCollectorEndpoint != "" {
		pushInterval := time.Duration(s.appConfig.OtelPushInterval) * time.Second
		otelShutdown, err := telemetry.InitOtelSDK(
			ctx, s.appConfig.OtelCollectorEndpoint, pushInterval,
		)
		if err != nil {
			return err
		}
		s.otelShutdown = otelShutdown
	}

	appSvc, err := s.appConfig.AppService()
	if err != nil {
		return fmt.Errorf("failed to create app service: %w", err)
	}
	adminSvc := s.appConfig.AdminService()

	otelHandler := otelgrpc.NewServerHandler(
		otelgrpc.WithTracerProvider(otel.GetTracerProvider()),
	)

	healthSvc := health.NewServer()
	s.readinessSvc = interceptors.NewReadinessService(healthSvc)

	grpcConfig := []grpc.ServerOption{
		interceptors.UnaryInterceptor(s.readinessSvc),
		interceptors.StreamInterceptor(s.readinessSvc),
		grpc.StatsHandler(otelHandler),
	}
	creds := insecure.NewCredentials()
	if !s.config.insecure() {
		creds = credentials.NewTLS(tlsConfig)
	}
	grpcConfig = append(grpcConfig, grpc.Creds(creds))

	grpcServer := grpc.NewServer(grpcConfig...)
	grpchealth.RegisterHealthServer(grpcServer, healthSvc)

	adminGrpcServer := grpc.NewServer(grpcConfig...)
	grpchealth.RegisterHealthServer(adminGrpcServer, healthSvc)

	// Creds for the gateway health client.
	gatewayCreds := insecure.NewCredentials()
	if !s.config.insecure() {
		gatewayCreds = credentials.NewTLS(&tls.Config{
			InsecureSkipVerify: true, // #nosec
		})
	}
	gatewayOpts := grpc.WithTransportCredentials(gatewayCreds)
	conn, err := grpc.NewClient(s.config.gatewayAddress(), gatewayOpts)
	if err != nil {
		return err
	}

	gwmux := newGatewayMux(grpchealth.NewHealthClient(conn))
	if err := handlers.RegisterRoutes(gwmux, handlers.NewRoundServiceHandler(appSvc)); err != nil {
		return err
	}

	grpcGateway := otelhttp.NewHandler(
		interceptors.HTTPReadinessHandler(
			s.readinessSvc, interceptors.HTTPPanicRecoveryHandler(gwmux),
		),
		"cjd-gateway",
	)
	handler := router(grpcServer, grpcGateway)
	mux := http.NewServeMux()
	mux.Handle("/", handler)

	httpServerHandler := http.Handler(mux)
	if s.config.insecure() {
		httpServerHandler = h2c.NewHandler(httpServerHandler, &http2.Server{})
	}

	s.grpcServer = grpcServer
	s.server = &http.Server{
		Addr:              s.config.address(),
		Handler:           httpServerHandler,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// Admin routes are only ever mounted on the dedicated admin listener.
	adminGwmux := newGatewayMux(grpchealth.NewHealthClient(conn))
	if err := handlers.RegisterRoutes(
		adminGwmux, handlers.NewAdminHandler(adminSvc),
	); err != nil {
		return err
	}

	adminGrpcGateway := otelhttp.NewHandler(
		interceptors.HTTPPanicRecoveryHandler(adminGwmux), "cjd-admin-gateway",
	)
	adminHandler := router(adminGrpcServer, adminGrpcGateway)
	adminMux := http.NewServeMux()
	if withPprof {
		registerPprof(adminMux)
	}
	adminMux.Handle("/", adminHandler)

	adminHttpServerHandler := http.Handler(adminMux)
	if s.config.insecure() {
		adminHttpServerHandler = h2c.NewHandler(adminHttpServerHandler, &http2.Server{})
	}

	s.adminGrpcSrvr = adminGrpcServer
	s.adminServer = &http.Server{
		Addr:              s.config.adminAddress(),
		Handler:           adminHttpServerHandler,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return nil
}

func newGatewayMux(healthClient grpchealth.HealthClient) *runtime.ServeMux {
	return runtime.NewServeMux(
		runtime.WithHealthzEndpoint(healthClient),
		runtime.WithErrorHandler(handlers.ErrorHandler),
		runtime.WithRoutingErrorHandler(handlers.RoutingErrorHandler),
	)
}

func registerPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	mux.Handle("/debug/pprof/allocs", pprof.Handler("allocs"))
	mux.Handle("/debug/pprof/block", pprof.Handler("block"))
	mux.Handle("/debug/pprof/mutex", pprof.Handler("mutex"))
	log.Info("pprof enabled at /debug/pprof/")
}

func router(
	grpcServer *grpc.Server, grpcGateway http.Handler,
) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isOptionRequest(r) {
			setCorsHeaders(w)
			return
		}

		if isHttpRequest(r) {
			setCorsHeaders(w)
			grpcGateway.ServeHTTP(w, r)
			return
		}
		grpcServer.ServeHTTP(w, r)
	})
}

func setCorsHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "*")
	w.Header().Add("Access-Control-Allow-Methods", "POST, GET, DELETE, OPTIONS")
}

func isOptionRequest(req *http.Request) bool {
	return req.Method == http.MethodOptions
}

// gRPC calls are always POSTs with an application/grpc content type.
func isHttpRequest(req *http.Request) bool {
	return req.Method == http.MethodGet ||
		req.Method == http.MethodDelete ||
		!strings.HasPrefix(req.Header.Get("Content-Type"), "application/grpc")
}
