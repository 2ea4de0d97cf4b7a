// panic.go recovers from panics in gRPC handlers and JSON routes instead of
// crashing the coordinator. Panics are reported as INTERNAL_ERROR and the
// stack trace is logged.
package interceptors

import (
	"context"
	"net/http"
	"runtime/debug"

	"github.com/arkade-os/cjd/internal/interface/grpc/handlers"
	"github.com/arkade-os/cjd/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

var somethingWentWrong = errors.INTERNAL_ERROR.New("something went wrong")

func logPanic(r any, where string) {
	log.WithField("handler", where).Errorf("recovered from panic: %v", r)
	log.Errorf("stack trace: %v", string(debug.Stack()))
}

func unaryPanicRecoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context, req any,
		info *grpc.UnaryServerInfo, handler grpc.UnaryHandler,
	) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logPanic(r, info.FullMethod)
				err = gRPCError{somethingWentWrong}
			}
		}()

		resp, err = handler(ctx, req)
		return resp, err
	}
}

func streamPanicRecoveryInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any, stream grpc.ServerStream,
		info *grpc.StreamServerInfo, handler grpc.StreamHandler,
	) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logPanic(r, info.FullMethod)
				err = gRPCError{somethingWentWrong}
			}
		}()

		err = handler(srv, stream)
		return err
	}
}

// HTTPPanicRecoveryHandler is the JSON gateway counterpart of the gRPC
// recovery interceptors.
func HTTPPanicRecoveryHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logPanic(rec, r.Method+" "+r.URL.Path)
				handlers.WriteError(w, somethingWentWrong)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
