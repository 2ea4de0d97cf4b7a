package interceptors

import (
	"context"
	"errors"

	arkerrors "github.com/arkade-os/cjd/pkg/errors"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const errorDomain = "cjd"

// gRPCError is a wrapper implementing GRPCStatus method for errors.Error.
// The status carries an ErrorInfo detail with the code name and metadata.
type gRPCError struct {
	err arkerrors.Error
}

func (e gRPCError) Error() string {
	return e.err.Error()
}

func (e gRPCError) GRPCStatus() *status.Status {
	st := status.New(e.err.GrpcCode(), e.err.Error())

	stWithDetails, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   e.err.CodeName(),
		Domain:   errorDomain,
		Metadata: e.err.Metadata(),
	})
	if err != nil {
		return st
	}
	return stWithDetails
}

func errorConverter(
	ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler,
) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		var structuredErr arkerrors.Error
		if errors.As(err, &structuredErr) {
			return nil, gRPCError{structuredErr}
		}
	}
	return resp, err
}
