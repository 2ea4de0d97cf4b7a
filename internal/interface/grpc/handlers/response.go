package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	arkerrors "github.com/arkade-os/cjd/pkg/errors"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/status"
)

// errorBody is what every failed call returns, whatever the route.
type errorBody struct {
	Code     uint16            `json:"code"`
	Name     string            `json:"name"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, resp any) {
	buf, err := json.Marshal(resp)
	if err != nil {
		log.WithError(err).Warn("failed to marshal response")
		WriteError(w, arkerrors.INTERNAL_ERROR.Wrap(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// nolint:errcheck
	w.Write(buf)
}

// WriteError renders err as a JSON error body. Untyped errors are reported as
// internal errors.
func WriteError(w http.ResponseWriter, err error) {
	var structuredErr arkerrors.Error
	if !errors.As(err, &structuredErr) {
		structuredErr = arkerrors.INTERNAL_ERROR.Wrap(err)
	}
	if structuredErr.Code() == arkerrors.INTERNAL_ERROR.Code {
		structuredErr.Log().Error(structuredErr.Error())
	}

	buf, errJSON := json.Marshal(errorBody{
		Code:     structuredErr.Code(),
		Name:     structuredErr.CodeName(),
		Message:  structuredErr.Error(),
		Metadata: structuredErr.Metadata(),
	})
	if errJSON != nil {
		http.Error(w, structuredErr.Error(), structuredErr.HTTPStatus())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(structuredErr.HTTPStatus())
	// nolint:errcheck
	w.Write(buf)
}

func invalidRequest(err error) error {
	return arkerrors.INVALID_REQUEST.Wrap(err)
}

// ErrorHandler renders errors raised by the gateway itself, like unknown
// routes or unsupported methods, the same way handlers render theirs.
func ErrorHandler(
	_ context.Context, _ *runtime.ServeMux, _ runtime.Marshaler,
	w http.ResponseWriter, _ *http.Request, err error,
) {
	st, ok := status.FromError(err)
	if !ok {
		WriteError(w, err)
		return
	}

	body := errorBody{
		Code:    arkerrors.INVALID_REQUEST.Code,
		Name:    arkerrors.INVALID_REQUEST.Name,
		Message: st.Message(),
	}
	buf, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
	// nolint:errcheck
	w.Write(buf)
}

// RoutingErrorHandler maps routing failures to the usual HTTP statuses.
func RoutingErrorHandler(
	ctx context.Context, mux *runtime.ServeMux, marshaler runtime.Marshaler,
	w http.ResponseWriter, r *http.Request, httpStatus int,
) {
	body := errorBody{
		Code:    arkerrors.INVALID_REQUEST.Code,
		Name:    arkerrors.INVALID_REQUEST.Name,
		Message: http.StatusText(httpStatus),
	}
	buf, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	// nolint:errcheck
	w.Write(buf)
}
