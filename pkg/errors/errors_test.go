package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
)

func TestErrors(t *testing.T) {
	testCases := []struct {
		err            Error
		expectedCode   uint16
		expectedName   string
		expectedGrpc   grpccodes.Code
		expectedStatus int
		expectedMeta   map[string]string
		description    string
	}{
		{
			err: WRONG_PHASE.New("round is in phase %s", "OutputRegistration").
				WithMetadata(WrongPhaseMetadata{
					RoundId:        "ab",
					CurrentPhase:   "OutputRegistration",
					ExpectedPhases: []string{"InputRegistration"},
					PhaseEndTime:   1700000000,
				}),
			expectedCode:   4,
			expectedName:   "WRONG_PHASE",
			expectedGrpc:   grpccodes.FailedPrecondition,
			expectedStatus: http.StatusBadRequest,
			expectedMeta: map[string]string{
				"round_id":        "ab",
				"current_phase":   "OutputRegistration",
				"expected_phases": `["InputRegistration"]`,
				"phase_end_time":  "1700000000",
			},
			description: "wrong phase carries expected phases and end time",
		},
		{
			err: INPUT_BANNED.New("input is banned").WithMetadata(InputBannedMetadata{
				Outpoint:    "aa:0",
				BannedUntil: 10,
				Reason:      "Cheating",
			}),
			expectedCode:   5,
			expectedName:   "INPUT_BANNED",
			expectedGrpc:   grpccodes.PermissionDenied,
			expectedStatus: http.StatusForbidden,
			expectedMeta: map[string]string{
				"outpoint":     "aa:0",
				"banned_until": "10",
				"reason":       "Cheating",
			},
			description: "banned input",
		},
		{
			err:            ROUND_NOT_FOUND.New("round not found"),
			expectedCode:   2,
			expectedName:   "ROUND_NOT_FOUND",
			expectedGrpc:   grpccodes.NotFound,
			expectedStatus: http.StatusNotFound,
			expectedMeta:   map[string]string{"round_id": ""},
			description:    "metadata defaults to zero value",
		},
		{
			err:            INTERNAL_ERROR.Wrap(fmt.Errorf("disk full")),
			expectedCode:   0,
			expectedName:   "INTERNAL_ERROR",
			expectedGrpc:   grpccodes.Internal,
			expectedStatus: http.StatusInternalServerError,
			expectedMeta:   map[string]string{},
			description:    "wrapped internal error",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			require.Equal(t, tc.expectedCode, tc.err.Code())
			require.Equal(t, tc.expectedName, tc.err.CodeName())
			require.Equal(t, tc.expectedGrpc, tc.err.GrpcCode())
			require.Equal(t, tc.expectedStatus, tc.err.HTTPStatus())
			require.Equal(t, tc.expectedMeta, tc.err.Metadata())
			require.Contains(t, tc.err.Error(), tc.expectedName)
		})
	}
}

func TestErrorsAs(t *testing.T) {
	cause := fmt.Errorf("boom")
	wrapped := fmt.Errorf("outer: %w", INTERNAL_ERROR.Wrap(cause))

	var structuredErr Error
	require.True(t, errors.As(wrapped, &structuredErr))
	require.Equal(t, "INTERNAL_ERROR", structuredErr.CodeName())
	require.ErrorIs(t, wrapped, cause)
}
