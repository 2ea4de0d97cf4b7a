package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arkade-os/cjd/internal/core/application"
	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/arkade-os/cjd/internal/core/ports"
	arkerrors "github.com/arkade-os/cjd/pkg/errors"
	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	roundId  = fmt.Sprintf("%064x", 1)
	aliceId  = uuid.New().String()
	outpoint = domain.Outpoint{Txid: fmt.Sprintf("%064x", 2), VOut: 1}
)

func TestRoundServiceRoutes(t *testing.T) {
	t.Run("register input", func(t *testing.T) {
		svc := &mockService{}
		creds := []ports.Credential{{Kind: ports.CredentialKindAmount, RoundId: roundId}}
		svc.On(
			"RegisterInput", mock.Anything, roundId, outpoint, []byte{0xca, 0xfe},
			mock.MatchedBy(func(req ports.CredentialRequest) bool {
				return req.Kind == ports.CredentialKindAmount
			}),
			mock.MatchedBy(func(req ports.CredentialRequest) bool {
				return req.Kind == ports.CredentialKindVsize
			}),
		).Return(&application.InputRegistration{
			AliceId:     aliceId,
			Credentials: application.Credentials{Amount: creds},
		}, nil)

		rec := serve(t, svc, http.MethodPost, "/v1/rounds/"+roundId+"/inputs", map[string]any{
			"outpoint":        outpoint.String(),
			"ownership_proof": "cafe",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp registerInputResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, aliceId, resp.AliceId)
		require.Len(t, resp.Amount, 1)
		svc.AssertExpectations(t)
	})

	t.Run("wrong phase", func(t *testing.T) {
		svc := &mockService{}
		phaseEnd := time.Now().Add(time.Minute).Unix()
		svc.On("SignalReadyToSign", mock.Anything, roundId, aliceId).Return(
			arkerrors.WRONG_PHASE.New("round %s is in wrong phase", roundId).
				WithMetadata(arkerrors.WrongPhaseMetadata{
					RoundId:        roundId,
					CurrentPhase:   domain.PhaseInputRegistration.String(),
					ExpectedPhases: []string{domain.PhaseOutputRegistration.String()},
					PhaseEndTime:   phaseEnd,
				}),
		)

		rec := serve(
			t, svc, http.MethodPost,
			fmt.Sprintf("/v1/rounds/%s/inputs/%s/ready", roundId, aliceId), nil,
		)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var body errorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, arkerrors.WRONG_PHASE.Name, body.Name)
		require.Equal(t, arkerrors.WRONG_PHASE.Code, body.Code)
		require.Equal(t, fmt.Sprintf("%d", phaseEnd), body.Metadata["phase_end_time"])
		require.Equal(t, "InputRegistration", body.Metadata["current_phase"])
	})

	t.Run("remove input", func(t *testing.T) {
		svc := &mockService{}
		svc.On("RemoveInput", mock.Anything, roundId, aliceId).Return(nil)

		rec := serve(
			t, svc, http.MethodDelete,
			fmt.Sprintf("/v1/rounds/%s/inputs/%s", roundId, aliceId), nil,
		)
		require.Equal(t, http.StatusOK, rec.Code)
		svc.AssertExpectations(t)
	})

	t.Run("sign transaction", func(t *testing.T) {
		svc := &mockService{}
		svc.On(
			"SignTransaction", mock.Anything, roundId, aliceId, [][]byte{{0x01}, {0x02, 0x03}},
		).Return(nil)

		rec := serve(
			t, svc, http.MethodPost,
			fmt.Sprintf("/v1/rounds/%s/inputs/%s/witness", roundId, aliceId),
			map[string]any{"witness": []string{"01", "0203"}},
		)
		require.Equal(t, http.StatusOK, rec.Code)
		svc.AssertExpectations(t)
	})

	t.Run("round not found", func(t *testing.T) {
		svc := &mockService{}
		svc.On("GetRoundState", mock.Anything, roundId).Return(
			nil, arkerrors.ROUND_NOT_FOUND.New("round %s not found", roundId).
				WithMetadata(arkerrors.RoundMetadata{RoundId: roundId}),
		)

		rec := serve(t, svc, http.MethodGet, "/v1/rounds/"+roundId, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)

		var body errorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "ROUND_NOT_FOUND", body.Name)
		require.Equal(t, roundId, body.Metadata["round_id"])
	})

	t.Run("status", func(t *testing.T) {
		svc := &mockService{}
		svc.On("GetStatus", mock.Anything).Return([]ports.RoundState{
			{RoundId: roundId, Phase: domain.PhaseConnectionConfirmation, InputCount: 3},
		}, nil)

		rec := serve(t, svc, http.MethodGet, "/v1/rounds", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp getStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Rounds, 1)
		require.Equal(t, "ConnectionConfirmation", resp.Rounds[0].Phase)
		require.Equal(t, 3, resp.Rounds[0].InputCount)
	})
}

func TestRoundServiceInvalidRequests(t *testing.T) {
	fixtures := []struct {
		description string
		method      string
		path        string
		body        any
	}{
		{
			"invalid round id", http.MethodGet, "/v1/rounds/nothex", nil,
		},
		{
			"invalid alice id", http.MethodPost,
			fmt.Sprintf("/v1/rounds/%s/inputs/alice/ready", roundId), nil,
		},
		{
			"missing body", http.MethodPost, "/v1/rounds/" + roundId + "/inputs", nil,
		},
		{
			"invalid outpoint", http.MethodPost, "/v1/rounds/" + roundId + "/inputs",
			map[string]any{"outpoint": "abc:0", "ownership_proof": "00"},
		},
		{
			"missing credentials", http.MethodPost, "/v1/rounds/" + roundId + "/outputs",
			map[string]any{"script": "0014" + fmt.Sprintf("%040x", 1)},
		},
		{
			"invalid witness", http.MethodPost,
			fmt.Sprintf("/v1/rounds/%s/inputs/%s/witness", roundId, aliceId),
			map[string]any{"witness": []string{"zz"}},
		},
	}

	for _, f := range fixtures {
		t.Run(f.description, func(t *testing.T) {
			svc := &mockService{}
			rec := serve(t, svc, f.method, f.path, f.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, arkerrors.INVALID_REQUEST.Name, body.Name)
			svc.AssertNotCalled(t, "RegisterInput")
		})
	}
}

func TestUnknownRoute(t *testing.T) {
	rec := serve(t, &mockService{}, http.MethodGet, "/v1/unknown", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Message)
}

func serve(
	t *testing.T, svc application.Service, method, path string, body any,
) *httptest.ResponseRecorder {
	t.Helper()

	mux := runtime.NewServeMux(
		runtime.WithErrorHandler(ErrorHandler),
		runtime.WithRoutingErrorHandler(RoutingErrorHandler),
	)
	require.NoError(t, RegisterRoutes(mux, NewRoundServiceHandler(svc)))

	var buf []byte
	if body != nil {
		var err error
		buf, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

type mockService struct {
	mock.Mock
}

func (m *mockService) Start() arkerrors.Error {
	return nil
}

func (m *mockService) Stop() {}

func (m *mockService) RegisterInput(
	ctx context.Context, roundId string, outpoint domain.Outpoint, ownershipProof []byte,
	zeroAmountReq, zeroVsizeReq ports.CredentialRequest,
) (*application.InputRegistration, arkerrors.Error) {
	args := m.Called(ctx, roundId, outpoint, ownershipProof, zeroAmountReq, zeroVsizeReq)
	return result[*application.InputRegistration](args)
}

func (m *mockService) RemoveInput(ctx context.Context, roundId, aliceId string) arkerrors.Error {
	return svcError(m.Called(ctx, roundId, aliceId), 0)
}

func (m *mockService) ConfirmConnection(
	ctx context.Context, roundId, aliceId string, amountReq, vsizeReq ports.CredentialRequest,
) (*application.ConnectionConfirmation, arkerrors.Error) {
	args := m.Called(ctx, roundId, aliceId, amountReq, vsizeReq)
	return result[*application.ConnectionConfirmation](args)
}

func (m *mockService) RegisterOutput(
	ctx context.Context, roundId string, script []byte,
	amountCredentials, vsizeCredentials []ports.Credential,
) (*application.OutputRegistration, arkerrors.Error) {
	args := m.Called(ctx, roundId, script, amountCredentials, vsizeCredentials)
	return result[*application.OutputRegistration](args)
}

func (m *mockService) ReissueCredentials(
	ctx context.Context, roundId string, amountReq, vsizeReq ports.CredentialRequest,
) (*application.Credentials, arkerrors.Error) {
	args := m.Called(ctx, roundId, amountReq, vsizeReq)
	return result[*application.Credentials](args)
}

func (m *mockService) SignalReadyToSign(
	ctx context.Context, roundId, aliceId string,
) arkerrors.Error {
	return svcError(m.Called(ctx, roundId, aliceId), 0)
}

func (m *mockService) SignTransaction(
	ctx context.Context, roundId, aliceId string, witness [][]byte,
) arkerrors.Error {
	return svcError(m.Called(ctx, roundId, aliceId, witness), 0)
}

func (m *mockService) GetRoundState(
	ctx context.Context, roundId string,
) (*ports.RoundState, arkerrors.Error) {
	return result[*ports.RoundState](m.Called(ctx, roundId))
}

func (m *mockService) GetStatus(ctx context.Context) ([]ports.RoundState, arkerrors.Error) {
	return result[[]ports.RoundState](m.Called(ctx))
}

func (m *mockService) GetUnsignedTransaction(
	ctx context.Context, roundId string,
) (*application.UnsignedTransaction, arkerrors.Error) {
	return result[*application.UnsignedTransaction](m.Called(ctx, roundId))
}

func result[T any](args mock.Arguments) (T, arkerrors.Error) {
	var res T
	if v := args.Get(0); v != nil {
		res = v.(T)
	}
	return res, svcError(args, 1)
}

func svcError(args mock.Arguments, i int) arkerrors.Error {
	if err := args.Get(i); err != nil {
		return err.(arkerrors.Error)
	}
	return nil
}
