package handlers

import (
	"net/http"

	"github.com/arkade-os/cjd/internal/core/application"
	"github.com/arkade-os/cjd/internal/core/ports"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

// Route is a JSON endpoint served by the gateway mux.
type Route struct {
	Method  string
	Pattern string
	Handler runtime.HandlerFunc
}

// RegisterRoutes adds the given routes to the gateway mux.
func RegisterRoutes(mux *runtime.ServeMux, routes []Route) error {
	for _, route := range routes {
		if err := mux.HandlePath(route.Method, route.Pattern, route.Handler); err != nil {
			return err
		}
	}
	return nil
}

type roundHandler struct {
	svc application.Service
}

func NewRoundServiceHandler(svc application.Service) []Route {
	h := &roundHandler{svc}
	return []Route{
		{http.MethodGet, "/v1/rounds", h.GetStatus},
		{http.MethodGet, "/v1/rounds/{round_id}", h.GetRoundState},
		{http.MethodGet, "/v1/rounds/{round_id}/tx", h.GetUnsignedTransaction},
		{http.MethodPost, "/v1/rounds/{round_id}/inputs", h.RegisterInput},
		{http.MethodDelete, "/v1/rounds/{round_id}/inputs/{alice_id}", h.RemoveInput},
		{http.MethodPost, "/v1/rounds/{round_id}/inputs/{alice_id}/confirm", h.ConfirmConnection},
		{http.MethodPost, "/v1/rounds/{round_id}/inputs/{alice_id}/ready", h.SignalReadyToSign},
		{http.MethodPost, "/v1/rounds/{round_id}/inputs/{alice_id}/witness", h.SignTransaction},
		{http.MethodPost, "/v1/rounds/{round_id}/outputs", h.RegisterOutput},
		{http.MethodPost, "/v1/rounds/{round_id}/credentials", h.ReissueCredentials},
	}
}

func (h *roundHandler) RegisterInput(
	w http.ResponseWriter, r *http.Request, params map[string]string,
) {
	roundId, err := parseRoundId(params["round_id"])
	if err != nil {
		WriteError(w, invalidRequest(err))
		return
	}
	var req registerInputRequest
	if err := parseBody(r, &req); err != nil {
		WriteError(w, invalidRequest(err))
		return
	}
	outpoint, err := parseOutpoint(req.Outpoint)
	if err != nil {
		WriteError(w, invalidRequest(err))
		return
	}
	proof, err := parseHex(req.OwnershipProof, "ownership proof")
	if err != nil {
		WriteError(w, invalidRequest(err))
		return
	}

	resp, svcErr := h.svc.RegisterInput(
		r.Context(), roundId, *outpoint, proof,
		withKind(req.ZeroAmountReq, ports.CredentialKindAmount),
		withKind(req.ZeroVsizeReq, ports.CredentialKindVsize),
	)
	if svcErr != nil {
		WriteError(w, svcErr)
		return
	}

	writeJSON(w, http.StatusOK, registerInputResponse{
		AliceId:     resp.AliceId,
		credentials: credentials{}.fromApp(resp.Credentials),
	})
}

func (h *roundHandler) RemoveInput(
	w http.ResponseWriter, r *http.Request, params map[string]string,
) {
	roundId, aliceId, err := parseAliceParams(params)
	if err != nil {
		WriteError(w, invalidRequest(err))
		return
	}

	if err := h.svc.RemoveInput(r.Context(), roundId, aliceId); err != nil {
		WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, emptyResponse{})
}

func (h *roundHandler) ConfirmConnection(
	w http.ResponseWriter, r *http.Request, params map[string]string,
) {
	roundId, aliceId, err := parseAliceParams(params)
	if err != nil {
		WriteError(w, invalidRequest(err))
		return
	}
	var req confirmConnectionRequest
	if err := parseBody(r, &req); err != nil {
		WriteError(w, invalidRequest(err))
		return
	}

	resp, svcErr := h.svc.ConfirmConnection(
		r.Context(), roundId, aliceId,
		withKind(req.AmountReq, ports.CredentialKindAmount),
		withKind(req.VsizeReq, ports.CredentialKindVsize),
	)
	if svcErr != nil {
		WriteError(w, svcErr)
		return
	}

	writeJSON(w, http.StatusOK, confirmConnectionResponse{
		Confirmed:   resp.Confirmed,
		credentials: credentials{}.fromApp(resp.Credentials),
	})
}

func (h *roundHandler) RegisterOutput(
	w http.ResponseWriter, r *http.Request, params map[string]string,
) {
	roundId, err := parseRoundId(params["round_id"])
	if err != nil {
		WriteError(w, invalidRequest(err))
		return
	}
	var req registerOutputRequest
	if err := parseBody(r, &req); err != nil {
		WriteError(w, invalidRequest(err))
		return
	}
	script, err := parseHex(req.Script, "output script")
	if err != nil {
		WriteError(w, invalidRequest(err))
		return
	}
	amountCreds, err := parseCredentials(req.AmountCredentials, ports.CredentialKindAmount)
	if err != nil {
		WriteError(w, invalidRequest(err))
		return
	}
	vsizeCreds, err := parseCredentials(req.VsizeCredentials, ports.CredentialKindVsize)
	if err != nil {
		WriteError(w, invalidRequest(err))
		return
	}

	resp, svcErr := h.svc.RegisterOutput(r.Context(), roundId, script, amountCreds, vsizeCreds)
	if svcErr != nil {
		WriteError(w, svcErr)
		return
	}

	writeJSON(w, http.StatusOK, registerOutputResponse{Amount: resp.Amount})
}

func (h *roundHandler) ReissueCredentials(
	w http.ResponseWriter, r *http.Request, params map[string]string,
) {
	roundId, err := parseRoundId(params["round_id"])
	if err != nil {
		WriteError(w, invalidRequest(err))
		return
	}
	var req reissueCredentialsRequest
	if err := parseBody(r, &req); err != nil {
		WriteError(w, invalidRequest(err))
		return
	}

	resp, svcErr := h.svc.ReissueCredentials(
		r.Context(), roundId,
		withKind(req.AmountReq, ports.CredentialKindAmount),
		withKind(req.VsizeReq, ports.CredentialKindVsize),
	)
	if svcErr != nil {
		WriteError(w, svcErr)
		return
	}

	writeJSON(w, http.StatusOK, credentials{}.fromApp(*resp))
}

func (h *roundHandler) SignalReadyToSign(
	w http.ResponseWriter, r *http.Request, params map[string]string,
) {
	roundId, aliceId, err := parseAliceParams(params)
	if err != nil {
		WriteError(w, invalidRequest(err))
		return
	}

	if err := h.svc.SignalReadyToSign(r.Context(), roundId, aliceId); err != nil {
		WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, emptyResponse{})
}

func (h *roundHandler) SignTransaction(
	w http.ResponseWriter, r *http.Request, params map[string]string,
) {
	roundId, aliceId, err := parseAliceParams(params)
	if err != nil {
		WriteError(w, invalidRequest(err))
		return
	}
	var req signTransactionRequest
	if err := parseBody(r, &req); err != nil {
		WriteError(w, invalidRequest(err))
		return
	}
	witness, err := parseWitness(req.Witness)
	if err != nil {
		WriteError(w, invalidRequest(err))
		return
	}

	if err := h.svc.SignTransaction(r.Context(), roundId, aliceId, witness); err != nil {
		WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, emptyResponse{})
}

func (h *roundHandler) GetRoundState(
	w http.ResponseWriter, r *http.Request, params map[string]string,
) {
	roundId, err := parseRoundId(params["round_id"])
	if err != nil {
		WriteError(w, invalidRequest(err))
		return
	}

	state, svcErr := h.svc.GetRoundState(r.Context(), roundId)
	if svcErr != nil {
		WriteError(w, svcErr)
		return
	}

	writeJSON(w, http.StatusOK, roundState{}.fromPorts(*state))
}

func (h *roundHandler) GetStatus(
	w http.ResponseWriter, r *http.Request, _ map[string]string,
) {
	states, err := h.svc.GetStatus(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}

	rounds := make([]roundState, 0, len(states))
	for _, state := range states {
		rounds = append(rounds, roundState{}.fromPorts(state))
	}
	writeJSON(w, http.StatusOK, getStatusResponse{rounds})
}

func (h *roundHandler) GetUnsignedTransaction(
	w http.ResponseWriter, r *http.Request, params map[string]string,
) {
	roundId, err := parseRoundId(params["round_id"])
	if err != nil {
		WriteError(w, invalidRequest(err))
		return
	}

	tx, svcErr := h.svc.GetUnsignedTransaction(r.Context(), roundId)
	if svcErr != nil {
		WriteError(w, svcErr)
		return
	}

	writeJSON(w, http.StatusOK, unsignedTransactionResponse{
		Txid:       tx.Txid,
		UnsignedTx: tx.UnsignedTx,
		Psbt:       tx.Psbt,
	})
}

func parseAliceParams(params map[string]string) (string, string, error) {
	roundId, err := parseRoundId(params["round_id"])
	if err != nil {
		return "", "", err
	}
	aliceId, err := parseAliceId(params["alice_id"])
	if err != nil {
		return "", "", err
	}
	return roundId, aliceId, nil
}
