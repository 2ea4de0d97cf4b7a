package handlers

import (
	"net/http"

	"github.com/arkade-os/cjd/internal/core/application"
	"github.com/arkade-os/cjd/internal/core/domain"
)

type adminHandler struct {
	adminService application.AdminService
}

func NewAdminHandler(adminService application.AdminService) []Route {
	h := &adminHandler{adminService}
	return []Route{
		{http.MethodGet, "/v1/admin/offenders", h.GetOffenders},
		{http.MethodGet, "/v1/admin/rounds", h.GetRoundIds},
		{http.MethodGet, "/v1/admin/rounds/{round_id}/history", h.GetRoundHistory},
		{http.MethodGet, "/v1/admin/txs/{txid}", h.GetArchivedTx},
	}
}

func (a *adminHandler) GetOffenders(
	w http.ResponseWriter, r *http.Request, _ map[string]string,
) {
	var outpoint *domain.Outpoint
	if value := r.URL.Query().Get("outpoint"); value != "" {
		op, err := parseOutpoint(value)
		if err != nil {
			WriteError(w, invalidRequest(err))
			return
		}
		outpoint = op
	}

	banned, err := a.adminService.GetOffenders(r.Context(), outpoint)
	if err != nil {
		WriteError(w, err)
		return
	}

	offenders := make([]bannedInput, 0, len(banned))
	for _, b := range banned {
		offenders = append(offenders, bannedInput{
			Offender:    b.Offender,
			BannedUntil: unixOrZero(b.BannedUntil),
			IsActive:    b.IsActive,
		})
	}
	writeJSON(w, http.StatusOK, getOffendersResponse{offenders})
}

func (a *adminHandler) GetRoundIds(
	w http.ResponseWriter, r *http.Request, _ map[string]string,
) {
	after, err := parseTimestamp(r, "after")
	if err != nil {
		WriteError(w, invalidRequest(err))
		return
	}
	before, err := parseTimestamp(r, "before")
	if err != nil {
		WriteError(w, invalidRequest(err))
		return
	}

	ids, svcErr := a.adminService.GetRoundIds(r.Context(), after, before)
	if svcErr != nil {
		WriteError(w, svcErr)
		return
	}

	writeJSON(w, http.StatusOK, getRoundIdsResponse{ids})
}

func (a *adminHandler) GetRoundHistory(
	w http.ResponseWriter, r *http.Request, params map[string]string,
) {
	roundId, err := parseRoundId(params["round_id"])
	if err != nil {
		WriteError(w, invalidRequest(err))
		return
	}

	history, svcErr := a.adminService.GetRoundHistory(r.Context(), roundId)
	if svcErr != nil {
		WriteError(w, svcErr)
		return
	}

	writeJSON(w, http.StatusOK, roundHistoryResponse{}.fromApp(*history))
}

func (a *adminHandler) GetArchivedTx(
	w http.ResponseWriter, r *http.Request, params map[string]string,
) {
	txid, err := parseTxid(params["txid"])
	if err != nil {
		WriteError(w, invalidRequest(err))
		return
	}

	tx, svcErr := a.adminService.GetArchivedTx(r.Context(), txid)
	if svcErr != nil {
		WriteError(w, svcErr)
		return
	}

	writeJSON(w, http.StatusOK, archivedTxResponse{
		Txid:      tx.Txid,
		RawTx:     tx.RawTx,
		CreatedAt: unixOrZero(tx.CreatedAt),
	})
}
