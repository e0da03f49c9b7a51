package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"trustlance/core"
	"trustlance/core/types"
	"trustlance/native/bank"
	"trustlance/native/common"
	"trustlance/native/escrow"
)

type escrowCallParams struct {
	Call *types.Call `json:"call"`
}

type escrowIDParams struct {
	ID uint64 `json:"id"`
}

type escrowPartyParams struct {
	Party string `json:"party"`
}

type escrowCreateResult struct {
	ID uint64 `json:"id"`
}

type escrowOKResult struct {
	OK bool `json:"ok"`
}

type escrowStatusResult struct {
	ID      uint64 `json:"id"`
	Status  string `json:"status"`
	Settled bool   `json:"settled"`
}

type escrowCountResult struct {
	Count uint64 `json:"count"`
}

type escrowListResult struct {
	Party   string       `json:"party"`
	Escrows []escrowJSON `json:"escrows"`
}

type escrowJSON struct {
	ID         uint64 `json:"id"`
	Client     string `json:"client"`
	Freelancer string `json:"freelancer"`
	Amount     string `json:"amount"`
	Asset      string `json:"asset"`
	Status     string `json:"status"`
	Settled    bool   `json:"settled"`
	Deadline   uint64 `json:"deadline"`
	CreatedAt  uint64 `json:"createdAt"`
	Metadata   string `json:"metadata"`
}

func formatEscrowJSON(esc *escrow.Escrow) escrowJSON {
	out := escrowJSON{
		ID:         esc.ID,
		Client:     esc.Client.String(),
		Freelancer: esc.Freelancer.String(),
		Amount:     "0",
		Asset:      esc.Asset,
		Status:     esc.Status.String(),
		Settled:    esc.Status.Terminal(),
		Deadline:   esc.Deadline,
		CreatedAt:  esc.CreatedAt,
		Metadata:   esc.Metadata,
	}
	if esc.Amount != nil {
		out.Amount = esc.Amount.String()
	}
	if out.Asset == escrow.NativeAsset {
		out.Asset = "native"
	}
	return out
}

// handleEscrowCall executes a signed state-changing call. The RPC method
// must match the method the call was signed for.
func (s *Server) handleEscrowCall(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowCallParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if params.Call == nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "call required")
		return
	}
	if params.Call.Method != req.Method {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "signed method does not match request method")
		return
	}
	res, err := s.node.Execute(r.Context(), params.Call)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	if req.Method == types.MethodCreate {
		writeResult(w, req.ID, escrowCreateResult{ID: res.EscrowID})
		return
	}
	writeResult(w, req.ID, escrowOKResult{OK: true})
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowIDParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	esc, err := s.node.Escrow(params.ID)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
}

func (s *Server) handleEscrowStatus(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowIDParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	status, err := s.node.EscrowStatus(params.ID)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowStatusResult{ID: params.ID, Status: status.String(), Settled: status.Terminal()})
}

func (s *Server) handleEscrowCount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if rpcErr := requireNoParams(req); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	count, err := s.node.EscrowCount()
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowCountResult{Count: count})
}

func (s *Server) handleEscrowListByParty(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowPartyParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	party, err := parseAddress(params.Party)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	list, err := s.node.EscrowsByParty(party)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	out := escrowListResult{Party: party.String(), Escrows: make([]escrowJSON, 0, len(list))}
	for _, esc := range list {
		out.Escrows = append(out.Escrows, formatEscrowJSON(esc))
	}
	writeResult(w, req.ID, out)
}

var escrowErrorNames = map[uint32]string{
	1:  "not_found",
	2:  "unauthorized",
	3:  "invalid_amount",
	4:  "invalid_deadline",
	5:  "already_funded",
	6:  "not_funded",
	7:  "already_released",
	8:  "deadline_not_passed",
	9:  "invalid_status",
	10: "overflow",
	11: "invalid_metadata",
	12: "invalid_party",
}

func escrowHTTPStatus(code uint32) int {
	switch code {
	case 1:
		return http.StatusNotFound
	case 2:
		return http.StatusForbidden
	case 5, 6, 7, 8, 9:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func writeEscrowError(w http.ResponseWriter, id json.RawMessage, err error) {
	if err == nil {
		return
	}
	data := map[string]interface{}{"reason": err.Error()}
	switch {
	case errors.Is(err, types.ErrInvalidParams), errors.Is(err, types.ErrUnsigned),
		errors.Is(err, types.ErrBadSignature), errors.Is(err, types.ErrUnknownMethod),
		errors.Is(err, core.ErrNilCall):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, "invalid_params", data)
	case errors.Is(err, core.ErrWrongNetwork):
		writeError(w, http.StatusBadRequest, id, codeWrongNetwork, "wrong_network", data)
	case errors.Is(err, core.ErrNonceMismatch):
		writeError(w, http.StatusConflict, id, codeNonceMismatch, "nonce_mismatch", data)
	case errors.Is(err, core.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, id, codeUnauthorized, "not_authorized", data)
	case errors.Is(err, bank.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, id, codeInsufficientBalance, "insufficient_balance", data)
	case errors.Is(err, common.ErrModulePaused):
		writeError(w, http.StatusServiceUnavailable, id, codeModulePaused, "module_paused", data)
	default:
		code := escrow.Code(err)
		if code == 0 {
			writeError(w, http.StatusInternalServerError, id, codeServerError, "internal_error", data)
			return
		}
		data["escrowCode"] = code
		writeError(w, escrowHTTPStatus(code), id, codeEscrowBase-int(code), escrowErrorNames[code], data)
	}
}
