package rpc

import (
	"net/http"

	"trustlance/core/genesis"
)

type ledgerAccountParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset,omitempty"`
}

type ledgerMintParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset,omitempty"`
	Amount  string `json:"amount"`
}

type BalanceResponse struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

type NonceResponse struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
}

type CustodyResponse struct {
	Address string `json:"address"`
}

func assetLabel(asset string) string {
	if asset == "" {
		return "native"
	}
	return asset
}

func (s *Server) handleLedgerBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params ledgerAccountParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	asset := genesis.NormalizeAsset(params.Asset)
	balance, err := s.node.Balance(addr, asset)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, BalanceResponse{Address: addr.String(), Asset: assetLabel(asset), Balance: balance.String()})
}

func (s *Server) handleLedgerNonce(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params ledgerAccountParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	nonce, err := s.node.Nonce(addr)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, NonceResponse{Address: addr.String(), Nonce: nonce})
}

func (s *Server) handleLedgerCustody(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if rpcErr := requireNoParams(req); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, CustodyResponse{Address: s.node.Custody().String()})
}

func (s *Server) handleLedgerMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params ledgerMintParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	asset := genesis.NormalizeAsset(params.Asset)
	if err := s.node.Mint(addr, asset, amount); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	balance, err := s.node.Balance(addr, asset)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	s.logger.Info("admin mint", "method", req.Method, "asset", assetLabel(asset), "amount", amount.String())
	writeResult(w, req.ID, BalanceResponse{Address: addr.String(), Asset: assetLabel(asset), Balance: balance.String()})
}
