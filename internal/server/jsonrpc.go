package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/yield-vault/aavevault/internal/protocol"
)

type jsonRPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

const (
	rpcParseError     = -32700
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcVaultError     = -32000
)

// rpcReceipt is the result of a state-changing call
type rpcReceipt struct {
	ReceiptID string       `json:"receiptId"`
	Amount    *hexutil.Big `json:"amount"`
	Shares    *hexutil.Big `json:"shares"`
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var req jsonRPCRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, jsonRPCResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: rpcParseError, Message: err.Error()},
		})
		return
	}

	result, rpcErr := s.dispatch(r.Context(), req)
	writeJSON(w, http.StatusOK, jsonRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		Error:   rpcErr,
		ID:      req.ID,
	})
}

func (s *Server) dispatch(ctx context.Context, req jsonRPCRequest) (interface{}, *rpcError) {
	switch req.Method {
	case "vault_totalAssets":
		total, err := s.vault.TotalAssets(ctx)
		if err != nil {
			return nil, vaultRPCError(err)
		}
		return toHex(total), nil

	case "vault_totalShares":
		total, err := s.vault.TotalShares()
		if err != nil {
			return nil, vaultRPCError(err)
		}
		return toHex(total), nil

	case "vault_balanceOf":
		var holder common.Address
		if err := param(req, 0, &holder); err != nil {
			return nil, err
		}
		shares, err := s.vault.BalanceOf(holder)
		if err != nil {
			return nil, vaultRPCError(err)
		}
		return toHex(shares), nil

	case "vault_convertToShares":
		amount, rpcErr := amountParam(req, 0)
		if rpcErr != nil {
			return nil, rpcErr
		}
		shares, err := s.vault.ConvertToShares(ctx, amount)
		if err != nil {
			return nil, vaultRPCError(err)
		}
		return toHex(shares), nil

	case "vault_convertToAssets":
		shares, rpcErr := amountParam(req, 0)
		if rpcErr != nil {
			return nil, rpcErr
		}
		assets, err := s.vault.ConvertToAssets(ctx, shares)
		if err != nil {
			return nil, vaultRPCError(err)
		}
		return toHex(assets), nil

	case "vault_depositFor":
		var from common.Address
		if err := param(req, 0, &from); err != nil {
			return nil, err
		}
		amount, rpcErr := amountParam(req, 1)
		if rpcErr != nil {
			return nil, rpcErr
		}
		res, err := s.vault.DepositFor(ctx, from, amount)
		if err != nil {
			return nil, vaultRPCError(err)
		}
		return rpcReceipt{ReceiptID: res.Receipt.ID.String(), Amount: toHex(res.Amount), Shares: toHex(res.Shares)}, nil

	case "vault_redeemFor":
		var from, recipient common.Address
		if err := param(req, 0, &from); err != nil {
			return nil, err
		}
		shares, rpcErr := amountParam(req, 1)
		if rpcErr != nil {
			return nil, rpcErr
		}
		if err := param(req, 2, &recipient); err != nil {
			return nil, err
		}
		res, err := s.vault.RedeemFor(ctx, from, shares, recipient)
		if err != nil {
			return nil, vaultRPCError(err)
		}
		return rpcReceipt{ReceiptID: res.Receipt.ID.String(), Amount: toHex(res.Amount), Shares: toHex(res.Shares)}, nil

	case "vault_owner":
		return s.vault.Owner(), nil

	case "vault_asset":
		return s.vault.Asset(), nil

	case "vault_decimals":
		return hexutil.Uint64(s.vault.Decimals()), nil
	}
	return nil, &rpcError{Code: rpcMethodNotFound, Message: "method not found: " + req.Method}
}

func param(req jsonRPCRequest, i int, dst interface{}) *rpcError {
	if i >= len(req.Params) {
		return &rpcError{Code: rpcInvalidParams, Message: fmt.Sprintf("missing parameter %d", i)}
	}
	if err := json.Unmarshal(req.Params[i], dst); err != nil {
		return &rpcError{Code: rpcInvalidParams, Message: fmt.Sprintf("invalid parameter %d: %v", i, err)}
	}
	return nil
}

func amountParam(req jsonRPCRequest, i int) (*uint256.Int, *rpcError) {
	var raw hexutil.Big
	if err := param(req, i, &raw); err != nil {
		return nil, err
	}
	amount, overflow := uint256.FromBig((*big.Int)(&raw))
	if overflow {
		return nil, &rpcError{Code: rpcInvalidParams, Message: fmt.Sprintf("parameter %d exceeds 256 bits", i)}
	}
	return amount, nil
}

func toHex(v *uint256.Int) *hexutil.Big {
	return (*hexutil.Big)(v.ToBig())
}

func vaultRPCError(err error) *rpcError {
	e := &rpcError{Code: rpcVaultError, Message: err.Error()}
	if ve, ok := protocol.AsVaultError(err); ok {
		e.Data = map[string]string{"code": ve.Code, "precondition": string(ve.Precondition)}
	}
	return e
}
