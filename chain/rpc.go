package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"spinvault/apperrors"
)

// RPCClient talks JSON-RPC to a chain node.
type RPCClient struct {
	endpoint string
	vault    string
	http     *http.Client
}

// NewRPCClient creates a chain client against the given JSON-RPC endpoint.
// vault is the custodial wallet address withdrawals are sent from.
func NewRPCClient(endpoint, vault string) *RPCClient {
	return &RPCClient{
		endpoint: endpoint,
		vault:    vault,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *RPCClient) call(ctx context.Context, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindExternal, "chain_unavailable", "chain rpc request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperrors.Wrap(fmt.Errorf("status %d", resp.StatusCode),
			apperrors.KindExternal, "chain_unavailable", "chain rpc returned non-200")
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode rpc response: %w", err)
	}
	if envelope.Error != nil {
		return apperrors.Wrap(fmt.Errorf("rpc error %d: %s", envelope.Error.Code, envelope.Error.Message),
			apperrors.KindExternal, "chain_rpc_error", envelope.Error.Message)
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("failed to unmarshal rpc result: %w", err)
		}
	}
	return nil
}

// SignatureStatus returns the confirmation state of a transaction signature.
func (c *RPCClient) SignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	var result struct {
		Value []*struct {
			Confirmations      *int64 `json:"confirmations"`
			ConfirmationStatus string `json:"confirmationStatus"`
			Err                any    `json:"err"`
		} `json:"value"`
	}
	params := []any{[]string{signature}, map[string]bool{"searchTransactionHistory": true}}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return nil, err
	}

	if len(result.Value) == 0 || result.Value[0] == nil {
		// Unknown signature: not yet observed by the node.
		return &SignatureStatus{}, nil
	}

	status := result.Value[0]
	out := &SignatureStatus{
		Finalized: status.ConfirmationStatus == "finalized",
		Failed:    status.Err != nil,
	}
	if status.Confirmations != nil {
		out.Confirmations = *status.Confirmations
	} else if out.Finalized {
		// Finalized transactions no longer report a running count.
		out.Confirmations = 32
	}
	return out, nil
}

// TransferInfo decodes the token transfer carried by a transaction.
func (c *RPCClient) TransferInfo(ctx context.Context, signature string) (*TransferInfo, error) {
	var result struct {
		Transfer struct {
			Source      string `json:"source"`
			Destination string `json:"destination"`
			Amount      int64  `json:"amount,string"`
		} `json:"transfer"`
	}
	params := []any{signature, map[string]string{"encoding": "jsonParsed"}}
	if err := c.call(ctx, "getTransaction", params, &result); err != nil {
		return nil, err
	}
	return &TransferInfo{
		From:   result.Transfer.Source,
		To:     result.Transfer.Destination,
		Amount: result.Transfer.Amount,
	}, nil
}

// SubmitTransfer broadcasts a vault-to-recipient transfer and returns its
// signature. Signing happens inside the node-adjacent signer service that
// fronts this endpoint; the settlement engine never holds the vault key.
func (c *RPCClient) SubmitTransfer(ctx context.Context, recipient string, amount int64) (string, error) {
	var signature string
	params := []any{map[string]any{
		"from":   c.vault,
		"to":     recipient,
		"amount": amount,
	}}
	if err := c.call(ctx, "submitTransfer", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}
